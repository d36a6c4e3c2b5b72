package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const TeethPerSide = 8

var ErrInvalidDentalFormula = errors.New("invalid dental formula")

// Jaw holds per-tooth flags for one jaw, indexed from the midline outwards.
type Jaw struct {
	Left  [TeethPerSide]bool `json:"left"`
	Right [TeethPerSide]bool `json:"right"`
}

type DentalFormula struct {
	Top    Jaw `json:"top"`
	Bottom Jaw `json:"bottom"`
}

type rawJaw struct {
	Left  []bool `json:"left"`
	Right []bool `json:"right"`
}

type rawFormula struct {
	Top    *rawJaw `json:"top"`
	Bottom *rawJaw `json:"bottom"`
}

// ParseDentalFormula decodes the form value. Blank input yields the empty
// formula; missing quadrants are all-false; a present quadrant must list
// exactly eight booleans.
func ParseDentalFormula(s string) (DentalFormula, error) {
	var out DentalFormula
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	var raw rawFormula
	if err := dec.Decode(&raw); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidDentalFormula, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return out, fmt.Errorf("%w: trailing data", ErrInvalidDentalFormula)
	}

	var err error
	if out.Top, err = raw.Top.toJaw("top"); err != nil {
		return DentalFormula{}, err
	}
	if out.Bottom, err = raw.Bottom.toJaw("bottom"); err != nil {
		return DentalFormula{}, err
	}
	return out, nil
}

func (r *rawJaw) toJaw(name string) (Jaw, error) {
	var j Jaw
	if r == nil {
		return j, nil
	}
	if err := fill(&j.Left, r.Left, name+".left"); err != nil {
		return Jaw{}, err
	}
	if err := fill(&j.Right, r.Right, name+".right"); err != nil {
		return Jaw{}, err
	}
	return j, nil
}

func fill(dst *[TeethPerSide]bool, src []bool, path string) error {
	if src == nil {
		return nil
	}
	if len(src) != TeethPerSide {
		return fmt.Errorf("%w: %s must have %d entries, got %d", ErrInvalidDentalFormula, path, TeethPerSide, len(src))
	}
	copy(dst[:], src)
	return nil
}

// Count returns how many teeth are flagged.
func (f DentalFormula) Count() int {
	n := 0
	for _, side := range [][TeethPerSide]bool{f.Top.Left, f.Top.Right, f.Bottom.Left, f.Bottom.Right} {
		for _, v := range side {
			if v {
				n++
			}
		}
	}
	return n
}
