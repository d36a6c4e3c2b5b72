package certificates

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"smilecert/internal/models"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrFileInUse    = errors.New("file is attached to a certificate")
)

// UploadFailedError aborts a mutation when object storage rejects a file.
type UploadFailedError struct {
	Reason string
	Err    error
}

func (e *UploadFailedError) Error() string {
	return "upload failed: " + e.Reason
}

func (e *UploadFailedError) Unwrap() error { return e.Err }

// Upload is one file from a form. Body is read once.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Details are the free-text certificate fields.
type Details struct {
	DoctorFirstName     string
	DoctorLastName      string
	ClinicName          string
	ClinicCity          string
	TechnicianFirstName string
	TechnicianLastName  string
	MaterialType        string
	MaterialColor       string
	FixationType        string
	FixationColor       string
}

// Owner identifies the patient a certificate belongs to. The user is
// created or refreshed by email.
type Owner struct {
	Email     string
	FirstName string
	LastName  string
}

type CreateInput struct {
	Title            string
	InstallationDate string
	Details          Details
	DentalFormula    string
	Owner            *Owner
	SmilePhoto       *Upload
	DigitalCopy      *Upload
}

// UpdateInput changes only the non-nil fields. A nil upload keeps the
// current file.
type UpdateInput struct {
	Title            *string
	InstallationDate *string
	Details          DetailsPatch
	DentalFormula    *string
	Owner            *Owner
	SmilePhoto       *Upload
	DigitalCopy      *Upload
}

type DetailsPatch struct {
	DoctorFirstName     *string
	DoctorLastName      *string
	ClinicName          *string
	ClinicCity          *string
	TechnicianFirstName *string
	TechnicianLastName  *string
	MaterialType        *string
	MaterialColor       *string
	FixationType        *string
	FixationColor       *string
}

func (p DetailsPatch) apply(c *models.Certificate) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&c.DoctorFirstName, p.DoctorFirstName)
	set(&c.DoctorLastName, p.DoctorLastName)
	set(&c.ClinicName, p.ClinicName)
	set(&c.ClinicCity, p.ClinicCity)
	set(&c.TechnicianFirstName, p.TechnicianFirstName)
	set(&c.TechnicianLastName, p.TechnicianLastName)
	set(&c.MaterialType, p.MaterialType)
	set(&c.MaterialColor, p.MaterialColor)
	set(&c.FixationType, p.FixationType)
	set(&c.FixationColor, p.FixationColor)
}

func (d Details) apply(c *models.Certificate) {
	c.DoctorFirstName = strings.TrimSpace(d.DoctorFirstName)
	c.DoctorLastName = strings.TrimSpace(d.DoctorLastName)
	c.ClinicName = strings.TrimSpace(d.ClinicName)
	c.ClinicCity = strings.TrimSpace(d.ClinicCity)
	c.TechnicianFirstName = strings.TrimSpace(d.TechnicianFirstName)
	c.TechnicianLastName = strings.TrimSpace(d.TechnicianLastName)
	c.MaterialType = strings.TrimSpace(d.MaterialType)
	c.MaterialColor = strings.TrimSpace(d.MaterialColor)
	c.FixationType = strings.TrimSpace(d.FixationType)
	c.FixationColor = strings.TrimSpace(d.FixationColor)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04"}

// ParseInstallationDate accepts a calendar date or an RFC 3339 timestamp.
func ParseInstallationDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, invalid("installation date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid("installation date %q is not a date", s)
}

func (s *Service) checkUpload(u *Upload, label string, required bool) error {
	if u == nil || u.Body == nil || u.Size == 0 {
		if required {
			return invalid("%s is required", label)
		}
		return nil
	}
	if u.Size < 0 {
		return invalid("%s has an unknown size", label)
	}
	if s.maxUpload > 0 && u.Size > s.maxUpload {
		return invalid("%s exceeds %d bytes", label, s.maxUpload)
	}
	return nil
}

func present(u *Upload) bool {
	return u != nil && u.Body != nil && u.Size > 0
}

func checkOwner(o *Owner) (*Owner, error) {
	if o == nil {
		return nil, nil
	}
	out := &Owner{
		Email:     models.NormalizeEmail(o.Email),
		FirstName: strings.TrimSpace(o.FirstName),
		LastName:  strings.TrimSpace(o.LastName),
	}
	if out.Email == "" && out.FirstName == "" && out.LastName == "" {
		return nil, nil
	}
	if !models.ValidEmail(out.Email) {
		return nil, invalid("owner email %q is not valid", o.Email)
	}
	return out, nil
}

type createPlan struct {
	cert  models.Certificate
	owner *Owner
}

func (s *Service) validateCreate(in CreateInput) (*createPlan, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	date, err := ParseInstallationDate(in.InstallationDate)
	if err != nil {
		return nil, err
	}
	formula, err := models.ParseDentalFormula(in.DentalFormula)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.checkUpload(in.SmilePhoto, "smile photo", true); err != nil {
		return nil, err
	}
	if err := s.checkUpload(in.DigitalCopy, "digital copy", true); err != nil {
		return nil, err
	}
	owner, err := checkOwner(in.Owner)
	if err != nil {
		return nil, err
	}

	plan := &createPlan{owner: owner}
	plan.cert.Title = title
	plan.cert.InstallationDate = date
	plan.cert.DentalFormula = formula
	in.Details.apply(&plan.cert)
	return plan, nil
}

// validateUpdate returns cur with the patch applied, leaving cur untouched.
func (s *Service) validateUpdate(cur models.Certificate, in UpdateInput) (models.Certificate, *Owner, error) {
	next := cur
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return next, nil, invalid("title cannot be empty")
		}
		next.Title = title
	}
	if in.InstallationDate != nil {
		date, err := ParseInstallationDate(*in.InstallationDate)
		if err != nil {
			return next, nil, err
		}
		next.InstallationDate = date
	}
	if in.DentalFormula != nil {
		formula, err := models.ParseDentalFormula(*in.DentalFormula)
		if err != nil {
			return next, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		next.DentalFormula = formula
	}
	in.Details.apply(&next)

	if err := s.checkUpload(in.SmilePhoto, "smile photo", false); err != nil {
		return next, nil, err
	}
	if err := s.checkUpload(in.DigitalCopy, "digital copy", false); err != nil {
		return next, nil, err
	}
	owner, err := checkOwner(in.Owner)
	if err != nil {
		return next, nil, err
	}
	return next, owner, nil
}
