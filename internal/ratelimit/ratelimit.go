package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smilecert/internal/config"
)

// Kind names the operation an attempt is counted against.
type Kind string

const (
	KindRequest Kind = "request"
	KindVerify  Kind = "verify"
)

type Policy struct {
	Max    int
	Window time.Duration
}

type Policies map[Kind]Policy

// DefaultPolicies: three code requests and five verification attempts per
// email every fifteen minutes.
func DefaultPolicies() Policies {
	return Policies{
		KindRequest: {Max: 3, Window: 15 * time.Minute},
		KindVerify:  {Max: 5, Window: 15 * time.Minute},
	}
}

func PoliciesFromConfig(cfg config.RateLimitConfig) Policies {
	return Policies{
		KindRequest: {Max: cfg.RequestMax, Window: cfg.RequestWindow},
		KindVerify:  {Max: cfg.VerifyMax, Window: cfg.VerifyWindow},
	}
}

type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter admits or rejects one attempt for (email, kind). An admitted
// attempt is recorded; a rejected one is not.
type Limiter interface {
	Check(ctx context.Context, email string, kind Kind) (Decision, error)
}

func (p Policies) lookup(kind Kind) (Policy, error) {
	pol, ok := p[kind]
	if !ok || pol.Max <= 0 || pol.Window <= 0 {
		return Policy{}, fmt.Errorf("ratelimit: no policy for kind %q", kind)
	}
	return pol, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func remaining(limit, count int, allowed bool) int {
	r := limit - count
	if allowed {
		r--
	}
	if r < 0 {
		return 0
	}
	return r
}
