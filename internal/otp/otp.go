package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"smilecert/internal/metrics"
	"smilecert/internal/models"
	"smilecert/internal/ratelimit"
	"smilecert/internal/repository"
	"smilecert/internal/utils"
)

const DefaultTTL = 10 * time.Minute

// RateLimitedError is returned when the limiter rejects an attempt. It is
// the only failure that tells the caller anything about its state.
type RateLimitedError struct {
	Kind      ratelimit.Kind
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many %s attempts, retry after %s", e.Kind, e.ResetAt.UTC().Format(time.RFC3339))
}

// RetryAfter is the wait until ResetAt, never negative.
func (e *RateLimitedError) RetryAfter(now time.Time) time.Duration {
	if d := e.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type CodeStore interface {
	Create(ctx context.Context, c *models.VerificationCode) error
	FindActive(ctx context.Context, email string, now time.Time) ([]models.VerificationCode, error)
	Consume(ctx context.Context, id string, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Options struct {
	TTL        time.Duration
	BcryptCost int
	Now        func() time.Time
	Generate   func() (string, error)
	Logger     *slog.Logger
}

type Service struct {
	codes    CodeStore
	limiter  ratelimit.Limiter
	ttl      time.Duration
	cost     int
	now      func() time.Time
	generate func() (string, error)
	log      *slog.Logger
}

func NewService(codes CodeStore, limiter ratelimit.Limiter, opts Options) *Service {
	s := &Service{
		codes:    codes,
		limiter:  limiter,
		ttl:      opts.TTL,
		cost:     opts.BcryptCost,
		now:      opts.Now,
		generate: opts.Generate,
		log:      opts.Logger,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.generate == nil {
		s.generate = func() (string, error) { return utils.GenerateNumericOTP(utils.OTPLength) }
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Service) TTL() time.Duration { return s.ttl }

func (s *Service) admit(ctx context.Context, email string, kind ratelimit.Kind) error {
	d, err := s.limiter.Check(ctx, email, kind)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !d.Allowed {
		metrics.RateLimited.WithLabelValues(string(kind)).Inc()
		return &RateLimitedError{Kind: kind, Remaining: d.Remaining, ResetAt: d.ResetAt}
	}
	return nil
}

// Generate issues a new code for email. Earlier unexpired codes stay valid.
func (s *Service) Generate(ctx context.Context, email string) (string, error) {
	email = models.NormalizeEmail(email)
	if err := s.admit(ctx, email, ratelimit.KindRequest); err != nil {
		return "", err
	}

	code, err := s.generate()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}

	rec := &models.VerificationCode{
		Email:     email,
		CodeHash:  string(hash),
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	if err := s.codes.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	metrics.CodesIssued.Inc()
	return code, nil
}

// Verify consumes a matching unexpired code. A wrong, expired or already
// used code all yield false with a nil error.
func (s *Service) Verify(ctx context.Context, email, code string) (bool, error) {
	email = models.NormalizeEmail(email)
	if err := s.admit(ctx, email, ratelimit.KindVerify); err != nil {
		return false, err
	}
	if !utils.IsNumericOTP(code, utils.OTPLength) {
		metrics.Verifications.WithLabelValues("invalid").Inc()
		return false, nil
	}

	now := s.now().UTC()
	candidates, err := s.codes.FindActive(ctx, email, now)
	if err != nil {
		metrics.Verifications.WithLabelValues("error").Inc()
		return false, fmt.Errorf("load codes: %w", err)
	}
	for _, c := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) != nil {
			continue
		}
		err := s.codes.Consume(ctx, c.ID, now)
		if errors.Is(err, repository.ErrNotFound) {
			// Consumed concurrently or expired since the lookup.
			continue
		}
		if err != nil {
			metrics.Verifications.WithLabelValues("error").Inc()
			return false, fmt.Errorf("consume code: %w", err)
		}
		metrics.Verifications.WithLabelValues("success").Inc()
		return true, nil
	}
	metrics.Verifications.WithLabelValues("invalid").Inc()
	return false, nil
}

// PurgeExpired removes codes that can no longer verify.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.codes.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired codes: %w", err)
	}
	if n > 0 {
		s.log.Debug("purged expired verification codes", "count", n)
	}
	return n, nil
}
