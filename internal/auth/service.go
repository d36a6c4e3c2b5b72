package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"

	"smilecert/internal/models"
	"smilecert/internal/otp"
	"smilecert/internal/utils"
)

var (
	// ErrInvalidCredential covers wrong, expired and already used codes alike.
	ErrInvalidCredential = errors.New("invalid or expired code")
	ErrInvalidEmail      = errors.New("invalid email address")
)

// Subject is the signed-in identity handed to the token layer.
type Subject struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name"`
	Role  models.Role `json:"role"`
}

func (s Subject) IsAdmin() bool { return s.Role == models.RoleAdmin }

// Redirect is where the client lands after signing in.
func (s Subject) Redirect() string {
	if s.IsAdmin() {
		return "/certificates"
	}
	return "/dashboard"
}

type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindOrCreate(ctx context.Context, email string, role models.Role) (*models.User, bool, error)
	SetRole(ctx context.Context, id string, role models.Role) error
}

type Service struct {
	codes      *otp.Service
	users      UserStore
	mailer     utils.Mailer
	adminEmail string
	log        *slog.Logger
}

func NewService(codes *otp.Service, users UserStore, mailer utils.Mailer, adminEmail string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		codes:      codes,
		users:      users,
		mailer:     mailer,
		adminEmail: models.NormalizeEmail(adminEmail),
		log:        log,
	}
}

func normalizeAddress(email string) (string, error) {
	email = models.NormalizeEmail(email)
	if !models.ValidEmail(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// RequestCode issues a code for email and mails it. A rate-limit rejection
// comes back as *otp.RateLimitedError.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	email, err := normalizeAddress(email)
	if err != nil {
		return err
	}
	code, err := s.codes.Generate(ctx, email)
	if err != nil {
		return err
	}

	minutes := int(s.codes.TTL().Minutes())
	text := fmt.Sprintf("Your sign-in code is %s.\nIt expires in %d minutes.\n\nIf you did not request it, ignore this message.", code, minutes)
	body := fmt.Sprintf(`
		<h3>Sign in</h3>
		<p>Your sign-in code is <strong>%s</strong>.</p>
		<p>It expires in %d minutes.</p>
		<p>If you did not request it, ignore this message.</p>
	`, html.EscapeString(code), minutes)

	if err := s.mailer.Send(email, "Your sign-in code", body, text); err != nil {
		s.log.Error("send sign-in code failed", "email", email, "error", err)
		return fmt.Errorf("deliver code: %w", err)
	}
	s.log.Info("sign-in code sent", "email", email)
	return nil
}

// Verify checks the code and signs the user in, creating the account on
// first sign-in.
func (s *Service) Verify(ctx context.Context, email, code string) (Subject, error) {
	email, err := normalizeAddress(email)
	if err != nil {
		return Subject{}, ErrInvalidCredential
	}
	ok, err := s.codes.Verify(ctx, email, code)
	if err != nil {
		return Subject{}, err
	}
	if !ok {
		return Subject{}, ErrInvalidCredential
	}

	role := models.RoleUser
	if s.adminEmail != "" && email == s.adminEmail {
		role = models.RoleAdmin
	}
	u, created, err := s.users.FindOrCreate(ctx, email, role)
	if err != nil {
		return Subject{}, fmt.Errorf("provision user: %w", err)
	}
	if role == models.RoleAdmin && u.Role != models.RoleAdmin {
		if err := s.users.SetRole(ctx, u.ID, models.RoleAdmin); err != nil {
			return Subject{}, fmt.Errorf("promote admin: %w", err)
		}
		u.Role = models.RoleAdmin
	}
	if created {
		s.log.Info("user provisioned", "user_id", u.ID, "email", u.Email, "role", u.Role)
	}
	return Subject{ID: u.ID, Email: u.Email, Name: u.DisplayName(), Role: u.Role}, nil
}

// EnsureBootstrapAdmin provisions the configured admin account at startup.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context) error {
	if s.adminEmail == "" {
		return nil
	}
	u, _, err := s.users.FindOrCreate(ctx, s.adminEmail, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if u.Role != models.RoleAdmin {
		if err := s.users.SetRole(ctx, u.ID, models.RoleAdmin); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}
	return nil
}

func (s *Service) Me(ctx context.Context, id string) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}
