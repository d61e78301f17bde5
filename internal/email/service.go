// Package email renders and delivers transactional emails via Resend.
// When delivery is disabled the service logs the would-be message instead,
// which keeps local development free of API keys.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/mail"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/tudorilade/events-scheduler/internal/config"
	"github.com/tudorilade/events-scheduler/internal/metrics"
)

type Service struct {
	config       config.EmailConfig
	templates    *template.Template
	resendClient *resend.Client
	logger       zerolog.Logger
}

// VerificationData is the template context for verification emails.
type VerificationData struct {
	FullName    string
	VerifyLink  string
	ExpiresIn   string
	CurrentYear int
}

// PasswordResetData is the template context for password reset emails.
type PasswordResetData struct {
	FullName    string
	ResetLink   string
	ExpiresIn   string
	CurrentYear int
}

func NewService(cfg config.EmailConfig, logger zerolog.Logger) (*Service, error) {
	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
	}

	templates, err := template.ParseGlob(filepath.Join(cfg.TemplatesDir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}

	svc := &Service{
		config:    cfg,
		templates: templates,
		logger:    logger.With().Str("component", "email").Logger(),
	}
	if cfg.Enabled {
		svc.resendClient = resend.NewClient(cfg.ResendAPIKey)
	}
	return svc, nil
}

// SendVerification delivers the email-verification message with the token
// link. Safe to call more than once for the same token: each delivery
// carries the same link and the token itself is single-use.
func (s *Service) SendVerification(ctx context.Context, to, fullName, verifyLink, expiresIn string) error {
	if err := validateLink(verifyLink); err != nil {
		return fmt.Errorf("invalid verification link: %w", err)
	}

	body, err := s.render("verification.html", VerificationData{
		FullName:    fullName,
		VerifyLink:  verifyLink,
		ExpiresIn:   expiresIn,
		CurrentYear: time.Now().Year(),
	})
	if err != nil {
		return err
	}
	return s.deliver(ctx, "verification", to, "Verify your email address", body)
}

// SendPasswordReset delivers the password-reset message with the token link.
func (s *Service) SendPasswordReset(ctx context.Context, to, fullName, resetLink, expiresIn string) error {
	if err := validateLink(resetLink); err != nil {
		return fmt.Errorf("invalid reset link: %w", err)
	}

	body, err := s.render("password_reset.html", PasswordResetData{
		FullName:    fullName,
		ResetLink:   resetLink,
		ExpiresIn:   expiresIn,
		CurrentYear: time.Now().Year(),
	})
	if err != nil {
		return err
	}
	return s.deliver(ctx, "password_reset", to, "Reset your password", body)
}

func (s *Service) deliver(ctx context.Context, kind, to, subject, htmlBody string) error {
	if err := validateEmailAddress(to); err != nil {
		return fmt.Errorf("invalid recipient email: %w", err)
	}

	if !s.config.Enabled {
		metrics.EmailsSent.WithLabelValues(kind, "skipped").Inc()
		s.logger.Info().
			Str("to", to).
			Str("subject", subject).
			Msg("email delivery disabled, skipping")
		return nil
	}

	params := &resend.SendEmailRequest{
		From:    s.config.From,
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
	}
	sent, err := s.resendClient.Emails.SendWithContext(ctx, params)
	if err != nil {
		metrics.EmailsSent.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("resend API error: %w", err)
	}

	metrics.EmailsSent.WithLabelValues(kind, "success").Inc()
	s.logger.Info().
		Str("email_id", sent.Id).
		Str("to", to).
		Str("kind", kind).
		Msg("email sent")
	return nil
}

func (s *Service) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// validateEmailAddress checks format and rejects header injection attempts.
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("email address contains newline characters")
	}
	return nil
}

// validateLink ensures token links are plain http(s) URLs so a poisoned
// base URL cannot smuggle javascript: or data: schemes into the email.
func validateLink(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
