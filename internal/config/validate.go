package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

var analyticsWindows = map[time.Duration]bool{
	time.Minute:     true,
	5 * time.Minute: true,
	time.Hour:       true,
	24 * time.Hour:  true,
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.invalid...)

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "required"})
	}

	if cfg.OwnerID != "" {
		if _, err := uuid.Parse(cfg.OwnerID); err != nil {
			errs = append(errs, ValidationError{Field: "OWNER_ID", Message: "must be a UUID"})
		}
	}

	for _, d := range cfg.durations() {
		if *d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			errs = append(errs, ValidationError{Field: d.env, Message: fmt.Sprintf("invalid duration: %v", err)})
		} else if v <= 0 {
			errs = append(errs, ValidationError{Field: d.env, Message: "must be positive"})
		}
	}

	if cfg.AnalyticsWindow > 0 && !analyticsWindows[cfg.AnalyticsWindow] {
		errs = append(errs, ValidationError{
			Field:   "ANALYTICS_WINDOW",
			Message: fmt.Sprintf("must be one of 1m, 5m, 1h, 24h, got %q", cfg.AnalyticsWindowStr),
		})
	}

	switch cfg.EmailProvider {
	case "", EmailProviderManual:
	case EmailProviderResend:
		if cfg.ResendAPIKey == "" {
			errs = append(errs, ValidationError{Field: "RESEND_API_KEY", Message: "required when EMAIL_PROVIDER=resend"})
		}
		if cfg.ResendFromEmail == "" {
			errs = append(errs, ValidationError{Field: "RESEND_FROM_EMAIL", Message: "required when EMAIL_PROVIDER=resend"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "EMAIL_PROVIDER",
			Message: fmt.Sprintf("must be 'manual' or 'resend', got %q", cfg.EmailProvider),
		})
	}

	if cfg.RenderServiceURL != "" {
		u, err := url.Parse(cfg.RenderServiceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{Field: "RENDER_SERVICE_URL", Message: "must be an http(s) URL"})
		}
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("must be debug, info, warn or error, got %q", cfg.LogLevel),
		})
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, ValidationError{
			Field:   "LOG_FORMAT",
			Message: fmt.Sprintf("must be 'json' or 'console', got %q", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
