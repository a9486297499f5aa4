package main

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/config"
)

// logConfigWarnings flags settings that are valid but likely unintended
// in production.
func logConfigWarnings(cfg config.Config, log zerolog.Logger) {
	if !cfg.ReconcileEnabled {
		log.Warn().Str("setting", "RECONCILE_ENABLED").
			Msg("reconciler disabled; runs stuck in running after a crash will not be reported")
	}
	if !cfg.MetricsEnabled {
		log.Warn().Str("setting", "METRICS_ENABLED").Msg("metrics disabled")
	}
	if cfg.OwnerID == "" {
		log.Warn().Str("setting", "OWNER_ID").Msg("no owner configured; automations API will answer 503")
	}
	if cfg.EmailProvider == config.EmailProviderManual {
		log.Info().Str("setting", "EMAIL_PROVIDER").
			Msg("manual email provider; auto-send rules record sends without delivering mail")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Info().Str("setting", "CIRCUIT_BREAKER_THRESHOLD").Msg("render circuit breaker disabled")
	}
}

// probeSchema fails when the migrations have not been applied.
func probeSchema(ctx context.Context, db *sql.DB) error {
	var ok bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'recurring_runs')`,
	).Scan(&ok)
	if err != nil {
		return errors.Wrap(err, "probe schema")
	}
	if !ok {
		return errors.New("recurring_runs table missing; apply migrations/001_init.sql")
	}
	return nil
}
