package main

import (
	"database/sql"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/activity"
	"github.com/djlord-it/easy-invoice/internal/analytics"
	"github.com/djlord-it/easy-invoice/internal/api"
	"github.com/djlord-it/easy-invoice/internal/circuitbreaker"
	"github.com/djlord-it/easy-invoice/internal/config"
	"github.com/djlord-it/easy-invoice/internal/dispatch"
	"github.com/djlord-it/easy-invoice/internal/document"
	"github.com/djlord-it/easy-invoice/internal/email"
	"github.com/djlord-it/easy-invoice/internal/executor"
	"github.com/djlord-it/easy-invoice/internal/logging"
	"github.com/djlord-it/easy-invoice/internal/metrics"
	"github.com/djlord-it/easy-invoice/internal/numbering"
	"github.com/djlord-it/easy-invoice/internal/reconciler"
	"github.com/djlord-it/easy-invoice/internal/render"
	"github.com/djlord-it/easy-invoice/internal/scheduler"
	"github.com/djlord-it/easy-invoice/internal/store/postgres"
)

// app is the fully wired engine. Nothing in it has started yet.
type app struct {
	cfg     config.Config
	ownerID uuid.UUID
	db      *sql.DB
	store   *postgres.Store

	metrics  metrics.Sink
	executor *executor.Executor
	poller   *scheduler.Scheduler
	stale    *reconciler.Reconciler // nil unless RECONCILE_ENABLED

	// apiHandler serves the automations API, plus metrics when they share
	// the API listener.
	apiHandler http.Handler
	// metricsHandler is set when metrics have their own port.
	metricsHandler http.Handler

	redis *redis.Client // nil unless REDIS_ADDR
}

// openDB opens the Postgres pool with the configured limits. No connection
// is made until first use.
func openDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
	return db, nil
}

func newEmailProvider(cfg config.Config) email.Provider {
	if cfg.EmailProvider == config.EmailProviderResend {
		return email.NewResendProvider(cfg.ResendAPIKey, cfg.ResendFromEmail, cfg.EmailRatePerSec)
	}
	return email.ManualProvider{}
}

// buildApp wires every component around db. reg and gatherer are only used
// when metrics are enabled.
func buildApp(cfg config.Config, db *sql.DB, reg prometheus.Registerer, gatherer prometheus.Gatherer, log zerolog.Logger) *app {
	a := &app{cfg: cfg, db: db}
	if cfg.OwnerID != "" {
		a.ownerID = uuid.MustParse(cfg.OwnerID)
	}

	a.store = postgres.New(db, cfg.DBOpTimeout)

	if cfg.MetricsEnabled {
		a.metrics = metrics.NewPrometheusSink(reg, logging.Component(log, "metrics"))
	} else {
		a.metrics = metrics.NewNoopSink()
	}

	recorder := activity.NewRecorder(a.store, logging.Component(log, "activity"))

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	disp := dispatch.New(
		a.store,
		render.NewHTTPRenderer(cfg.RenderServiceURL, cfg.RenderTimeout),
		newEmailProvider(cfg),
		logging.Component(log, "dispatch"),
	).
		WithCircuitBreaker(breaker).
		WithActivity(recorder).
		WithMetrics(a.metrics)

	cloner := document.NewCloner(a.store, numbering.NewAllocator(a.store), logging.Component(log, "cloner")).
		WithMetrics(a.metrics)

	a.executor = executor.New(a.store, cloner, disp, logging.Component(log, "executor")).
		WithActivity(recorder).
		WithMetrics(a.metrics)

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.executor = a.executor.WithAnalytics(analytics.NewRedisSink(
			a.redis,
			analytics.Config{Window: cfg.AnalyticsWindow, Retention: cfg.AnalyticsRetention},
			logging.Component(log, "analytics"),
		))
	}

	a.poller = scheduler.New(
		scheduler.Config{PollInterval: cfg.PollInterval, BatchSize: cfg.PollBatchSize},
		a.store,
		a.executor,
		logging.Component(log, "scheduler"),
	).WithMetrics(a.metrics)

	if cfg.ReconcileEnabled {
		a.stale = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			a.store,
			logging.Component(log, "reconciler"),
		).WithMetrics(a.metrics)
	}

	handler := api.NewHandler(a.store, a.executor, a.ownerID, logging.Component(log, "api")).
		WithHealthChecker(a.store).
		WithActivity(recorder)
	a.apiHandler = handler

	if cfg.MetricsEnabled {
		promHandler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		if cfg.MetricsPort != "" {
			mux := http.NewServeMux()
			mux.Handle(cfg.MetricsPath, promHandler)
			a.metricsHandler = mux
		} else {
			mux := http.NewServeMux()
			mux.Handle(cfg.MetricsPath, promHandler)
			mux.Handle("/", handler)
			a.apiHandler = mux
		}
	}

	return a
}

// Close releases clients that buildApp opened.
func (a *app) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
