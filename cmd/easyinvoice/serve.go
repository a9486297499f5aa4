package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/djlord-it/easy-invoice/internal/leaderelection"
	"github.com/djlord-it/easy-invoice/internal/logging"
)

type serveOptions struct {
	once bool
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the poll loop and the automations API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single poll cycle and exit")
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

	db, err := openDB(cfg)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer db.Close()

	pingCtx, cancelPing := context.WithTimeout(cmd.Context(), cfg.DBOpTimeout)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		return errors.Wrap(err, "ping database")
	}
	if err := probeSchema(cmd.Context(), db); err != nil {
		return err
	}
	logConfigWarnings(cfg, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	a := buildApp(cfg, db, reg, reg, log)
	defer a.Close()

	if opts.once {
		res, err := a.poller.RunOnce(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "poll cycle")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "due=%d completed=%d failed=%d skipped=%d\n",
			res.Due, res.Completed, res.Failed, res.Skipped)
		return nil
	}

	return serveUntilSignal(a, log)
}

func serveUntilSignal(a *app, log zerolog.Logger) error {
	cfg := a.cfg

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: a.apiHandler}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	var metricsServer *http.Server
	if a.metricsHandler != nil {
		metricsServer = &http.Server{Addr: ":" + cfg.MetricsPort, Handler: a.metricsHandler}
		go func() {
			log.Info().Str("port", cfg.MetricsPort).Str("path", cfg.MetricsPath).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	// Separate contexts so the poller stops before the reconciler.
	pollCtx, cancelPoll := context.WithCancel(context.Background())
	var pollWg sync.WaitGroup
	pollWg.Add(1)
	if cfg.LeaderElection {
		go func() {
			defer pollWg.Done()
			runElected(pollCtx, a, log)
		}()
	} else {
		go func() {
			defer pollWg.Done()
			if err := a.poller.Run(pollCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("poll loop exited")
			}
		}()
	}

	var reconcileWg sync.WaitGroup
	var cancelReconcile context.CancelFunc
	if a.stale != nil {
		var reconcileCtx context.Context
		reconcileCtx, cancelReconcile = context.WithCancel(context.Background())
		reconcileWg.Add(1)
		go func() {
			defer reconcileWg.Done()
			a.stale.Run(reconcileCtx)
		}()
	}

	log.Info().
		Dur("poll_interval", cfg.PollInterval).
		Bool("leader_election", cfg.LeaderElection).
		Bool("reconcile", a.stale != nil).
		Bool("analytics", a.redis != nil).
		Str("email_provider", cfg.EmailProvider).
		Msg("started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info().Str("signal", received.String()).Msg("shutting down")

	// A claimed run is finished before the loop returns; no new rule starts.
	cancelPoll()
	pollWg.Wait()
	log.Info().Msg("poll loop stopped")

	if cancelReconcile != nil {
		cancelReconcile()
		reconcileWg.Wait()
		log.Info().Msg("reconciler stopped")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown")
		}
	}

	log.Info().Msg("stopped")
	return nil
}

// runElected polls only while this replica holds the advisory lock.
func runElected(ctx context.Context, a *app, log zerolog.Logger) {
	elector := leaderelection.New(a.db, leaderelection.Config{
		LockKey:           a.cfg.LeaderLockKey,
		RetryInterval:     a.cfg.LeaderRetryInterval,
		HeartbeatInterval: a.cfg.LeaderHeartbeatInterval,
	}, logging.Component(log, "leader")).WithMetrics(a.metrics)

	elector.Run(ctx, func(termCtx context.Context) error {
		err := a.poller.Run(termCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
