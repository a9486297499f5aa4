package main

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/djlord-it/easy-invoice/internal/api"
	"github.com/djlord-it/easy-invoice/internal/domain"
	"github.com/djlord-it/easy-invoice/internal/logging"
)

func newTriggerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <rule-id>",
		Short: "Run a rule now, outside its schedule",
		Long: `trigger executes one occurrence of a rule immediately, as the API's
POST /automations/{id}/trigger does. OWNER_ID must be set.

Exits 1 when the run fails; a skipped run still exits 0.`,
		Args: cobra.ExactArgs(1),
		RunE: runTrigger,
	}
}

func runTrigger(cmd *cobra.Command, args []string) error {
	ruleID, err := uuid.Parse(args[0])
	if err != nil {
		return errors.Newf("invalid rule id %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.OwnerID == "" {
		return withCode(exitInvalidConfig, errors.New("OWNER_ID is required for trigger"))
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

	db, err := openDB(cfg)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer db.Close()

	// Metrics are not scraped from a one-shot command.
	cfg.MetricsEnabled = false
	reg := prometheus.NewRegistry()
	a := buildApp(cfg, db, reg, reg, log)
	defer a.Close()

	outcome, err := a.executor.Trigger(cmd.Context(), a.ownerID, ruleID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(api.NewTriggerResponse(outcome), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if outcome.Status == domain.OutcomeFailed {
		return errors.Newf("run failed: %s", outcome.Reason)
	}
	return nil
}
