package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg, zerolog.Nop()), reg
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m.GetLabel(), labels) {
				return m
			}
		}
	}
	return nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	if m := findMetric(t, reg, name, labels); m != nil {
		return m.GetCounter().GetValue()
	}
	return 0
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	if m := findMetric(t, reg, name, nil); m != nil {
		return m.GetGauge().GetValue()
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_DoubleRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg, zerolog.Nop())
	s := NewPrometheusSink(reg, zerolog.Nop())
	s.PollStarted()
	s.RunOutcome("completed", time.Second)
}

func TestPrometheusSink_Poll(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.PollStarted()
	sink.PollStarted()
	sink.PollCompleted(100*time.Millisecond, 3, nil)
	sink.PollCompleted(100*time.Millisecond, 0, errors.New("db error"))

	if v := counterValue(t, reg, "easyinvoice_scheduler_polls_total", nil); v != 2 {
		t.Errorf("polls_total = %v, want 2", v)
	}
	if v := counterValue(t, reg, "easyinvoice_scheduler_poll_errors_total", nil); v != 1 {
		t.Errorf("poll_errors_total = %v, want 1", v)
	}
	if v := counterValue(t, reg, "easyinvoice_scheduler_rules_due_total", nil); v != 3 {
		t.Errorf("rules_due_total = %v, want 3", v)
	}
}

func TestPrometheusSink_RunOutcomes(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunOutcome("completed", time.Second)
	sink.RunOutcome("completed", time.Second)
	sink.RunOutcome("skipped", 0)

	if v := counterValue(t, reg, "easyinvoice_executor_runs_total", map[string]string{"status": "completed"}); v != 2 {
		t.Errorf("completed = %v, want 2", v)
	}
	if v := counterValue(t, reg, "easyinvoice_executor_runs_total", map[string]string{"status": "skipped"}); v != 1 {
		t.Errorf("skipped = %v, want 1", v)
	}
}

func TestPrometheusSink_InFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunsInFlightIncr()
	sink.RunsInFlightIncr()
	sink.RunsInFlightDecr()

	if v := gaugeValue(t, reg, "easyinvoice_executor_runs_in_flight"); v != 1 {
		t.Errorf("runs_in_flight = %v, want 1", v)
	}
}

func TestPrometheusSink_DispatchSteps(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RenderOutcome(OutcomeSuccess, time.Second)
	sink.RenderOutcome(OutcomeCircuitOpen, 0)
	sink.SendOutcome("resend", OutcomeFailed)
	sink.NumberCollision()

	if v := counterValue(t, reg, "easyinvoice_dispatch_render_total", map[string]string{"outcome": OutcomeCircuitOpen}); v != 1 {
		t.Errorf("render circuit_open = %v, want 1", v)
	}
	if v := counterValue(t, reg, "easyinvoice_dispatch_send_total", map[string]string{"provider": "resend", "outcome": OutcomeFailed}); v != 1 {
		t.Errorf("send failed = %v, want 1", v)
	}
	if v := counterValue(t, reg, "easyinvoice_executor_number_collisions_total", nil); v != 1 {
		t.Errorf("number_collisions = %v, want 1", v)
	}

	m := findMetric(t, reg, "easyinvoice_dispatch_render_duration_seconds", nil)
	if m == nil || m.GetHistogram().GetSampleCount() != 1 {
		t.Error("render duration should only observe attempted renders")
	}
}

func TestPrometheusSink_StaleRuns(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.StaleRunsUpdate(4)
	sink.StaleRunsUpdate(2)

	if v := gaugeValue(t, reg, "easyinvoice_reconciler_stale_runs"); v != 2 {
		t.Errorf("stale_runs = %v, want 2", v)
	}
}

func TestPrometheusSink_Leader(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusChanged(true)
	sink.LeaderAcquired()
	if v := gaugeValue(t, reg, "easyinvoice_leader_is_leader"); v != 1 {
		t.Errorf("is_leader = %v, want 1", v)
	}

	sink.LeaderStatusChanged(false)
	sink.LeaderLost("conn_lost")
	if v := gaugeValue(t, reg, "easyinvoice_leader_is_leader"); v != 0 {
		t.Errorf("is_leader = %v, want 0", v)
	}
	if v := counterValue(t, reg, "easyinvoice_leader_acquired_total", nil); v != 1 {
		t.Errorf("acquired = %v, want 1", v)
	}
	if v := counterValue(t, reg, "easyinvoice_leader_lost_total", map[string]string{"reason": "conn_lost"}); v != 1 {
		t.Errorf("lost{conn_lost} = %v, want 1", v)
	}
}

func TestPrometheusSink_ImplementsSink(t *testing.T) {
	var _ Sink = (*PrometheusSink)(nil)
	var _ Sink = (*NoopSink)(nil)
}
