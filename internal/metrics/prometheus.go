package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink with client_golang collectors. Collectors
// that fail to register are logged and keep working unexported.
type PrometheusSink struct {
	log zerolog.Logger

	pollsTotal      prometheus.Counter
	pollErrorsTotal prometheus.Counter
	rulesDueTotal   prometheus.Counter
	pollDuration    prometheus.Histogram

	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	runsInFlight     prometheus.Gauge
	numberCollisions prometheus.Counter

	renderTotal    *prometheus.CounterVec
	renderDuration prometheus.Histogram
	sendTotal      *prometheus.CounterVec

	staleRuns prometheus.Gauge

	isLeader            prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, log zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log}
	s.initPollMetrics(reg)
	s.initRunMetrics(reg)
	s.initDispatchMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initPollMetrics(reg prometheus.Registerer) {
	s.pollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyinvoice_scheduler_polls_total",
		Help: "Total number of poll cycles.",
	})
	s.pollErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyinvoice_scheduler_poll_errors_total",
		Help: "Poll cycles that failed to load due rules.",
	})
	s.rulesDueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyinvoice_scheduler_rules_due_total",
		Help: "Total number of due rules found by poll cycles.",
	})
	s.pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyinvoice_scheduler_poll_duration_seconds",
		Help:    "Duration of each poll cycle in seconds.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})

	s.register(reg, s.pollsTotal, "easyinvoice_scheduler_polls_total")
	s.register(reg, s.pollErrorsTotal, "easyinvoice_scheduler_poll_errors_total")
	s.register(reg, s.rulesDueTotal, "easyinvoice_scheduler_rules_due_total")
	s.register(reg, s.pollDuration, "easyinvoice_scheduler_poll_duration_seconds")
}

func (s *PrometheusSink) initRunMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyinvoice_executor_runs_total",
		Help: "Rule occurrences by outcome (completed, failed, skipped).",
	}, []string{"status"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyinvoice_executor_run_duration_seconds",
		Help:    "Duration of one rule occurrence from claim to completion.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyinvoice_executor_runs_in_flight",
		Help: "Rule occurrences currently executing.",
	})
	s.numberCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyinvoice_executor_number_collisions_total",
		Help: "Document numbers skipped because they were already in use.",
	})
	s.staleRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyinvoice_reconciler_stale_runs",
		Help: "Runs left in running past the staleness threshold.",
	})

	s.register(reg, s.runsTotal, "easyinvoice_executor_runs_total")
	s.register(reg, s.runDuration, "easyinvoice_executor_run_duration_seconds")
	s.register(reg, s.runsInFlight, "easyinvoice_executor_runs_in_flight")
	s.register(reg, s.numberCollisions, "easyinvoice_executor_number_collisions_total")
	s.register(reg, s.staleRuns, "easyinvoice_reconciler_stale_runs")
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.renderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyinvoice_dispatch_render_total",
		Help: "Render attempts by outcome.",
	}, []string{"outcome"})
	s.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyinvoice_dispatch_render_duration_seconds",
		Help:    "Render service latency in seconds.",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.sendTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyinvoice_dispatch_send_total",
		Help: "Email sends by provider and outcome.",
	}, []string{"provider", "outcome"})

	s.register(reg, s.renderTotal, "easyinvoice_dispatch_render_total")
	s.register(reg, s.renderDuration, "easyinvoice_dispatch_render_duration_seconds")
	s.register(reg, s.sendTotal, "easyinvoice_dispatch_send_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyinvoice_leader_is_leader",
		Help: "1 while this instance holds the poller lock.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyinvoice_leader_acquired_total",
		Help: "Times this instance acquired the poller lock.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyinvoice_leader_lost_total",
		Help: "Times this instance lost the poller lock, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "easyinvoice_leader_is_leader")
	s.register(reg, s.leaderAcquiredTotal, "easyinvoice_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "easyinvoice_leader_lost_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn().Err(err).Str("metric", name).Msg("failed to register metric")
	}
}

func (s *PrometheusSink) PollStarted() {
	s.pollsTotal.Inc()
}

func (s *PrometheusSink) PollCompleted(duration time.Duration, rulesDue int, err error) {
	s.pollDuration.Observe(duration.Seconds())
	s.rulesDueTotal.Add(float64(rulesDue))
	if err != nil {
		s.pollErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) RunOutcome(status string, duration time.Duration) {
	s.runsTotal.WithLabelValues(status).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RunsInFlightIncr() { s.runsInFlight.Inc() }
func (s *PrometheusSink) RunsInFlightDecr() { s.runsInFlight.Dec() }

func (s *PrometheusSink) NumberCollision() { s.numberCollisions.Inc() }

func (s *PrometheusSink) RenderOutcome(outcome string, duration time.Duration) {
	s.renderTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeCircuitOpen && outcome != OutcomeNotAttempted {
		s.renderDuration.Observe(duration.Seconds())
	}
}

func (s *PrometheusSink) SendOutcome(provider, outcome string) {
	s.sendTotal.WithLabelValues(provider, outcome).Inc()
}

func (s *PrometheusSink) StaleRunsUpdate(count int) {
	s.staleRuns.Set(float64(count))
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() { s.leaderAcquiredTotal.Inc() }

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
