package service

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// Prometheus collectors, registered on the default registry and served by
// the HTTP surface at /metrics.
var (
	completionCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qanalyzer_completion_calls_total",
		Help: "Resilient completion calls by key and result",
	}, []string{"key", "result"})

	completionCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qanalyzer_completion_call_duration_seconds",
		Help:    "Resilient completion call duration including retries",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
	}, []string{"key"})

	completionRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qanalyzer_completion_retries_total",
		Help: "Retries scheduled after transient failures",
	}, []string{"key"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qanalyzer_circuit_state",
		Help: "Circuit breaker state per key (0 closed, 1 open, 2 half-open)",
	}, []string{"key"})

	circuitTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qanalyzer_circuit_transitions_total",
		Help: "Circuit breaker state transitions by key and target state",
	}, []string{"key", "to"})

	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qanalyzer_ratelimit_waits_total",
		Help: "Admissions that had to wait for a free slot",
	}, []string{"key"})

	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qanalyzer_ratelimit_wait_seconds",
		Help:    "Time spent waiting for rate-limit admission",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"key"})

	agentOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qanalyzer_agent_outcomes_total",
		Help: "Specialist outcomes by specialty and result code",
	}, []string{"specialty", "outcome"})

	conflictsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qanalyzer_conflicts_resolved_total",
		Help: "Contradictions resolved by policy",
	}, []string{"policy"})

	determinismScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qanalyzer_determinism_score",
		Help: "Score of the most recent determinism measurement (0-100)",
	})
)

// AgentMetrics holds in-process statistics for one specialty.
type AgentMetrics struct {
	Specialty     core.Specialty `json:"specialty"`
	Invocations   int            `json:"invocations"`
	Errors        int            `json:"errors"`
	LastErrorCode string         `json:"last_error_code,omitempty"`
	TotalDuration time.Duration  `json:"total_duration"`
	AvgDuration   time.Duration  `json:"avg_duration"`
	LastRun       time.Time      `json:"last_run"`
}

// MetricsCollector aggregates specialist outcomes across orchestrations. It
// mirrors the Prometheus counters in a form the API and CLI can render.
type MetricsCollector struct {
	mu     sync.RWMutex
	agents map[core.Specialty]*AgentMetrics
	runs   int
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		agents: make(map[core.Specialty]*AgentMetrics),
	}
}

// RecordAgent records one specialist outcome. errorCode is empty on success.
func (m *MetricsCollector) RecordAgent(specialty core.Specialty, duration time.Duration, errorCode string) {
	outcome := "success"
	if errorCode != "" {
		outcome = errorCode
	}
	agentOutcomesTotal.WithLabelValues(string(specialty), outcome).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	am, ok := m.agents[specialty]
	if !ok {
		am = &AgentMetrics{Specialty: specialty}
		m.agents[specialty] = am
	}
	am.Invocations++
	am.TotalDuration += duration
	am.AvgDuration = am.TotalDuration / time.Duration(am.Invocations)
	am.LastRun = time.Now()
	if errorCode != "" {
		am.Errors++
		am.LastErrorCode = errorCode
	}
}

// RecordRun counts one completed orchestration.
func (m *MetricsCollector) RecordRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

// RecordConflict counts one resolved contradiction.
func RecordConflict(policy core.ResolutionPolicy) {
	conflictsResolvedTotal.WithLabelValues(string(policy)).Inc()
}

// RecordDeterminism publishes the latest determinism score.
func RecordDeterminism(score float64) {
	determinismScore.Set(score)
}

// Runs returns the number of recorded orchestrations.
func (m *MetricsCollector) Runs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs
}

// GetAgentMetrics returns copies of all agent metrics sorted by specialty.
func (m *MetricsCollector) GetAgentMetrics() []AgentMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AgentMetrics, 0, len(m.agents))
	for _, am := range m.agents {
		out = append(out, *am)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Specialty < out[j].Specialty })
	return out
}

// Reset clears all metrics.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = make(map[core.Specialty]*AgentMetrics)
	m.runs = 0
}
