package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/depthcharge/config"
)

// Prometheus collectors for the research pipeline. Registered once on the
// default registry and served through the /metrics endpoint.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthcharge",
		Name:      "research_runs_total",
		Help:      "Research runs by terminal status.",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "depthcharge",
		Name:      "research_run_duration_seconds",
		Help:      "Wall-clock duration of completed research runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	searchQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthcharge",
		Name:      "search_queries_total",
		Help:      "Search queries issued by backend and outcome.",
	}, []string{"source", "outcome"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthcharge",
		Name:      "llm_tokens_total",
		Help:      "LLM tokens consumed by model.",
	}, []string{"model"})

	llmCostDollars = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthcharge",
		Name:      "llm_cost_dollars_total",
		Help:      "Estimated LLM spend by model.",
	}, []string{"model"})
)

// Telemetry provides monitoring and cost tracking for research runs.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds aggregate pipeline counters.
type Metrics struct {
	TotalRuns          int64
	SuccessfulRuns     int64
	FailedRuns         int64
	AverageRunDuration time.Duration

	SearchRequests     map[string]int64
	SearchSuccessRates map[string]float64

	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64
}

// CostTracker tracks estimated LLM spend.
type CostTracker struct {
	OperationCosts map[string]float64 // operation -> cost
	ModelCosts     map[string]float64 // model -> cost
	TotalCost      float64
	TotalTokens    int64
}

// RunEvent records a single finished research run.
type RunEvent struct {
	ID         string
	Query      string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Status     string
	Error      string
	Cost       float64
	TokensUsed int64
}

// LLMEvent records a single provider call.
type LLMEvent struct {
	Operation  string
	Model      string
	Duration   time.Duration
	Success    bool
	Cost       float64
	TokensUsed int64
}

// SearchEvent records a single backend query.
type SearchEvent struct {
	Source   string
	Query    string
	Duration time.Duration
	Success  bool
	Results  int
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			SearchRequests:     make(map[string]int64),
			SearchSuccessRates: make(map[string]float64),
			LLMRequests:        make(map[string]int64),
			LLMTokensUsed:      make(map[string]int64),
		},
		costTracker: &CostTracker{
			OperationCosts: make(map[string]float64),
			ModelCosts:     make(map[string]float64),
		},
	}
}

// RecordRun records a completed research run.
func (t *Telemetry) RecordRun(event RunEvent) {
	if !t.config.Enabled {
		return
	}

	runsTotal.WithLabelValues(event.Status).Inc()
	runDuration.Observe(event.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Status == "completed" {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunDuration = event.Duration
	} else {
		total := t.metrics.AverageRunDuration * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunDuration = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	t.logger.Printf("Run: ID=%s, Status=%s, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.ID, event.Status, event.Duration, event.Cost, event.TokensUsed)
}

// RecordLLM records a provider call.
func (t *Telemetry) RecordLLM(event LLMEvent) {
	if !t.config.Enabled {
		return
	}

	llmTokensTotal.WithLabelValues(event.Model).Add(float64(event.TokensUsed))
	llmCostDollars.WithLabelValues(event.Model).Add(event.Cost)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.LLMRequests[event.Model]++
	t.metrics.LLMTokensUsed[event.Model] += event.TokensUsed

	if t.config.CostTracking {
		t.costTracker.OperationCosts[event.Operation] += event.Cost
		t.costTracker.ModelCosts[event.Model] += event.Cost
	}
}

// RecordSearch records a backend query.
func (t *Telemetry) RecordSearch(event SearchEvent) {
	if !t.config.Enabled {
		return
	}

	outcome := "ok"
	if !event.Success {
		outcome = "error"
	}
	searchQueriesTotal.WithLabelValues(event.Source, outcome).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.SearchRequests[event.Source]++
	requests := t.metrics.SearchRequests[event.Source]
	success := 0.0
	if event.Success {
		success = 1.0
	}
	prev := t.metrics.SearchSuccessRates[event.Source]
	t.metrics.SearchSuccessRates[event.Source] = (prev*float64(requests-1) + success) / float64(requests)
}

// GetMetrics returns a snapshot of the aggregate counters.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.SearchRequests = make(map[string]int64, len(t.metrics.SearchRequests))
	metrics.SearchSuccessRates = make(map[string]float64, len(t.metrics.SearchSuccessRates))
	metrics.LLMRequests = make(map[string]int64, len(t.metrics.LLMRequests))
	metrics.LLMTokensUsed = make(map[string]int64, len(t.metrics.LLMTokensUsed))
	for k, v := range t.metrics.SearchRequests {
		metrics.SearchRequests[k] = v
	}
	for k, v := range t.metrics.SearchSuccessRates {
		metrics.SearchSuccessRates[k] = v
	}
	for k, v := range t.metrics.LLMRequests {
		metrics.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		metrics.LLMTokensUsed[k] = v
	}
	return metrics
}

// GetCostSummary returns a snapshot of tracked spend.
func (t *Telemetry) GetCostSummary() CostTracker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ct := CostTracker{
		OperationCosts: make(map[string]float64, len(t.costTracker.OperationCosts)),
		ModelCosts:     make(map[string]float64, len(t.costTracker.ModelCosts)),
		TotalCost:      t.costTracker.TotalCost,
		TotalTokens:    t.costTracker.TotalTokens,
	}
	for k, v := range t.costTracker.OperationCosts {
		ct.OperationCosts[k] = v
	}
	for k, v := range t.costTracker.ModelCosts {
		ct.ModelCosts[k] = v
	}
	return ct
}
