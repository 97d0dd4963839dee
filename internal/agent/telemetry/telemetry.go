package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mohammad-safakhou/deepscout/config"
)

// Telemetry tracks research-run metrics and LLM spend. In-process counters
// back the admin endpoints; the otel instruments feed whatever exporter the
// process is wired to.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker

	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	stageCounter   metric.Int64Counter
	toolCounter    metric.Int64Counter
	toolDuration   metric.Float64Histogram
	iterationsHist metric.Int64Histogram
}

// Metrics holds in-process counters for research activity.
type Metrics struct {
	mu sync.RWMutex

	TotalRuns      int64
	CompletedRuns  int64
	AbortedRuns    int64
	AverageRunTime time.Duration

	StageCounts map[string]int64

	ToolExecutions map[string]int64
	ToolFailures   map[string]int64
	ToolAverage    map[string]time.Duration

	SupervisorIterations int64
	LLMRequests          map[string]int64
	LLMTokensUsed        map[string]int64
}

// CostTracker accumulates LLM spend per model and per stage.
type CostTracker struct {
	mu sync.RWMutex

	ModelCosts  map[string]float64
	StageCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// NewTelemetry builds a telemetry instance and registers its otel
// instruments on the global meter provider.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	meter := otel.Meter("deepscout/agent")

	runCounter, _ := meter.Int64Counter("deepscout_runs_total",
		metric.WithDescription("Research runs started, by outcome"))
	runDuration, _ := meter.Float64Histogram("deepscout_run_duration_seconds",
		metric.WithDescription("End to end research run duration"))
	stageCounter, _ := meter.Int64Counter("deepscout_stage_total",
		metric.WithDescription("Stage transitions, by stage"))
	toolCounter, _ := meter.Int64Counter("deepscout_tool_executions_total",
		metric.WithDescription("Tool executions, by tool and outcome"))
	toolDuration, _ := meter.Float64Histogram("deepscout_tool_duration_seconds",
		metric.WithDescription("Tool execution duration, by tool"))
	iterationsHist, _ := meter.Int64Histogram("deepscout_supervisor_iterations",
		metric.WithDescription("Supervisor iterations per run"))

	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageCounts:    make(map[string]int64),
			ToolExecutions: make(map[string]int64),
			ToolFailures:   make(map[string]int64),
			ToolAverage:    make(map[string]time.Duration),
			LLMRequests:    make(map[string]int64),
			LLMTokensUsed:  make(map[string]int64),
		},
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
			StageCosts: make(map[string]float64),
		},
		runCounter:     runCounter,
		runDuration:    runDuration,
		stageCounter:   stageCounter,
		toolCounter:    toolCounter,
		toolDuration:   toolDuration,
		iterationsHist: iterationsHist,
	}
}

// RecordRun records the terminal outcome of one research run.
func (t *Telemetry) RecordRun(ctx context.Context, runID string, duration time.Duration, aborted bool) {
	outcome := "completed"
	if aborted {
		outcome = "aborted"
	}
	t.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	t.runDuration.Record(ctx, duration.Seconds())

	m := t.metrics
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRuns++
	if aborted {
		m.AbortedRuns++
	} else {
		m.CompletedRuns++
	}
	// Running average over all runs.
	n := m.CompletedRuns + m.AbortedRuns
	m.AverageRunTime = time.Duration((int64(m.AverageRunTime)*(n-1) + int64(duration)) / n)

	t.logger.Printf("run %s %s in %s", runID, outcome, duration.Round(time.Millisecond))
}

// RecordStage records entry into an orchestration stage.
func (t *Telemetry) RecordStage(ctx context.Context, runID, stage string) {
	t.stageCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))

	t.metrics.mu.Lock()
	t.metrics.StageCounts[stage]++
	t.metrics.mu.Unlock()
}

// RecordSupervision records the iteration count of a finished supervisor loop.
func (t *Telemetry) RecordSupervision(ctx context.Context, iterations int, aborted bool) {
	t.iterationsHist.Record(ctx, int64(iterations))

	t.metrics.mu.Lock()
	t.metrics.SupervisorIterations += int64(iterations)
	t.metrics.mu.Unlock()
}

// RecordToolExecution records one tool invocation.
func (t *Telemetry) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	t.toolCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
	t.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))

	m := t.metrics
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ToolExecutions[tool]++
	if failed {
		m.ToolFailures[tool]++
	}
	n := m.ToolExecutions[tool]
	m.ToolAverage[tool] = time.Duration((int64(m.ToolAverage[tool])*(n-1) + int64(duration)) / n)
}

// RecordLLMUsage records one model call's token usage and cost.
func (t *Telemetry) RecordLLMUsage(model, stage string, inputTokens, outputTokens int64, cost float64) {
	t.metrics.mu.Lock()
	t.metrics.LLMRequests[model]++
	t.metrics.LLMTokensUsed[model] += inputTokens + outputTokens
	t.metrics.mu.Unlock()

	c := t.costTracker
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ModelCosts[model] += cost
	if stage != "" {
		c.StageCosts[stage] += cost
	}
	c.TotalCost += cost
	c.TotalTokens += inputTokens + outputTokens
}

// Snapshot returns a copy of the current counters for admin endpoints.
func (t *Telemetry) Snapshot() MetricsSnapshot {
	m := t.metrics
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := t.costTracker
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := MetricsSnapshot{
		TotalRuns:            m.TotalRuns,
		CompletedRuns:        m.CompletedRuns,
		AbortedRuns:          m.AbortedRuns,
		AverageRunTime:       m.AverageRunTime,
		SupervisorIterations: m.SupervisorIterations,
		TotalCost:            c.TotalCost,
		TotalTokens:          c.TotalTokens,
		StageCounts:          make(map[string]int64, len(m.StageCounts)),
		ToolExecutions:       make(map[string]int64, len(m.ToolExecutions)),
		ToolFailures:         make(map[string]int64, len(m.ToolFailures)),
		ModelCosts:           make(map[string]float64, len(c.ModelCosts)),
	}
	for k, v := range m.StageCounts {
		snap.StageCounts[k] = v
	}
	for k, v := range m.ToolExecutions {
		snap.ToolExecutions[k] = v
	}
	for k, v := range m.ToolFailures {
		snap.ToolFailures[k] = v
	}
	for k, v := range c.ModelCosts {
		snap.ModelCosts[k] = v
	}
	return snap
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalRuns            int64                    `json:"total_runs"`
	CompletedRuns        int64                    `json:"completed_runs"`
	AbortedRuns          int64                    `json:"aborted_runs"`
	AverageRunTime       time.Duration            `json:"average_run_time"`
	SupervisorIterations int64                    `json:"supervisor_iterations"`
	StageCounts          map[string]int64         `json:"stage_counts"`
	ToolExecutions       map[string]int64         `json:"tool_executions"`
	ToolFailures         map[string]int64         `json:"tool_failures"`
	ModelCosts           map[string]float64       `json:"model_costs"`
	TotalCost            float64                  `json:"total_cost"`
	TotalTokens          int64                    `json:"total_tokens"`
}
