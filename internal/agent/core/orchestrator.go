package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/agent/telemetry"
)

var tracer = otel.Tracer("deepscout/agent/core")

// Orchestrator drives a research run through its four stages: clarify the
// request, write a research brief, supervise the research, and generate the
// final report. Raw errors never cross its boundary: every run ends in
// either a clarification question or a final report string.
type Orchestrator struct {
	cfg       *config.Config
	caller    ModelCaller
	registry  *Registry
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	supervisor *Supervisor
	reporter   *ReportGenerator
}

// NewOrchestrator wires the full pipeline from configuration. The caller is
// shared across stages; routing decides which model each stage uses.
func NewOrchestrator(cfg *config.Config, caller ModelCaller, registry *Registry, tel *telemetry.Telemetry) *Orchestrator {
	logger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)

	if cfg.Research.ModelCallTimeout > 0 {
		caller = &timeoutCaller{inner: caller, timeout: cfg.Research.ModelCallTimeout}
	}

	var metrics toolMetrics
	if tel != nil {
		metrics = tel
	}
	invoker := NewToolInvoker(registry, metrics, nil)

	researchTools := append(registry.Schemas(), researchControlSchemas()...)
	researchModel := NewModelWithTools(caller, cfg.LLM.Routing.Research, cfg.Research.ToolWrapperMaxTokens, 0, researchTools, nil)
	compressor := NewCompressor(caller, cfg.LLM.Routing.Compression, cfg.Research.CompressionMaxTokens, cfg.Research.MaxStructuredOutputRetries, nil)
	researcher := NewResearcher(researchModel, registry, invoker, compressor, cfg.Research.MaxReactToolCalls, cfg.Research.MaxToolCallsPerTool, nil)

	supervisionModel := NewModelWithTools(caller, cfg.LLM.Routing.Supervision, 0, 0, supervisorToolSchemas(), nil)
	supervisor := NewSupervisor(supervisionModel, researcher, cfg.Research.MaxResearcherIterations, cfg.Research.MaxConcurrentResearchUnits, nil)

	reporter := NewReportGenerator(caller, cfg.LLM.Routing.Report, cfg.Research.FinalReportMaxTokens, cfg.Research.MaxStructuredOutputRetries, nil)

	return &Orchestrator{
		cfg:        cfg,
		caller:     caller,
		registry:   registry,
		telemetry:  tel,
		logger:     logger,
		supervisor: supervisor,
		reporter:   reporter,
	}
}

// Run executes a research run asynchronously and streams progress events.
// The channel is closed once the run reaches a terminal state.
func (o *Orchestrator) Run(ctx context.Context, runID string, conversation []Turn) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.Execute(ctx, runID, conversation, func(ev Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return events
}

// Execute runs the pipeline synchronously, reporting progress through emit.
func (o *Orchestrator) Execute(ctx context.Context, runID string, conversation []Turn, emit func(Event)) RunResult {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	if emit == nil {
		emit = func(Event) {}
	}
	progress := func(stage string) {
		o.logger.Printf("[%s] stage %s", runID, stage)
		emit(Event{Type: EventStageProgress, RunID: runID, Stage: stage, Timestamp: time.Now()})
		if o.telemetry != nil {
			o.telemetry.RecordStage(ctx, runID, stage)
		}
	}

	state := &AgentState{Messages: append([]Turn(nil), conversation...)}

	if o.cfg.Research.AllowClarification {
		progress("clarify")
		decision := o.clarify(ctx, state.Messages)
		if decision.NeedClarification {
			span.SetAttributes(attribute.Bool("clarification_asked", true))
			emit(Event{Type: EventClarificationNeeded, RunID: runID, Stage: "clarify", Message: decision.Question, Timestamp: time.Now()})
			return RunResult{
				RunID:              runID,
				ClarificationAsked: true,
				Question:           decision.Question,
				Duration:           time.Since(start),
				CreatedAt:          start,
			}
		}
		if decision.Verification != "" {
			state.Messages = append(state.Messages, AssistantTurn(decision.Verification))
		}
	}

	progress("brief")
	state.ResearchBrief = o.writeBrief(ctx, state.Messages)
	span.SetAttributes(attribute.Int("brief_len", len(state.ResearchBrief)))

	progress("research")
	supRes := o.supervisor.Run(ctx, state.ResearchBrief)
	state.Notes = supRes.Notes
	state.RawNotes = supRes.RawNotes
	if supRes.Aborted {
		o.logger.Printf("[%s] research terminated early: %v", runID, supRes.Cause)
		span.RecordError(supRes.Cause)
		span.SetStatus(codes.Error, "research aborted")
	}
	if o.telemetry != nil {
		o.telemetry.RecordSupervision(ctx, supRes.Iterations, supRes.Aborted)
	}

	progress("report")
	findings := strings.Join(state.Notes, "\n")
	state.FinalReport = o.reporter.Generate(ctx, state.ResearchBrief, conversation, findings)
	// Report generation consumes notes exactly once.
	state.Notes = nil

	emit(Event{Type: EventFinalReport, RunID: runID, Message: state.FinalReport, Timestamp: time.Now()})
	if o.telemetry != nil {
		o.telemetry.RecordRun(ctx, runID, time.Since(start), supRes.Aborted)
	}

	return RunResult{
		RunID:         runID,
		FinalReport:   state.FinalReport,
		ResearchBrief: state.ResearchBrief,
		RawNotes:      state.RawNotes,
		Duration:      time.Since(start),
		CreatedAt:     start,
	}
}

var clarifySchema = &ResponseSchema{
	Name: "clarify_decision",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"need_clarification": map[string]any{"type": "boolean"},
			"question":           map[string]any{"type": "string"},
			"verification":       map[string]any{"type": "string"},
		},
		"required": []string{"need_clarification"},
	},
}

var briefSchema = &ResponseSchema{
	Name: "research_brief",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"research_brief": map[string]any{"type": "string"},
		},
		"required": []string{"research_brief"},
	},
}

// clarify decides whether to ask the user one scoping question. Malformed
// model output falls back to "proceed without clarification".
func (o *Orchestrator) clarify(ctx context.Context, conversation []Turn) ClarifyDecision {
	ctx, span := tracer.Start(ctx, "orchestrator.clarify")
	defer span.End()

	prompt := fmt.Sprintf(clarifyPromptTemplate, BufferString(conversation), today())
	var decision ClarifyDecision
	err := o.structured(ctx, prompt, o.cfg.LLM.Routing.Clarification, o.cfg.Research.ClarificationMaxTokens, clarifySchema, &decision)
	if err != nil {
		o.logger.Printf("clarification fell back to default: %v", err)
		span.RecordError(err)
		return ClarifyDecision{NeedClarification: false}
	}
	return decision
}

// writeBrief turns the conversation into a self-contained research brief.
// Malformed model output falls back to the raw conversation text.
func (o *Orchestrator) writeBrief(ctx context.Context, conversation []Turn) string {
	ctx, span := tracer.Start(ctx, "orchestrator.brief")
	defer span.End()

	prompt := fmt.Sprintf(briefPromptTemplate, BufferString(conversation), today())
	var brief ResearchBrief
	err := o.structured(ctx, prompt, o.cfg.LLM.Routing.Clarification, o.cfg.Research.BriefMaxTokens, briefSchema, &brief)
	if err != nil || strings.TrimSpace(brief.ResearchBrief) == "" {
		o.logger.Printf("brief fell back to conversation text: %v", err)
		span.RecordError(err)
		return BufferString(conversation)
	}
	return brief.ResearchBrief
}

// structured invokes a model with a response schema and decodes the result,
// retrying up to the configured structured-output budget.
func (o *Orchestrator) structured(ctx context.Context, prompt, model string, maxTokens int, schema *ResponseSchema, out any) error {
	retries := o.cfg.Research.MaxStructuredOutputRetries
	if retries <= 0 {
		retries = 3
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		resp, err := o.caller.Invoke(ctx, []Turn{UserTurn(prompt)}, InvokeOptions{
			Model:     model,
			MaxTokens: maxTokens,
			Schema:    schema,
		})
		if err != nil {
			lastErr = err
			continue
		}
		if err := json.Unmarshal([]byte(resp.Content), out); err != nil {
			lastErr = fmt.Errorf("decode %s: %w", schema.Name, err)
			continue
		}
		return nil
	}
	return lastErr
}

// timeoutCaller bounds each model call with a deadline.
type timeoutCaller struct {
	inner   ModelCaller
	timeout time.Duration
}

func (t *timeoutCaller) Invoke(ctx context.Context, turns []Turn, opts InvokeOptions) (Turn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Invoke(ctx, turns, opts)
}

func (t *timeoutCaller) ModelTokenLimit(model string) int { return t.inner.ModelTokenLimit(model) }
