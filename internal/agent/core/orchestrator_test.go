package core

import (
	"context"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deepscout/config"
)

func orchestratorTestConfig() *config.Config {
	return &config.Config{
		Research: config.ResearchConfig{
			AllowClarification:         true,
			MaxConcurrentResearchUnits: 3,
			MaxResearcherIterations:    5,
			MaxReactToolCalls:          15,
			MaxStructuredOutputRetries: 3,
			MaxToolCallsPerTool:        4,
		},
		LLM: config.LLMConfig{Routing: config.LLMRoutingConfig{
			Clarification: "clarify-model",
			Supervision:   "sup-model",
			Research:      "res-model",
			Compression:   "comp-model",
			Report:        "report-model",
		}},
	}
}

func newTestOrchestrator(caller ModelCaller) *Orchestrator {
	reg := NewRegistry()
	reg.RegisterSearch(&countingTool{name: "web_search", result: "found"})
	return NewOrchestrator(orchestratorTestConfig(), caller, reg, nil)
}

func collectEvents(events <-chan Event) map[EventType][]Event {
	byType := make(map[EventType][]Event)
	for ev := range events {
		byType[ev.Type] = append(byType[ev.Type], ev)
	}
	return byType
}

func TestOrchestratorClarificationStopsRun(t *testing.T) {
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		if opts.Schema != nil && opts.Schema.Name == "clarify_decision" {
			return AssistantTurn(`{"need_clarification": true, "question": "Which two algorithms?"}`), nil
		}
		t.Fatalf("no model call expected after clarification, got model %q", opts.Model)
		return Turn{}, nil
	}

	o := newTestOrchestrator(caller)
	events := o.Run(context.Background(), "run-1", []Turn{UserTurn("compare algorithms")})
	byType := collectEvents(events)

	asked := byType[EventClarificationNeeded]
	if len(asked) != 1 {
		t.Fatalf("got %d clarification events, want 1", len(asked))
	}
	if asked[0].Message != "Which two algorithms?" {
		t.Fatalf("got question %q", asked[0].Message)
	}
	if len(byType[EventFinalReport]) != 0 {
		t.Fatal("a clarification run must not produce a report")
	}
}

func TestOrchestratorFullRun(t *testing.T) {
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		switch {
		case opts.Schema != nil && opts.Schema.Name == "clarify_decision":
			return AssistantTurn(`{"need_clarification": false, "verification": "Starting research."}`), nil
		case opts.Schema != nil && opts.Schema.Name == "research_brief":
			return AssistantTurn(`{"research_brief": "compare algorithm A and B"}`), nil
		case opts.Model == "sup-model":
			// Supervisor decides immediately that nothing more is needed.
			return AssistantTurn("nothing to delegate"), nil
		case opts.Model == "report-model":
			return AssistantTurn("# Final Report"), nil
		default:
			t.Fatalf("unexpected model call %q", opts.Model)
			return Turn{}, nil
		}
	}

	o := newTestOrchestrator(caller)
	result := o.Execute(context.Background(), "run-2", []Turn{UserTurn("compare algorithms")}, nil)

	if result.ClarificationAsked {
		t.Fatal("no clarification expected")
	}
	if result.ResearchBrief != "compare algorithm A and B" {
		t.Fatalf("got brief %q", result.ResearchBrief)
	}
	if result.FinalReport != "# Final Report" {
		t.Fatalf("got report %q", result.FinalReport)
	}
}

func TestOrchestratorResultCarriesRawNotes(t *testing.T) {
	supRounds := 0
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		switch {
		case opts.Schema != nil && opts.Schema.Name == "clarify_decision":
			return AssistantTurn(`{"need_clarification": false}`), nil
		case opts.Schema != nil && opts.Schema.Name == "research_brief":
			return AssistantTurn(`{"research_brief": "brief"}`), nil
		case opts.Model == "sup-model":
			supRounds++
			if supRounds > 1 {
				return AssistantTurn("covered"), nil
			}
			return Turn{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "d1", Name: toolConductResearch, Args: map[string]any{"research_topic": "one topic"}},
			}}, nil
		case opts.Model == "res-model":
			return AssistantTurn("researched plenty"), nil
		case opts.Model == "comp-model":
			return AssistantTurn("condensed finding"), nil
		case opts.Model == "report-model":
			return AssistantTurn("# Report"), nil
		default:
			t.Fatalf("unexpected model call %q", opts.Model)
			return Turn{}, nil
		}
	}

	o := newTestOrchestrator(caller)
	result := o.Execute(context.Background(), "run-6", []Turn{UserTurn("q")}, nil)

	if result.FinalReport != "# Report" {
		t.Fatalf("got report %q", result.FinalReport)
	}
	// Synthesized notes are consumed by the report; the result keeps only the
	// unprocessed researcher observations.
	if len(result.RawNotes) == 0 {
		t.Fatal("result must carry the pooled raw notes")
	}
	if !strings.Contains(result.RawNotes[0], "researched plenty") {
		t.Fatalf("raw notes missing researcher observations: %q", result.RawNotes)
	}
}

func TestOrchestratorEmitsStageEvents(t *testing.T) {
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		switch {
		case opts.Schema != nil && opts.Schema.Name == "clarify_decision":
			return AssistantTurn(`{"need_clarification": false}`), nil
		case opts.Schema != nil && opts.Schema.Name == "research_brief":
			return AssistantTurn(`{"research_brief": "b"}`), nil
		default:
			return AssistantTurn("text"), nil
		}
	}

	o := newTestOrchestrator(caller)
	byType := collectEvents(o.Run(context.Background(), "run-3", []Turn{UserTurn("q")}))

	stages := make(map[string]bool)
	for _, ev := range byType[EventStageProgress] {
		stages[ev.Stage] = true
	}
	for _, want := range []string{"clarify", "brief", "research", "report"} {
		if !stages[want] {
			t.Fatalf("missing stage event %q (got %v)", want, stages)
		}
	}
	if len(byType[EventFinalReport]) != 1 {
		t.Fatalf("got %d final report events, want 1", len(byType[EventFinalReport]))
	}
}

func TestOrchestratorMalformedClarifyFallsBack(t *testing.T) {
	clarifyCalls := 0
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		switch {
		case opts.Schema != nil && opts.Schema.Name == "clarify_decision":
			clarifyCalls++
			return AssistantTurn("this is not json"), nil
		case opts.Schema != nil && opts.Schema.Name == "research_brief":
			return AssistantTurn(`{"research_brief": "fallback brief"}`), nil
		default:
			return AssistantTurn("output"), nil
		}
	}

	o := newTestOrchestrator(caller)
	result := o.Execute(context.Background(), "run-4", []Turn{UserTurn("q")}, nil)

	if clarifyCalls != 3 {
		t.Fatalf("clarify retried %d times, want 3", clarifyCalls)
	}
	if result.ClarificationAsked {
		t.Fatal("malformed clarify output must fall back to proceeding")
	}
	if result.FinalReport == "" {
		t.Fatal("run must still produce a report")
	}
}

func TestOrchestratorSkipsClarifyWhenDisabled(t *testing.T) {
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		if opts.Schema != nil && opts.Schema.Name == "clarify_decision" {
			t.Fatal("clarify must not run when disabled")
		}
		if opts.Schema != nil && opts.Schema.Name == "research_brief" {
			return AssistantTurn(`{"research_brief": "b"}`), nil
		}
		return AssistantTurn("x"), nil
	}

	cfg := orchestratorTestConfig()
	cfg.Research.AllowClarification = false
	reg := NewRegistry()
	o := NewOrchestrator(cfg, caller, reg, nil)

	result := o.Execute(context.Background(), "run-5", []Turn{UserTurn("q")}, nil)
	if result.FinalReport == "" {
		t.Fatal("run must produce a report")
	}
}
