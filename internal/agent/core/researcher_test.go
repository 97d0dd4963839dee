package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestResearcher(caller ModelCaller, reg *Registry, maxToolCalls int) *Researcher {
	model := NewModelWithTools(caller, "gpt-4o", 0, 0, append(reg.Schemas(), researchControlSchemas()...), testLogger())
	compressor := NewCompressor(caller, "gpt-4o", 0, 3, testLogger())
	invoker := NewToolInvoker(reg, nil, testLogger())
	return NewResearcher(model, reg, invoker, compressor, maxToolCalls, 4, testLogger())
}

// The full researcher round from the brief "compare two algorithms": one
// executed search, one folded near-duplicate, a reflection and an explicit
// completion signal, followed by compression.
func TestResearcherRoundWithDuplicateAndCompletion(t *testing.T) {
	reg := NewRegistry()
	search := &countingTool{name: "web_search", result: "results about algorithms"}
	reg.RegisterSearch(search)

	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		if len(opts.Tools) > 0 {
			return Turn{Role: RoleAssistant, Content: "searching", ToolCalls: []ToolCall{
				{ID: "c1", Name: "web_search", Args: map[string]any{"query": "algo A"}},
				{ID: "c2", Name: "web_search", Args: map[string]any{"query": "algo a"}},
				{ID: "c3", Name: toolThink, Args: map[string]any{"reflection": "A looks promising"}},
				{ID: "c4", Name: toolResearchComplete, Args: map[string]any{}},
			}}, nil
		}
		// Synthesis call.
		return AssistantTurn("compressed findings on the two algorithms"), nil
	}

	r := newTestResearcher(caller, reg, 15)
	out, err := r.Run(context.Background(), "compare two algorithms")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if search.callCount() != 1 {
		t.Fatalf("search executed %d times, want 1", search.callCount())
	}
	if out.CompressedResearch == "" {
		t.Fatal("compressed research must be non-empty")
	}
	if len(out.RawNotes) == 0 {
		t.Fatal("raw notes must not be empty")
	}
	if !strings.Contains(out.RawNotes[0], similarSearchNotice) {
		t.Fatal("raw notes should include the duplicate rejection")
	}
	if !strings.Contains(out.RawNotes[0], "Reflection recorded") {
		t.Fatal("raw notes should include the think acknowledgement")
	}
}

func TestResearcherStopsWithoutToolCalls(t *testing.T) {
	reg := NewRegistry()
	search := &countingTool{name: "web_search", result: "irrelevant"}
	reg.RegisterSearch(search)

	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		return AssistantTurn("nothing to do"), nil
	}

	r := newTestResearcher(caller, reg, 15)
	out, err := r.Run(context.Background(), "anything")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if search.callCount() != 0 {
		t.Fatalf("no tool should run, got %d executions", search.callCount())
	}
	if out.CompressedResearch == "" {
		t.Fatal("compression must still produce output")
	}
}

func TestResearcherIterationBudget(t *testing.T) {
	reg := NewRegistry()
	fetch := &countingTool{name: "web_fetch", result: "page"}
	reg.Register(fetch)

	round := 0
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		if len(opts.Tools) == 0 {
			return AssistantTurn("synthesis"), nil
		}
		round++
		// A fresh URL each round so nothing is a duplicate.
		return Turn{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "r" + string(rune('0'+round)), Name: "web_fetch", Args: map[string]any{"url": round}},
		}}, nil
	}

	r := newTestResearcher(caller, reg, 2)
	if _, err := r.Run(context.Background(), "budget"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if round != 2 {
		t.Fatalf("model acted %d times, want 2 (budget)", round)
	}
}

func TestResearcherToolFailureBecomesObservation(t *testing.T) {
	reg := NewRegistry()
	broken := &countingTool{name: "web_fetch", err: errors.New("connection refused")}
	reg.Register(broken)

	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		if len(opts.Tools) == 0 {
			// The failure text must reach the synthesis transcript.
			joined := BufferString(turns)
			if !strings.Contains(joined, "Error executing tool: connection refused") {
				t.Fatal("tool error text missing from transcript")
			}
			return AssistantTurn("synthesis despite failure"), nil
		}
		return Turn{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "c1", Name: "web_fetch", Args: map[string]any{"url": "https://down.example.com"}},
			{ID: "c2", Name: toolResearchComplete, Args: map[string]any{}},
		}}, nil
	}

	r := newTestResearcher(caller, reg, 15)
	out, err := r.Run(context.Background(), "resilience")
	if err != nil {
		t.Fatalf("tool failure must not abort the loop: %v", err)
	}
	if out.CompressedResearch != "synthesis despite failure" {
		t.Fatalf("unexpected synthesis: %q", out.CompressedResearch)
	}
}

func TestResearcherModelFailureIsCatastrophic(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterSearch(&countingTool{name: "web_search", result: "x"})

	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		return Turn{}, errors.New("model unavailable")
	}

	r := newTestResearcher(caller, reg, 15)
	if _, err := r.Run(context.Background(), "doomed"); err == nil {
		t.Fatal("model failure must propagate")
	}
}
