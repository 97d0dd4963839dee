package core

import (
	"context"
	"time"
)

// ModelCaller is the single capability the engine needs from an LLM backend:
// given a transcript and per-call options, return the assistant's next turn.
// Implementations live under provider/.
type ModelCaller interface {
	// Invoke performs one chat completion. When opts.Tools is non-empty the
	// backend binds the tool list and may return tool calls on the turn.
	// When opts.Schema is set the backend must return a single JSON object
	// conforming to the schema in the turn content.
	Invoke(ctx context.Context, turns []Turn, opts InvokeOptions) (Turn, error)

	// ModelTokenLimit reports the context-window size for a model name,
	// or 0 when unknown.
	ModelTokenLimit(model string) int
}

// InvokeOptions carries per-call model parameters.
type InvokeOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Tools       []ToolSchema
	Schema      *ResponseSchema
}

// ToolSchema describes one tool for model binding.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ResponseSchema requests structured output: a single JSON object named Name
// conforming to the JSON schema in Schema.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
}

// Tool is a capability a researcher can exercise. Implementations live under
// tools/ and internal/knowledge; they are registered on a Registry.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the tool's arguments.
	Parameters() map[string]any
	// Invoke runs the tool and returns its observation as text.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// TokenLimitClassifier decides whether a model error (or oversized input)
// indicates the context window was exceeded. Injectable so loops that react
// to overflow can be tested deterministically.
type TokenLimitClassifier func(text string, model string) bool

// AgentState is the top-level run state threaded through the four
// orchestrator stages.
type AgentState struct {
	Messages      []Turn   `json:"messages"`
	ResearchBrief string   `json:"research_brief"`
	Notes         []string `json:"notes"`
	RawNotes      []string `json:"raw_notes"`
	FinalReport   string   `json:"final_report"`
}

// SupervisorState is the private state of one supervisor loop.
type SupervisorState struct {
	SupervisorMessages []Turn   `json:"supervisor_messages"`
	ResearchBrief      string   `json:"research_brief"`
	Notes              []string `json:"notes"`
	RawNotes           []string `json:"raw_notes"`
	Iterations         int      `json:"research_iterations"`
}

// ResearcherState is the private state of one researcher loop.
type ResearcherState struct {
	ResearcherMessages []Turn `json:"researcher_messages"`
	ResearchTopic      string `json:"research_topic"`
	ToolCallIterations int    `json:"tool_call_iterations"`
}

// ResearcherOutputState is what a researcher hands back to its supervisor.
type ResearcherOutputState struct {
	CompressedResearch string   `json:"compressed_research"`
	RawNotes           []string `json:"raw_notes"`
}

// ClarifyDecision is the structured verdict of the clarification stage.
type ClarifyDecision struct {
	NeedClarification bool   `json:"need_clarification"`
	Question          string `json:"question"`
	Verification      string `json:"verification"`
}

// ResearchBrief is the structured output of the brief stage.
type ResearchBrief struct {
	ResearchBrief string `json:"research_brief"`
}

// EventType tags progress events emitted while a run executes.
type EventType string

const (
	EventClarificationNeeded EventType = "clarification_needed"
	EventStageProgress       EventType = "stage_progress"
	EventFinalReport         EventType = "final_report"
	EventRunFailed           EventType = "run_failed"
)

// Event is one progress notification from a research run.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunResult is the terminal outcome of a research run. RawNotes carries the
// unprocessed researcher observations; the synthesized notes are consumed by
// report generation and not returned.
type RunResult struct {
	RunID              string        `json:"run_id"`
	FinalReport        string        `json:"final_report"`
	ClarificationAsked bool          `json:"clarification_asked"`
	Question           string        `json:"question,omitempty"`
	ResearchBrief      string        `json:"research_brief,omitempty"`
	RawNotes           []string      `json:"raw_notes,omitempty"`
	Duration           time.Duration `json:"duration"`
	CreatedAt          time.Time     `json:"created_at"`
}
