package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// ModelWithTools binds a tool list onto a ModelCaller. Native tool binding is
// attempted first on every call; if the backend rejects it (models without
// function-calling support), the wrapper falls back to prompted extraction:
// it renders the tool menu as text, asks for a structured decision object and
// converts the result into regular tool calls.
type ModelWithTools struct {
	caller      ModelCaller
	tools       []ToolSchema
	model       string
	maxTokens   int
	temperature float64
	logger      *log.Logger
}

func NewModelWithTools(caller ModelCaller, model string, maxTokens int, temperature float64, tools []ToolSchema, logger *log.Logger) *ModelWithTools {
	if logger == nil {
		logger = log.New(log.Writer(), "[MODEL] ", log.LstdFlags)
	}
	return &ModelWithTools{
		caller:      caller,
		tools:       tools,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// Invoke performs one model round over the transcript. The returned turn may
// carry zero or more tool calls.
func (m *ModelWithTools) Invoke(ctx context.Context, turns []Turn) (Turn, error) {
	turn, err := m.caller.Invoke(ctx, turns, InvokeOptions{
		Model:       m.model,
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
		Tools:       m.tools,
	})
	if err == nil {
		return turn, nil
	}
	m.logger.Printf("native tool binding failed for %s, falling back to prompted extraction: %v", m.model, err)
	return m.promptedInvoke(ctx, turns)
}

// toolChoice is the decision object the prompted fallback asks the model for.
type toolChoice struct {
	ShouldUseTool bool             `json:"should_use_tool"`
	ToolCalls     []toolChoiceCall `json:"tool_calls"`
	Reasoning     string           `json:"reasoning"`
}

type toolChoiceCall struct {
	Name string `json:"name"`
	Args any    `json:"args"`
}

var toolChoiceSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"should_use_tool": map[string]any{"type": "boolean"},
		"tool_calls": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"args": map[string]any{"type": "object"},
				},
				"required": []string{"name"},
			},
		},
		"reasoning": map[string]any{"type": "string"},
	},
	"required": []string{"should_use_tool", "reasoning"},
}

func (m *ModelWithTools) promptedInvoke(ctx context.Context, turns []Turn) (Turn, error) {
	prompt := m.renderToolPrompt(turns)
	withPrompt := append(append([]Turn(nil), turns...), UserTurn(prompt))

	resp, err := m.caller.Invoke(ctx, withPrompt, InvokeOptions{
		Model:       m.model,
		MaxTokens:   m.maxTokens,
		Temperature: 0.1,
		Schema:      &ResponseSchema{Name: "tool_choice", Schema: toolChoiceSchema},
	})
	if err != nil {
		return Turn{}, fmt.Errorf("prompted tool extraction: %w", err)
	}

	var choice toolChoice
	if err := json.Unmarshal([]byte(resp.Content), &choice); err != nil {
		return Turn{}, fmt.Errorf("prompted tool extraction: decode decision: %w", err)
	}

	turn := AssistantTurn(choice.Reasoning)
	if choice.ShouldUseTool {
		for i, raw := range choice.ToolCalls {
			turn.ToolCalls = append(turn.ToolCalls, normalizeExtractedCall(raw, i))
		}
	}
	return turn, nil
}

func (m *ModelWithTools) renderToolPrompt(turns []Turn) string {
	var history strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&history, "<%s>: %s\n", t.Role, t.Content)
		for _, call := range t.ToolCalls {
			fmt.Fprintf(&history, "<tool_call>: %s(%v)\n", call.Name, call.Args)
		}
	}

	var menu strings.Builder
	for _, t := range m.tools {
		fmt.Fprintf(&menu, "- %s: %s\n", t.Name, t.Description)
	}

	return fmt.Sprintf(`<conversation_history>
%s</conversation_history>

<available_tools>
%s</available_tools>

Based on this conversation, decide whether any of the available tools should be used next. Use tools when more information must be gathered; answer directly when the conversation already contains what is needed. Multiple tools may be called in parallel.

Respond with a JSON object: "should_use_tool" (boolean), "tool_calls" (list of {"name", "args"}), "reasoning" (why you decided this).`, history.String(), menu.String())
}

// normalizeExtractedCall repairs the argument shapes weaker models produce:
// args arriving as a JSON string are parsed, a bare string becomes the
// single named parameter, and conduct_research always ends up with a
// research_topic argument.
func normalizeExtractedCall(raw toolChoiceCall, idx int) ToolCall {
	call := ToolCall{
		ID:   fmt.Sprintf("call_%d", idx),
		Name: raw.Name,
		Args: map[string]any{},
	}

	switch args := raw.Args.(type) {
	case map[string]any:
		call.Args = args
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(args), &parsed); err == nil {
			call.Args = parsed
		} else if raw.Name == toolConductResearch {
			call.Args = map[string]any{"research_topic": args}
		} else {
			call.Args = map[string]any{"text": args}
		}
	}

	if raw.Name == toolConductResearch {
		if _, ok := call.Args["research_topic"]; !ok && len(call.Args) == 1 {
			for k, v := range call.Args {
				call.Args["research_topic"] = v
				delete(call.Args, k)
			}
		}
	}
	return call
}
