package core

import (
	"context"
	"io"
	"log"
	"sync"
)

// behaviorCaller routes every model call through one function, so tests can
// dispatch on the bound model, tools or schema.
type behaviorCaller struct {
	mu    sync.Mutex
	calls int
	fn    func(turns []Turn, opts InvokeOptions) (Turn, error)
}

func (b *behaviorCaller) Invoke(_ context.Context, turns []Turn, opts InvokeOptions) (Turn, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return b.fn(turns, opts)
}

func (b *behaviorCaller) ModelTokenLimit(model string) int { return ModelTokenLimit(model) }

func (b *behaviorCaller) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// countingTool records invocations and returns a fixed result.
type countingTool struct {
	name   string
	result string
	err    error

	mu    sync.Mutex
	calls int
}

func (t *countingTool) Name() string        { return t.name }
func (t *countingTool) Description() string { return "test tool " + t.name }
func (t *countingTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	}
}

func (t *countingTool) Invoke(_ context.Context, _ map[string]any) (string, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	return t.result, nil
}

func (t *countingTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// hasToolSchema reports whether a binding includes a tool by name.
func hasToolSchema(tools []ToolSchema, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func toolTurns(turns []Turn) []Turn {
	var out []Turn
	for _, t := range turns {
		if t.Role == RoleTool {
			out = append(out, t)
		}
	}
	return out
}
