package core

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ToolInvoker executes registry tools on behalf of researcher loops. An
// invocation never retries and never escapes: tool errors and panics are
// converted into error-text observations so a single flaky tool cannot
// abort a whole research unit.
type ToolInvoker struct {
	registry  *Registry
	telemetry toolMetrics
	logger    *log.Logger
}

// toolMetrics is the slice of telemetry the invoker reports to.
type toolMetrics interface {
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err bool)
}

func NewToolInvoker(registry *Registry, metrics toolMetrics, logger *log.Logger) *ToolInvoker {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &ToolInvoker{registry: registry, telemetry: metrics, logger: logger}
}

// Invoke runs one tool call and returns its observation text. Failures come
// back as (text, false) where text already carries the error message in the
// shape tool-role turns expect.
func (iv *ToolInvoker) Invoke(ctx context.Context, call ToolCall) (result string, ok bool) {
	tool, found := iv.registry.Get(call.Name)
	if !found {
		return fmt.Sprintf("Error executing tool: unknown tool %q", call.Name), false
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			iv.logger.Printf("tool %s panicked: %v", call.Name, r)
			result = fmt.Sprintf("Error executing tool: %v", r)
			ok = false
		}
		if iv.telemetry != nil {
			iv.telemetry.RecordToolExecution(ctx, call.Name, time.Since(start), !ok)
		}
	}()

	out, err := tool.Invoke(ctx, call.Args)
	if err != nil {
		iv.logger.Printf("tool %s failed (args %v): %v", call.Name, sortedArgNames(call.Args), err)
		return fmt.Sprintf("Error executing tool: %s", err.Error()), false
	}
	return out, true
}
