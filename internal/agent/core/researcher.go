package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// researcherPhase tags the next state of a researcher loop step.
type researcherPhase int

const (
	researcherAct researcherPhase = iota
	researcherCompress
)

// Researcher runs one focused research topic: a react loop over the
// registered tools, followed by compression of the transcript into a
// finding. Each run gets fresh state; a Researcher is safe to share across
// concurrent delegations.
type Researcher struct {
	model      *ModelWithTools
	registry   *Registry
	invoker    *ToolInvoker
	compressor *Compressor

	maxToolCalls   int
	maxPerToolName int
	logger         *log.Logger
}

func NewResearcher(model *ModelWithTools, registry *Registry, invoker *ToolInvoker, compressor *Compressor, maxToolCalls, maxPerToolName int, logger *log.Logger) *Researcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCHER] ", log.LstdFlags)
	}
	return &Researcher{
		model:          model,
		registry:       registry,
		invoker:        invoker,
		compressor:     compressor,
		maxToolCalls:   maxToolCalls,
		maxPerToolName: maxPerToolName,
		logger:         logger,
	}
}

// Run executes the loop for one topic. The returned error is reserved for
// catastrophic failures (the model itself failing even through the fallback
// path); tool failures and overflow during compression never surface here.
func (r *Researcher) Run(ctx context.Context, topic string) (ResearcherOutputState, error) {
	state := &ResearcherState{
		ResearchTopic: topic,
		ResearcherMessages: []Turn{
			SystemTurn(fmt.Sprintf(researcherSystemPrompt, topic, r.registry.Describe(), today())),
			UserTurn(topic),
		},
	}

	for {
		next, err := r.step(ctx, state)
		if err != nil {
			return ResearcherOutputState{}, fmt.Errorf("researcher %q: %w", topic, err)
		}
		if next == researcherCompress {
			break
		}
	}

	return r.compressor.Compress(ctx, state.ResearcherMessages, topic), nil
}

// step performs one ACT / FILTER / EXECUTE round and reports where the loop
// goes next.
func (r *Researcher) step(ctx context.Context, state *ResearcherState) (researcherPhase, error) {
	response, err := r.model.Invoke(ctx, state.ResearcherMessages)
	if err != nil {
		return researcherCompress, err
	}
	state.ResearcherMessages = append(state.ResearcherMessages, response)
	state.ToolCallIterations++

	if len(response.ToolCalls) == 0 {
		return researcherCompress, nil
	}

	history := state.ResearcherMessages[:len(state.ResearcherMessages)-1]
	decisions := FilterToolCalls(history, response.ToolCalls, r.registry.IsSearchClass, r.maxPerToolName)

	var approved []ToolCall
	for _, d := range decisions {
		if d.Verdict == CallApproved {
			approved = append(approved, d.Call)
			continue
		}
		r.logger.Printf("rejected %s call (%s)", d.Call.Name, d.Verdict)
		state.ResearcherMessages = append(state.ResearcherMessages, ToolTurn(d.Call, d.Notice))
	}

	state.ResearcherMessages = append(state.ResearcherMessages, r.execute(ctx, approved)...)

	if state.ToolCallIterations >= r.maxToolCalls || hasCall(response, toolResearchComplete) {
		return researcherCompress, nil
	}
	return researcherAct, nil
}

// execute runs approved calls concurrently and returns their tool turns in
// call order. Control tools are answered in place without touching the
// invoker.
func (r *Researcher) execute(ctx context.Context, calls []ToolCall) []Turn {
	results := make([]Turn, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		switch call.Name {
		case toolThink:
			results[i] = ToolTurn(call, fmt.Sprintf(thinkAckFormat, call.Args["reflection"]))
			continue
		case toolResearchComplete:
			results[i] = ToolTurn(call, researchCompleteAck)
			continue
		}
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			start := time.Now()
			observation, ok := r.invoker.Invoke(ctx, call)
			if ok {
				r.logger.Printf("tool %s finished in %s", call.Name, time.Since(start).Round(time.Millisecond))
			}
			results[i] = ToolTurn(call, observation)
		}(i, call)
	}
	wg.Wait()
	return results
}

func hasCall(turn Turn, name string) bool {
	for _, call := range turn.ToolCalls {
		if call.Name == name {
			return true
		}
	}
	return false
}

func today() string {
	return time.Now().Format("2006-01-02")
}
