package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Control tools bound to the supervisor (and, for the latter two, also
// available to researchers).
const (
	toolThink            = "think"
	toolConductResearch  = "conduct_research"
	toolResearchComplete = "research_complete"
)

// supervisorToolSchemas builds the three control-tool schemas the planning
// model is bound to.
func supervisorToolSchemas() []ToolSchema {
	return []ToolSchema{
		{
			Name:        toolThink,
			Description: "Record a strategic reflection about the research so far before acting.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reflection": map[string]any{"type": "string", "description": "The reflection to record."},
				},
				"required": []string{"reflection"},
			},
		},
		{
			Name:        toolConductResearch,
			Description: "Delegate one focused research topic to a researcher.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"research_topic": map[string]any{"type": "string", "description": "A self-contained research topic."},
				},
				"required": []string{"research_topic"},
			},
		},
		{
			Name:        toolResearchComplete,
			Description: "Signal that the gathered findings cover the research brief.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

// researchControlSchemas are the control tools researchers may also call.
func researchControlSchemas() []ToolSchema {
	schemas := supervisorToolSchemas()
	return []ToolSchema{schemas[0], schemas[2]}
}

// SupervisorResult is the terminal state of one supervision run.
type SupervisorResult struct {
	Notes      []string
	RawNotes   []string
	Iterations int

	// Aborted marks early termination caused by a researcher or planner
	// failure; Cause carries the failure. Notes still hold everything
	// aggregated before the failure.
	Aborted bool
	Cause   error
}

// Supervisor plans research strategy and delegates topics to researchers,
// bounded by an iteration budget and a concurrency ceiling.
type Supervisor struct {
	model         *ModelWithTools
	researcher    *Researcher
	maxIterations int
	maxConcurrent int
	logger        *log.Logger
}

func NewSupervisor(model *ModelWithTools, researcher *Researcher, maxIterations, maxConcurrent int, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.New(log.Writer(), "[SUPERVISOR] ", log.LstdFlags)
	}
	return &Supervisor{
		model:         model,
		researcher:    researcher,
		maxIterations: maxIterations,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// Run supervises research for one brief until a termination condition is
// met. It never returns an error: failures terminate the loop early and are
// reported on the result.
func (s *Supervisor) Run(ctx context.Context, brief string) SupervisorResult {
	state := &SupervisorState{
		ResearchBrief: brief,
		SupervisorMessages: []Turn{
			SystemTurn(fmt.Sprintf(supervisorSystemPrompt, s.maxConcurrent)),
			UserTurn(fmt.Sprintf(supervisorBriefTemplate, brief, today())),
		},
	}

	for {
		done, result := s.step(ctx, state)
		if done {
			result.Iterations = state.Iterations
			return result
		}
	}
}

// step performs one PLAN / DISPATCH / AGGREGATE round. It returns done=true
// with the terminal result once a termination condition holds.
func (s *Supervisor) step(ctx context.Context, state *SupervisorState) (bool, SupervisorResult) {
	response, err := s.model.Invoke(ctx, state.SupervisorMessages)
	if err != nil {
		s.logger.Printf("planning failed after %d iterations: %v", state.Iterations, err)
		return true, SupervisorResult{
			Notes:    NotesFromToolTurns(state.SupervisorMessages),
			RawNotes: state.RawNotes,
			Aborted:  true,
			Cause:    err,
		}
	}
	state.SupervisorMessages = append(state.SupervisorMessages, response)
	state.Iterations++

	if state.Iterations > s.maxIterations || len(response.ToolCalls) == 0 || hasCall(response, toolResearchComplete) {
		return true, SupervisorResult{
			Notes:    NotesFromToolTurns(state.SupervisorMessages),
			RawNotes: state.RawNotes,
		}
	}

	var toolTurns []Turn
	for _, call := range response.ToolCalls {
		if call.Name == toolThink {
			toolTurns = append(toolTurns, ToolTurn(call, fmt.Sprintf(thinkAckFormat, call.Args["reflection"])))
		}
	}

	var conduct []ToolCall
	for _, call := range response.ToolCalls {
		if call.Name == toolConductResearch {
			conduct = append(conduct, call)
		}
	}

	if len(conduct) > 0 {
		admitted := conduct
		var overflow []ToolCall
		if len(admitted) > s.maxConcurrent {
			overflow = admitted[s.maxConcurrent:]
			admitted = admitted[:s.maxConcurrent]
		}

		outputs, err := s.dispatch(ctx, admitted)
		if err != nil {
			s.logger.Printf("researcher failure aborts supervision: %v", err)
			return true, SupervisorResult{
				Notes:    NotesFromToolTurns(state.SupervisorMessages),
				RawNotes: state.RawNotes,
				Aborted:  true,
				Cause:    err,
			}
		}

		for i, call := range admitted {
			toolTurns = append(toolTurns, ToolTurn(call, outputs[i].CompressedResearch))
		}
		for _, call := range overflow {
			toolTurns = append(toolTurns, ToolTurn(call, fmt.Sprintf(conductOverflowFormat, s.maxConcurrent)))
		}

		var pooled []string
		for _, out := range outputs {
			pooled = append(pooled, out.RawNotes...)
		}
		if joined := strings.Join(pooled, "\n"); joined != "" {
			state.RawNotes = append(state.RawNotes, joined)
		}
	}

	state.SupervisorMessages = append(state.SupervisorMessages, toolTurns...)
	return false, SupervisorResult{}
}

// dispatch fans the admitted delegations out as concurrent researcher runs
// and joins on all of them. The first failure wins; remaining results are
// discarded.
func (s *Supervisor) dispatch(ctx context.Context, calls []ToolCall) ([]ResearcherOutputState, error) {
	outputs := make([]ResearcherOutputState, len(calls))
	errCh := make(chan error, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		topic, _ := call.Args["research_topic"].(string)
		if topic == "" {
			topic = fmt.Sprintf("%v", call.Args)
		}
		wg.Add(1)
		go func(i int, topic string) {
			defer wg.Done()
			out, err := s.researcher.Run(ctx, topic)
			if err != nil {
				errCh <- err
				return
			}
			outputs[i] = out
		}(i, topic)
	}

	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}
	return outputs, nil
}
