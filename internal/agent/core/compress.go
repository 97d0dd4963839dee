package core

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Compressor condenses a researcher transcript into a structured finding.
// It never returns an error: overflow is handled by shedding older turns and
// retrying, and exhausting the retry budget degrades to a fixed error
// artifact so the supervisor always receives something aggregatable.
type Compressor struct {
	caller    ModelCaller
	model     string
	maxTokens int
	attempts  int

	isOverflow TokenLimitClassifier
	logger     *log.Logger
}

func NewCompressor(caller ModelCaller, model string, maxTokens, attempts int, logger *log.Logger) *Compressor {
	if attempts <= 0 {
		attempts = 3
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[COMPRESS] ", log.LstdFlags)
	}
	return &Compressor{
		caller:     caller,
		model:      model,
		maxTokens:  maxTokens,
		attempts:   attempts,
		isOverflow: IsTokenLimitExceeded,
		logger:     logger,
	}
}

// Compress synthesizes the transcript for one research topic.
func (c *Compressor) Compress(ctx context.Context, transcript []Turn, topic string) ResearcherOutputState {
	turns := append(append([]Turn(nil), transcript...), UserTurn(fmt.Sprintf(compressPromptTemplate, topic)))

	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.caller.Invoke(ctx, turns, InvokeOptions{
			Model:     c.model,
			MaxTokens: c.maxTokens,
		})
		if err == nil {
			return ResearcherOutputState{
				CompressedResearch: resp.Content,
				RawNotes:           rawNotes(turns),
			}
		}
		if c.isOverflow(err.Error(), c.model) {
			c.logger.Printf("synthesis attempt %d overflowed, shedding older turns", attempt)
			turns = TrimToLastAssistant(turns)
			continue
		}
		c.logger.Printf("synthesis attempt %d failed: %v", attempt, err)
	}

	return ResearcherOutputState{
		CompressedResearch: compressFailureContent,
		RawNotes:           rawNotes(turns),
	}
}

// rawNotes flattens the transcript's tool and assistant contents into the
// single raw-notes entry the supervisor pools.
func rawNotes(turns []Turn) []string {
	contents := ContentsByRole(turns, RoleTool, RoleAssistant)
	if len(contents) == 0 {
		return nil
	}
	return []string{strings.Join(contents, "\n")}
}
