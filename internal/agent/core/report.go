package core

import (
	"context"
	"fmt"
	"log"
)

// ReportGenerator assembles the final report from the research brief, the
// original conversation and the aggregated findings. Overflow is handled by
// geometrically shrinking the findings string; exhausting the retry budget
// degrades to a fixed error artifact, never an error return.
type ReportGenerator struct {
	caller     ModelCaller
	model      string
	maxTokens  int
	maxRetries int

	isOverflow TokenLimitClassifier
	logger     *log.Logger
}

func NewReportGenerator(caller ModelCaller, model string, maxTokens, maxRetries int, logger *log.Logger) *ReportGenerator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[REPORT] ", log.LstdFlags)
	}
	return &ReportGenerator{
		caller:     caller,
		model:      model,
		maxTokens:  maxTokens,
		maxRetries: maxRetries,
		isOverflow: IsTokenLimitExceeded,
		logger:     logger,
	}
}

// Generate writes the final report. findings is consumed whole; on overflow
// it is truncated to 70% of its current length and the attempt repeated.
func (g *ReportGenerator) Generate(ctx context.Context, brief string, conversation []Turn, findings string) string {
	transcript := BufferString(conversation)

	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		prompt := fmt.Sprintf(reportPromptTemplate, brief, transcript, findings, today())
		resp, err := g.caller.Invoke(ctx, []Turn{UserTurn(prompt)}, InvokeOptions{
			Model:     g.model,
			MaxTokens: g.maxTokens,
		})
		if err == nil {
			return resp.Content
		}
		if g.isOverflow(err.Error(), g.model) {
			findings = findings[:len(findings)*7/10]
			g.logger.Printf("report attempt %d overflowed, truncating findings to %d bytes", attempt, len(findings))
			continue
		}
		g.logger.Printf("report attempt %d failed: %v", attempt, err)
	}

	return reportFailureContent
}
