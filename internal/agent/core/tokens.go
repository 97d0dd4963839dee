package core

import "strings"

const tokenLimitBuffer = 1000

// Context-window sizes by model family. Unknown models get the default; the
// table is intentionally conservative for older families.
var modelTokenLimits = map[string]int{
	"gpt-4":             8192,
	"gpt-4-turbo":       128000,
	"gpt-4o":            128000,
	"gpt-3.5-turbo":     4096,
	"claude-3-opus":     200000,
	"claude-3-sonnet":   200000,
	"claude-3-haiku":    200000,
	"claude-3-5-sonnet": 200000,
}

const defaultTokenLimit = 4096

// ModelTokenLimit returns the context-window size for a model name, trying
// an exact match first, then a substring match against known families.
func ModelTokenLimit(model string) int {
	if limit, ok := modelTokenLimits[model]; ok {
		return limit
	}
	lower := strings.ToLower(model)
	for family, limit := range modelTokenLimits {
		if strings.Contains(lower, family) {
			return limit
		}
	}
	return defaultTokenLimit
}

// IsTokenLimitExceeded estimates whether text overruns a model's window,
// leaving room for the response. One token is approximated as four bytes.
func IsTokenLimitExceeded(text string, model string) bool {
	estimated := len(text) / 4
	return estimated > ModelTokenLimit(model)-tokenLimitBuffer
}
