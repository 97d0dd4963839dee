package core

import "fmt"

// Verdict classifies one proposed tool call against the history of calls
// already answered in the transcript.
type Verdict int

const (
	CallApproved Verdict = iota
	CallExactDuplicate
	CallNormalizedDuplicate
	CallRateLimited
)

func (v Verdict) String() string {
	switch v {
	case CallApproved:
		return "approved"
	case CallExactDuplicate:
		return "exact_duplicate"
	case CallNormalizedDuplicate:
		return "normalized_duplicate"
	case CallRateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Rejection texts are fixed so models learn to recognize them across rounds.
const (
	exactDuplicateNotice  = "Duplicate call skipped: This exact tool call was already successfully executed."
	similarSearchNotice   = "Similar search skipped: A very similar query was already successfully executed."
	rateLimitNoticeFormat = "Rate limit reached for %s. Try a different tool or finalize the research."
)

// CallDecision pairs a proposed call with its verdict. Rejected calls carry
// the notice text to answer them with.
type CallDecision struct {
	Call    ToolCall
	Verdict Verdict
	Notice  string
}

// FilterToolCalls classifies a batch of proposed calls against the
// transcript so far. It is a pure function of its inputs.
//
// A prior call counts toward history only if it was answered: its ID appears
// as the ToolCallID of some tool-role turn. Within the batch, earlier
// decisions feed later ones, so the second copy of a call in one batch is
// already a duplicate. Duplicate checks run before rate limiting; a call is
// rate limited once the tool has maxPerTool answered-plus-approved calls.
func FilterToolCalls(history []Turn, proposed []ToolCall, isSearchClass func(string) bool, maxPerTool int) []CallDecision {
	answered := make(map[string]bool)
	for _, t := range history {
		if t.Role == RoleTool && t.ToolCallID != "" {
			answered[t.ToolCallID] = true
		}
	}

	priorKeys := make(map[string]bool)
	priorCounts := make(map[string]int)
	for _, t := range history {
		if t.Role != RoleAssistant {
			continue
		}
		for _, call := range t.ToolCalls {
			if !answered[call.ID] {
				continue
			}
			priorCounts[call.Name]++
			priorKeys[call.ExactKey()] = true
			if isSearchClass != nil && isSearchClass(call.Name) {
				priorKeys[call.NormalizedKey()] = true
			}
		}
	}

	seen := make(map[string]bool)
	batchCounts := make(map[string]int)
	decisions := make([]CallDecision, 0, len(proposed))

	for _, call := range proposed {
		exact := call.ExactKey()
		if priorKeys[exact] || seen[exact] {
			decisions = append(decisions, CallDecision{Call: call, Verdict: CallExactDuplicate, Notice: exactDuplicateNotice})
			continue
		}

		if isSearchClass != nil && isSearchClass(call.Name) {
			norm := call.NormalizedKey()
			if priorKeys[norm] || seen[norm] {
				decisions = append(decisions, CallDecision{Call: call, Verdict: CallNormalizedDuplicate, Notice: similarSearchNotice})
				continue
			}
			seen[norm] = true
		}

		if priorCounts[call.Name]+batchCounts[call.Name] >= maxPerTool {
			decisions = append(decisions, CallDecision{Call: call, Verdict: CallRateLimited, Notice: fmt.Sprintf(rateLimitNoticeFormat, call.Name)})
			continue
		}

		seen[exact] = true
		batchCounts[call.Name]++
		decisions = append(decisions, CallDecision{Call: call, Verdict: CallApproved})
	}

	return decisions
}
