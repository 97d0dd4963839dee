package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation proposed by a model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Turn is one entry in a conversation transcript. Assistant turns may carry
// tool calls; tool turns carry the ID and name of the call they answer.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

func SystemTurn(content string) Turn    { return Turn{Role: RoleSystem, Content: content} }
func UserTurn(content string) Turn      { return Turn{Role: RoleUser, Content: content} }
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// ToolTurn builds the tool-role answer for a specific call.
func ToolTurn(call ToolCall, content string) Turn {
	return Turn{Role: RoleTool, Content: content, ToolCallID: call.ID, ToolName: call.Name}
}

// ExactKey is the identity of a call for duplicate detection: the tool name
// plus the canonical JSON encoding of its arguments. encoding/json emits map
// keys in sorted order, so two calls with the same arguments always produce
// the same key regardless of insertion order.
func (c ToolCall) ExactKey() string {
	b, err := json.Marshal(c.Args)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", c.Args))
	}
	return c.Name + ":" + string(b)
}

// NormalizedKey folds trivially-different search queries together: the tool
// name is lowercased and every string argument (and argument name) is
// lowercased and trimmed before encoding. Non-string values pass through.
func (c ToolCall) NormalizedKey() string {
	norm := make(map[string]any, len(c.Args))
	for k, v := range c.Args {
		nk := strings.TrimSpace(strings.ToLower(k))
		if s, ok := v.(string); ok {
			norm[nk] = strings.TrimSpace(strings.ToLower(s))
		} else {
			norm[nk] = v
		}
	}
	b, err := json.Marshal(norm)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", norm))
	}
	return strings.ToLower(c.Name) + ":" + string(b)
}

// BufferString renders a transcript as plain labelled text, the shape prompts
// expect when they embed prior conversation.
func BufferString(turns []Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		switch t.Role {
		case RoleSystem:
			sb.WriteString("System: ")
		case RoleUser:
			sb.WriteString("User: ")
		case RoleAssistant:
			sb.WriteString("Assistant: ")
		case RoleTool:
			sb.WriteString("Tool: ")
		default:
			sb.WriteString(string(t.Role) + ": ")
		}
		sb.WriteString(t.Content)
	}
	return sb.String()
}

// NotesFromToolTurns collects the contents of every tool-role turn, in order.
func NotesFromToolTurns(turns []Turn) []string {
	var notes []string
	for _, t := range turns {
		if t.Role == RoleTool {
			notes = append(notes, t.Content)
		}
	}
	return notes
}

// ContentsByRole collects the contents of turns whose role is in the given set.
func ContentsByRole(turns []Turn, roles ...Role) []string {
	want := make(map[Role]bool, len(roles))
	for _, r := range roles {
		want[r] = true
	}
	var out []string
	for _, t := range turns {
		if want[t.Role] {
			out = append(out, t.Content)
		}
	}
	return out
}

// TrimToLastAssistant drops everything before the most recent assistant turn.
// Used to shed older context when a transcript no longer fits a model window.
// If there is no assistant turn the transcript is returned unchanged.
func TrimToLastAssistant(turns []Turn) []Turn {
	last := -1
	for i, t := range turns {
		if t.Role == RoleAssistant {
			last = i
		}
	}
	if last < 0 {
		return turns
	}
	return turns[last:]
}

// sortedArgNames is a debugging helper used in log lines.
func sortedArgNames(args map[string]any) []string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
