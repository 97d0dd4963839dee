package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCompressorShedsOnOverflow(t *testing.T) {
	transcript := []Turn{
		SystemTurn("system"),
		UserTurn("topic"),
		AssistantTurn("first pass"),
		{Role: RoleTool, Content: "old observation", ToolCallID: "c1", ToolName: "web_search"},
		AssistantTurn("second pass"),
		{Role: RoleTool, Content: "new observation", ToolCallID: "c2", ToolName: "web_search"},
	}

	var lengths []int
	attempt := 0
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		attempt++
		lengths = append(lengths, len(turns))
		if attempt == 1 {
			return Turn{}, errors.New("context overflow")
		}
		return AssistantTurn("condensed"), nil
	}

	c := NewCompressor(caller, "gpt-4o", 0, 3, testLogger())
	c.isOverflow = func(text, model string) bool { return strings.Contains(text, "overflow") }

	out := c.Compress(context.Background(), transcript, "topic")
	if out.CompressedResearch != "condensed" {
		t.Fatalf("got %q", out.CompressedResearch)
	}
	if len(lengths) != 2 {
		t.Fatalf("got %d attempts, want 2", len(lengths))
	}
	if lengths[1] >= lengths[0] {
		t.Fatalf("retry transcript must shrink: %d -> %d", lengths[0], lengths[1])
	}
	// Shedding keeps the suffix from the last assistant turn onwards.
	if !strings.Contains(out.RawNotes[0], "new observation") {
		t.Fatal("raw notes must keep the retained transcript")
	}
	if strings.Contains(out.RawNotes[0], "old observation") {
		t.Fatal("raw notes must not include shed turns")
	}
}

func TestCompressorNonOverflowRetriesUnchanged(t *testing.T) {
	transcript := []Turn{AssistantTurn("a"), {Role: RoleTool, Content: "obs", ToolCallID: "c1"}}

	var lengths []int
	attempt := 0
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		attempt++
		lengths = append(lengths, len(turns))
		if attempt < 3 {
			return Turn{}, errors.New("transient")
		}
		return AssistantTurn("condensed"), nil
	}

	c := NewCompressor(caller, "gpt-4o", 0, 3, testLogger())
	c.isOverflow = func(string, string) bool { return false }

	out := c.Compress(context.Background(), transcript, "topic")
	if out.CompressedResearch != "condensed" {
		t.Fatalf("got %q", out.CompressedResearch)
	}
	for i := 1; i < len(lengths); i++ {
		if lengths[i] != lengths[0] {
			t.Fatalf("non-overflow retry must not shrink the transcript")
		}
	}
}

func TestCompressorExhaustionDegrades(t *testing.T) {
	caller := &behaviorCaller{}
	caller.fn = func(turns []Turn, opts InvokeOptions) (Turn, error) {
		return Turn{}, errors.New("always failing")
	}

	c := NewCompressor(caller, "gpt-4o", 0, 3, testLogger())
	c.isOverflow = func(string, string) bool { return false }

	out := c.Compress(context.Background(), []Turn{AssistantTurn("work")}, "topic")
	if out.CompressedResearch != compressFailureContent {
		t.Fatalf("got %q, want the fixed failure artifact", out.CompressedResearch)
	}
	if caller.callCount() != 3 {
		t.Fatalf("got %d attempts, want 3", caller.callCount())
	}
	if len(out.RawNotes) == 0 {
		t.Fatal("raw notes must still be derived from the remaining transcript")
	}
}
