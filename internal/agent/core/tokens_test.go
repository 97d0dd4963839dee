package core

import (
	"strings"
	"testing"
)

func TestModelTokenLimitLookup(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"gpt-4o", 128000},
		{"gpt-4", 8192},
		{"openai/gpt-4-turbo-preview", 128000},
		{"claude-3-5-sonnet-20241022", 200000},
		{"some-unknown-model", defaultTokenLimit},
	}
	for _, c := range cases {
		if got := ModelTokenLimit(c.model); got != c.want {
			t.Errorf("ModelTokenLimit(%q) = %d, want %d", c.model, got, c.want)
		}
	}
}

func TestIsTokenLimitExceeded(t *testing.T) {
	// gpt-4 limit 8192, buffer 1000: threshold is 7192 tokens, ~28768 bytes.
	small := strings.Repeat("a", 1000)
	if IsTokenLimitExceeded(small, "gpt-4") {
		t.Fatal("small text must not classify as overflow")
	}
	big := strings.Repeat("a", 4*(8192-1000)+8)
	if !IsTokenLimitExceeded(big, "gpt-4") {
		t.Fatal("oversized text must classify as overflow")
	}
}
