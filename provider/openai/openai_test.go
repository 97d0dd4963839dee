package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/agent/core"
)

type recordedUsage struct {
	model    string
	in, out  int64
	cost     float64
	recorded bool
}

func (r *recordedUsage) RecordLLMUsage(model, stage string, inputTokens, outputTokens int64, cost float64) {
	r.model = model
	r.in = inputTokens
	r.out = outputTokens
	r.cost = cost
	r.recorded = true
}

func testProvider(baseURL string) config.LLMProvider {
	return config.LLMProvider{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Models: map[string]config.LLMModel{
			"research": {
				Name:            "gpt-4o",
				APIName:         "gpt-4o-2024-08-06",
				MaxTokens:       128000,
				CostPer1K:       0.0025,
				CostPer1KOutput: 0.01,
			},
		},
	}
}

func TestInvokeEncodesRequest(t *testing.T) {
	var got chatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := NewClient(testProvider(srv.URL), nil)
	turns := []core.Turn{
		core.UserTurn("find sources"),
		{Role: core.RoleTool, Content: "observation", ToolCallID: "call-1", ToolName: "web_search"},
	}
	_, err := c.Invoke(context.Background(), turns, core.InvokeOptions{
		Model:     "research",
		MaxTokens: 4096,
		Tools: []core.ToolSchema{{
			Name:        "web_search",
			Description: "search the web",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if got.Model != "gpt-4o-2024-08-06" {
		t.Fatalf("model = %q, want routed api name", got.Model)
	}
	if got.MaxTokens != 4096 {
		t.Fatalf("max tokens = %d", got.MaxTokens)
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "web_search" {
		t.Fatalf("tools = %+v", got.Tools)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	toolMsg := got.Messages[1]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call-1" || toolMsg.Name != "web_search" {
		t.Fatalf("tool message = %+v", toolMsg)
	}
}

func TestInvokeEncodesResponseSchema(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": `{"need_clarification": false}`}}},
		})
	}))
	defer srv.Close()

	c := NewClient(testProvider(srv.URL), nil)
	_, err := c.Invoke(context.Background(), []core.Turn{core.UserTurn("q")}, core.InvokeOptions{
		Schema: &core.ResponseSchema{
			Name:   "clarify_decision",
			Schema: map[string]any{"type": "object"},
		},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got.ResponseFormat == nil {
		t.Fatal("expected response_format in request")
	}
	if got.ResponseFormat["type"] != "json_schema" {
		t.Fatalf("response_format type = %v", got.ResponseFormat["type"])
	}
	inner, ok := got.ResponseFormat["json_schema"].(map[string]any)
	if !ok || inner["name"] != "clarify_decision" {
		t.Fatalf("json_schema = %v", got.ResponseFormat["json_schema"])
	}
}

func TestInvokeDecodesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{
				"content": "let me search",
				"tool_calls": []map[string]any{
					{
						"id":   "call-1",
						"type": "function",
						"function": map[string]any{
							"name":      "web_search",
							"arguments": `{"query": "go concurrency"}`,
						},
					},
					{
						"id":   "call-2",
						"type": "function",
						"function": map[string]any{
							"name":      "web_search",
							"arguments": "not json at all",
						},
					},
				},
			}}},
		})
	}))
	defer srv.Close()

	c := NewClient(testProvider(srv.URL), nil)
	turn, err := c.Invoke(context.Background(), []core.Turn{core.UserTurn("q")}, core.InvokeOptions{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if turn.Content != "let me search" {
		t.Fatalf("content = %q", turn.Content)
	}
	if len(turn.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(turn.ToolCalls))
	}
	if turn.ToolCalls[0].Name != "web_search" || turn.ToolCalls[0].Args["query"] != "go concurrency" {
		t.Fatalf("first call = %+v", turn.ToolCalls[0])
	}
	// Malformed arguments degrade to an empty map rather than failing the turn.
	if turn.ToolCalls[1].Args == nil || len(turn.ToolCalls[1].Args) != 0 {
		t.Fatalf("second call args = %+v", turn.ToolCalls[1].Args)
	}
}

func TestInvokeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded", "code": "rate_limit"},
		})
	}))
	defer srv.Close()

	c := NewClient(testProvider(srv.URL), nil)
	_, err := c.Invoke(context.Background(), []core.Turn{core.UserTurn("q")}, core.InvokeOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("error = %v", err)
	}
}

func TestInvokeRecordsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
			"usage":   map[string]any{"prompt_tokens": 1000, "completion_tokens": 500},
		})
	}))
	defer srv.Close()

	rec := &recordedUsage{}
	c := NewClient(testProvider(srv.URL), rec)
	if _, err := c.Invoke(context.Background(), []core.Turn{core.UserTurn("q")}, core.InvokeOptions{Model: "research"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !rec.recorded {
		t.Fatal("usage not recorded")
	}
	if rec.model != "gpt-4o-2024-08-06" || rec.in != 1000 || rec.out != 500 {
		t.Fatalf("usage = %+v", rec)
	}
	want := 1000/1000.0*0.0025 + 500/1000.0*0.01
	if rec.cost != want {
		t.Fatalf("cost = %v, want %v", rec.cost, want)
	}
}

func TestInvokeRequiresAPIKey(t *testing.T) {
	cfg := testProvider("http://unused")
	cfg.APIKey = ""
	t.Setenv("OPENAI_API_KEY", "")
	c := NewClient(cfg, nil)
	if _, err := c.Invoke(context.Background(), []core.Turn{core.UserTurn("q")}, core.InvokeOptions{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestModelTokenLimitPrefersConfig(t *testing.T) {
	c := NewClient(testProvider("http://unused"), nil)
	if got := c.ModelTokenLimit("research"); got != 128000 {
		t.Fatalf("configured limit = %d", got)
	}
	if got := c.ModelTokenLimit("gpt-4o"); got == 0 {
		t.Fatalf("family fallback = %d, want nonzero", got)
	}
}
