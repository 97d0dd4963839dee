package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/agent/core"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client talks to an OpenAI-compatible chat completions endpoint. It
// implements core.ModelCaller, including tool binding and JSON-schema
// structured output.
type Client struct {
	apiKey     string
	baseURL    string
	models     map[string]config.LLMModel
	telemetry  usageRecorder
	httpClient *http.Client
}

// usageRecorder is the telemetry slice the client reports token usage to.
type usageRecorder interface {
	RecordLLMUsage(model, stage string, inputTokens, outputTokens int64, cost float64)
}

// NewClient builds a client from provider configuration. The API key falls
// back to OPENAI_API_KEY when unset in config.
func NewClient(cfg config.LLMProvider, recorder usageRecorder) *Client {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		models:     cfg.Models,
		telemetry:  recorder,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []apiToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_completion_tokens,omitempty"`
	Tools          []apiTool      `json:"tools,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string        `json:"content"`
			ToolCalls []apiToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Invoke performs one chat completion.
func (c *Client) Invoke(ctx context.Context, turns []core.Turn, opts core.InvokeOptions) (core.Turn, error) {
	if c.apiKey == "" {
		return core.Turn{}, fmt.Errorf("OpenAI API key not configured")
	}

	model, cost := c.resolveModel(opts.Model)

	req := chatRequest{
		Model:       model,
		Messages:    encodeTurns(turns),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	for _, t := range opts.Tools {
		var tool apiTool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, tool)
	}
	if opts.Schema != nil {
		req.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   opts.Schema.Name,
				"schema": opts.Schema.Schema,
				"strict": false,
			},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return core.Turn{}, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return core.Turn{}, fmt.Errorf("request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.Turn{}, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error.Message != "" {
			return core.Turn{}, fmt.Errorf("OpenAI status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return core.Turn{}, fmt.Errorf("OpenAI status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.Turn{}, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return core.Turn{}, fmt.Errorf("no choices")
	}

	if c.telemetry != nil {
		in, cout := out.Usage.PromptTokens, out.Usage.CompletionTokens
		c.telemetry.RecordLLMUsage(model, "", in, cout, cost(in, cout))
	}

	return decodeMessage(out.Choices[0].Message.Content, out.Choices[0].Message.ToolCalls), nil
}

// ModelTokenLimit reports the configured context window for a model,
// falling back to the known model-family table.
func (c *Client) ModelTokenLimit(model string) int {
	if m, ok := c.models[model]; ok && m.MaxTokens > 0 {
		return m.MaxTokens
	}
	return core.ModelTokenLimit(model)
}

// resolveModel maps a routing key to the wire model name and a cost
// function. Unrouted names pass through unchanged at zero cost.
func (c *Client) resolveModel(key string) (string, func(in, out int64) float64) {
	m, ok := c.models[key]
	if !ok {
		return key, func(int64, int64) float64 { return 0 }
	}
	name := m.APIName
	if name == "" {
		name = m.Name
	}
	return name, func(in, out int64) float64 {
		return float64(in)/1000.0*m.CostPer1K + float64(out)/1000.0*m.CostPer1KOutput
	}
}

func encodeTurns(turns []core.Turn) []chatMessage {
	msgs := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		msg := chatMessage{Role: string(t.Role), Content: t.Content}
		for _, call := range t.ToolCalls {
			args, err := json.Marshal(call.Args)
			if err != nil {
				args = []byte("{}")
			}
			var tc apiToolCall
			tc.ID = call.ID
			tc.Type = "function"
			tc.Function.Name = call.Name
			tc.Function.Arguments = string(args)
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
		if t.Role == core.RoleTool {
			msg.ToolCallID = t.ToolCallID
			msg.Name = t.ToolName
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func decodeMessage(content string, calls []apiToolCall) core.Turn {
	turn := core.AssistantTurn(content)
	for _, c := range calls {
		args := map[string]any{}
		if c.Function.Arguments != "" {
			// Malformed arguments degrade to an empty map; the call will
			// surface a tool error rather than abort the run.
			_ = json.Unmarshal([]byte(c.Function.Arguments), &args)
		}
		turn.ToolCalls = append(turn.ToolCalls, core.ToolCall{
			ID:   c.ID,
			Name: c.Function.Name,
			Args: args,
		})
	}
	return turn
}
