package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com"
	defaultOllamaBaseURL   = "http://localhost:11434"
	defaultOpenAIModel     = "gpt-4o"
	defaultOpenAIMaxTokens = 4096
)

// OpenAIConfig holds configuration for the OpenAI provider. Any server that
// speaks the Chat Completions protocol (Ollama, vLLM, llama.cpp) works by
// pointing BaseURL at it.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
	// Label overrides the name reported by Name, e.g. "ollama".
	Label string
}

// OpenAIProvider implements Provider using the OpenAI Chat Completions API.
type OpenAIProvider struct {
	config OpenAIConfig
}

// NewOpenAIProvider creates a new OpenAI provider with the given config.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultOpenAIMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Label == "" {
		cfg.Label = "openai"
	}
	return &OpenAIProvider{config: cfg}
}

func (p *OpenAIProvider) Name() string      { return p.config.Label }
func (p *OpenAIProvider) ModelName() string { return p.config.Model }

// openaiRequest is the request body for the Chat Completions API.
type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	Tools         []openaiTool         `json:"tools,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolCallFunc `json:"function"`
}

type openaiToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiToolFunc `json:"function"`
}

type openaiToolFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// openaiResponse is the response from the Chat Completions API.
type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

func (u openaiUsage) toUsage() Usage {
	out := Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
	if u.PromptTokensDetails != nil {
		out.CacheReadTokens = u.PromptTokensDetails.CachedTokens
		out.InputTokens -= out.CacheReadTokens
	}
	return out
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	resp, err := p.do(ctx, messages, tools, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, p.Name(), fmt.Errorf("read response: %w", err))
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, parseError(p.Name(), "unmarshal response", err)
	}
	if apiResp.Error != nil {
		return nil, &Error{Kind: KindAPI, Provider: p.Name(), Message: apiResp.Error.Type + ": " + apiResp.Error.Message}
	}

	return p.parseResponse(&apiResp)
}

func (p *OpenAIProvider) Stream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan StreamEvent, error) {
	resp, err := p.do(ctx, messages, tools, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 16)
	go p.readSSE(ctx, resp.Body, ch)
	return ch, nil
}

func (p *OpenAIProvider) do(ctx context.Context, messages []Message, tools []ToolDef, stream bool) (*http.Response, error) {
	data, err := json.Marshal(p.buildRequest(messages, tools, stream))
	if err != nil {
		return nil, parseError(p.Name(), "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, ConfigError(p.Name(), "create request: %v", err)
	}
	p.setHeaders(req)

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, p.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, statusError(p.Name(), resp, body)
	}
	return resp, nil
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDef, stream bool) *openaiRequest {
	req := &openaiRequest{
		Model:     p.config.Model,
		MaxTokens: p.config.MaxTokens,
		Stream:    stream,
	}
	if stream {
		req.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}

	// System messages stay inline for Chat Completions.
	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			req.Messages = append(req.Messages, openaiMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case RoleAssistant:
			om := openaiMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				om.ToolCalls = append(om.ToolCalls, openaiToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: openaiToolCallFunc{Name: tc.Name, Arguments: string(args)},
				})
			}
			req.Messages = append(req.Messages, om)
		default:
			req.Messages = append(req.Messages, openaiMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}

	for _, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}

	return req
}

func (p *OpenAIProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
}

func (p *OpenAIProvider) parseResponse(apiResp *openaiResponse) (*Response, error) {
	resp := &Response{Usage: apiResp.Usage.toUsage(), StopReason: StopEndTurn}

	if len(apiResp.Choices) == 0 {
		return resp, nil
	}

	choice := apiResp.Choices[0]
	resp.Content = choice.Message.Content

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, parseError(p.Name(), fmt.Sprintf("tool call arguments for %q", tc.Function.Name), err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	resp.StopReason = openaiStopReason(choice.FinishReason, len(resp.ToolCalls) > 0)

	return resp, nil
}

func openaiStopReason(finish string, hasTools bool) StopReason {
	switch finish {
	case "length":
		return StopMaxTokens
	case "tool_calls", "function_call":
		return StopToolUse
	case "stop":
		if hasTools {
			return StopToolUse
		}
		return StopEndTurn
	}
	if hasTools {
		return StopToolUse
	}
	return StopEndTurn
}

// openaiStreamDelta is the delta object in a streaming choice.
type openaiStreamDelta struct {
	Role      string                 `json:"role"`
	Content   *string                `json:"content"`
	ToolCalls []openaiStreamToolCall `json:"tool_calls"`
}

type openaiStreamToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function openaiStreamFunc `json:"function"`
}

type openaiStreamFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage"`
}

// readSSE demultiplexes Chat Completions chunks into StreamEvents. Tool call
// fragments are tagged with index+1 so they never collide with text.
func (p *OpenAIProvider) readSSE(ctx context.Context, body io.ReadCloser, ch chan<- StreamEvent) {
	defer func() { _ = body.Close() }()
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	started := false
	sawTools := false
	var finish string

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if !started {
			started = true
			if !send(ctx, ch, StreamEvent{Type: EventMessageStart}) {
				return
			}
		}

		if data == "[DONE]" {
			if !send(ctx, ch, StreamEvent{Type: EventMessageDelta, StopReason: openaiStopReason(finish, sawTools)}) {
				return
			}
			send(ctx, ch, StreamEvent{Type: EventMessageStop})
			return
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		// Usage arrives on the final chunk when include_usage is set.
		if chunk.Usage != nil {
			u := chunk.Usage.toUsage()
			if !send(ctx, ch, StreamEvent{Type: EventMessageDelta, Usage: &u}) {
				return
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != nil {
			finish = *choice.FinishReason
		}

		if c := choice.Delta.Content; c != nil && *c != "" {
			if !send(ctx, ch, StreamEvent{Type: EventContentDelta, Text: *c}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			sawTools = true
			ev := StreamEvent{
				Type:      EventContentDelta,
				Index:     tc.Index + 1,
				ToolID:    tc.ID,
				ToolName:  tc.Function.Name,
				ToolInput: tc.Function.Arguments,
			}
			if !ev.IsToolFragment() {
				continue
			}
			if !send(ctx, ch, ev) {
				return
			}
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrStreamTruncated
	}
	send(ctx, ch, StreamEvent{Type: EventError, Err: transportError(ctx, p.Name(), err)})
}
