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
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
	anthropicAPIVersion       = "2023-06-01"
)

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	config AnthropicConfig
}

// NewAnthropicProvider creates a new Anthropic provider with the given config.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &AnthropicProvider{config: cfg}
}

func (p *AnthropicProvider) Name() string      { return "anthropic" }
func (p *AnthropicProvider) ModelName() string { return p.config.Model }

// anthropicRequest is the request body for the Messages API.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`  // for tool_result
	IsError   bool           `json:"is_error,omitempty"` // for tool_result
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// anthropicResponse is the response from the Messages API.
type anthropicResponse struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Content    []anthropicRespItem `json:"content"`
	StopReason string              `json:"stop_reason"`
	Usage      anthropicUsage      `json:"usage"`
	Error      *anthropicError     `json:"error,omitempty"`
}

type anthropicRespItem struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func (u anthropicUsage) toUsage() Usage {
	return Usage{
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheWriteTokens: u.CacheCreationInputTokens,
		CacheReadTokens:  u.CacheReadInputTokens,
	}
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	resp, err := p.do(ctx, messages, tools, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, p.Name(), fmt.Errorf("read response: %w", err))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, parseError(p.Name(), "unmarshal response", err)
	}
	if apiResp.Error != nil {
		return nil, &Error{Kind: KindAPI, Provider: p.Name(), Message: apiResp.Error.Type + ": " + apiResp.Error.Message}
	}

	return p.parseResponse(&apiResp), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan StreamEvent, error) {
	resp, err := p.do(ctx, messages, tools, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 16)
	go p.readSSE(ctx, resp.Body, ch)
	return ch, nil
}

// do sends the request and returns a 200 response or a classified error.
func (p *AnthropicProvider) do(ctx context.Context, messages []Message, tools []ToolDef, stream bool) (*http.Response, error) {
	data, err := json.Marshal(p.buildRequest(messages, tools, stream))
	if err != nil {
		return nil, parseError(p.Name(), "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/messages", bytes.NewReader(data))
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

func (p *AnthropicProvider) buildRequest(messages []Message, tools []ToolDef, stream bool) *anthropicRequest {
	req := &anthropicRequest{
		Model:     p.config.Model,
		MaxTokens: p.config.MaxTokens,
		Stream:    stream,
	}

	var apiMessages []anthropicMessage
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			req.System = msg.Content
		case RoleTool:
			block := anthropicContent{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
				IsError:   msg.IsError,
			}
			// Consecutive tool results belong to one user turn.
			if n := len(apiMessages); n > 0 && apiMessages[n-1].Role == "user" {
				if blocks, ok := apiMessages[n-1].Content.([]anthropicContent); ok && len(blocks) > 0 && blocks[0].Type == "tool_result" {
					apiMessages[n-1].Content = append(blocks, block)
					continue
				}
			}
			apiMessages = append(apiMessages, anthropicMessage{Role: "user", Content: []anthropicContent{block}})
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				apiMessages = append(apiMessages, anthropicMessage{Role: "assistant", Content: msg.Content})
				continue
			}
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			apiMessages = append(apiMessages, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			apiMessages = append(apiMessages, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	req.Messages = apiMessages

	for _, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	return req
}

func (p *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

func (p *AnthropicProvider) parseResponse(apiResp *anthropicResponse) *Response {
	resp := &Response{
		Usage:      apiResp.Usage.toUsage(),
		StopReason: anthropicStopReason(apiResp.StopReason),
	}

	var textParts []string
	for _, item := range apiResp.Content {
		switch item.Type {
		case "text":
			textParts = append(textParts, item.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        item.ID,
				Name:      item.Name,
				Arguments: item.Input,
			})
		}
	}
	resp.Content = strings.Join(textParts, "")
	if resp.StopReason == "" {
		resp.StopReason = StopEndTurn
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = StopToolUse
		}
	}

	return resp
}

func anthropicStopReason(s string) StopReason {
	switch s {
	case "end_turn":
		return StopEndTurn
	case "max_tokens":
		return StopMaxTokens
	case "stop_sequence":
		return StopSequence
	case "tool_use":
		return StopToolUse
	}
	return ""
}

// readSSE demultiplexes the Messages API event stream into StreamEvents.
func (p *AnthropicProvider) readSSE(ctx context.Context, body io.ReadCloser, ch chan<- StreamEvent) {
	defer func() { _ = body.Close() }()
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event struct {
			Type         string `json:"type"`
			Index        int    `json:"index"`
			ContentBlock *struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
				Text string `json:"text"`
			} `json:"content_block"`
			Delta *struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
				StopReason  string `json:"stop_reason"`
			} `json:"delta"`
			Message *struct {
				Usage anthropicUsage `json:"usage"`
			} `json:"message"`
			Usage *anthropicUsage `json:"usage"`
			Error *anthropicError `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		var out StreamEvent
		switch event.Type {
		case "message_start":
			out = StreamEvent{Type: EventMessageStart}
			if event.Message != nil {
				u := event.Message.Usage.toUsage()
				out.Usage = &u
			}
		case "content_block_start":
			if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
				continue
			}
			out = StreamEvent{
				Type:     EventContentDelta,
				Index:    event.Index,
				ToolID:   event.ContentBlock.ID,
				ToolName: event.ContentBlock.Name,
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				out = StreamEvent{Type: EventContentDelta, Index: event.Index, Text: event.Delta.Text}
			case "input_json_delta":
				out = StreamEvent{Type: EventContentDelta, Index: event.Index, ToolInput: event.Delta.PartialJSON}
			default:
				continue
			}
		case "message_delta":
			out = StreamEvent{Type: EventMessageDelta}
			if event.Usage != nil {
				u := event.Usage.toUsage()
				out.Usage = &u
			}
			if event.Delta != nil {
				out.StopReason = anthropicStopReason(event.Delta.StopReason)
			}
		case "message_stop":
			send(ctx, ch, StreamEvent{Type: EventMessageStop})
			return
		case "error":
			msg := data
			if event.Error != nil {
				msg = event.Error.Type + ": " + event.Error.Message
			}
			kind := KindAPI
			if event.Error != nil && event.Error.Type == "overloaded_error" {
				kind = KindRateLimit
			}
			send(ctx, ch, StreamEvent{Type: EventError, Err: &Error{Kind: kind, Provider: p.Name(), Message: msg}})
			return
		default:
			continue
		}
		if !send(ctx, ch, out) {
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrStreamTruncated
	}
	send(ctx, ch, StreamEvent{Type: EventError, Err: transportError(ctx, p.Name(), err)})
}
