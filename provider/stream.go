package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// ErrStreamTruncated is returned when a stream closes before message_stop.
var ErrStreamTruncated = errors.New("stream ended before message_stop")

type toolBlock struct {
	id    string
	name  string
	input strings.Builder
}

// Collect folds a stream into the equivalent non-streaming Response.
// It consumes until message_stop, an error event, channel close, or ctx
// cancellation. Returning early is how a caller cancels a stream: the
// producer observes the same ctx and stops.
func Collect(ctx context.Context, events <-chan StreamEvent) (*Response, error) {
	var text strings.Builder
	blocks := make(map[int]*toolBlock)
	var usage Usage
	var stop StopReason

	for {
		var ev StreamEvent
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok = <-events:
		}
		if !ok {
			return nil, parseError("stream", "collect", ErrStreamTruncated)
		}

		switch ev.Type {
		case EventMessageStart, EventMessageDelta:
			if ev.Usage != nil {
				usage = mergeUsage(usage, *ev.Usage)
			}
			if ev.StopReason != "" {
				stop = ev.StopReason
			}
		case EventContentDelta:
			if !ev.IsToolFragment() {
				text.WriteString(ev.Text)
				continue
			}
			b, exists := blocks[ev.Index]
			if !exists {
				b = &toolBlock{}
				blocks[ev.Index] = b
			}
			if ev.ToolID != "" {
				b.id = ev.ToolID
			}
			if ev.ToolName != "" {
				b.name = ev.ToolName
			}
			b.input.WriteString(ev.ToolInput)
		case EventError:
			if ev.Err != nil {
				return nil, ev.Err
			}
			return nil, &Error{Kind: KindAPI, Provider: "stream", Message: ev.Text}
		case EventMessageStop:
			resp := &Response{Content: text.String(), Usage: usage, StopReason: stop}
			calls, err := assembleToolCalls(blocks)
			if err != nil {
				return nil, err
			}
			resp.ToolCalls = calls
			if resp.StopReason == "" {
				resp.StopReason = StopEndTurn
				if len(calls) > 0 {
					resp.StopReason = StopToolUse
				}
			}
			return resp, nil
		}
	}
}

func assembleToolCalls(blocks map[int]*toolBlock) ([]ToolCall, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	indices := make([]int, 0, len(blocks))
	for i := range blocks {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(indices))
	for _, i := range indices {
		b := blocks[i]
		var args map[string]any
		if raw := strings.TrimSpace(b.input.String()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, parseError("stream", "tool input for "+b.name, err)
			}
		}
		calls = append(calls, ToolCall{ID: b.id, Name: b.name, Arguments: args})
	}
	return calls, nil
}

// mergeUsage keeps the largest value seen per field; backends report
// cumulative snapshots.
func mergeUsage(a, b Usage) Usage {
	return Usage{
		InputTokens:      max(a.InputTokens, b.InputTokens),
		OutputTokens:     max(a.OutputTokens, b.OutputTokens),
		CacheWriteTokens: max(a.CacheWriteTokens, b.CacheWriteTokens),
		CacheReadTokens:  max(a.CacheReadTokens, b.CacheReadTokens),
	}
}
