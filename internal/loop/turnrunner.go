package loop

import (
	"context"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/message"
)

// runTurn consumes one chat stream, translating fragments into
// content_delta/thinking_delta events and accumulating a CompletionResponse,
// per TurnRunner (spec §4.2). The loop — not this function — is
// responsible for the stream_end/thinking "whole text" events.
func runTurn(ctx context.Context, ch <-chan message.StreamChunk, emit func(event.Event)) (*message.CompletionResponse, error) {
	var resp message.CompletionResponse

	for chunk := range ch {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		switch chunk.Type {
		case message.ChunkTypeText:
			resp.Content += chunk.Text
			emit(event.Event{Type: event.ContentDelta, Delta: chunk.Text})
		case message.ChunkTypeThinking:
			resp.Thinking += chunk.Text
			emit(event.Event{Type: event.ThinkingDelta, Delta: chunk.Text})
		case message.ChunkTypeToolStart:
			resp.ToolCalls = append(resp.ToolCalls, message.ToolCall{ID: chunk.ToolID, Name: chunk.ToolName})
		case message.ChunkTypeToolInput:
			if len(resp.ToolCalls) > 0 {
				resp.ToolCalls[len(resp.ToolCalls)-1].Input += chunk.Text
			}
		case message.ChunkTypeDone:
			if chunk.Response != nil {
				return chunk.Response, nil
			}
			return &resp, nil
		case message.ChunkTypeError:
			return nil, chunk.Error
		}
	}

	return &resp, nil
}
