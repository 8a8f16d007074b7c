package loop

import (
	"context"
	"strings"
	"time"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/message"
)

// Handle is the live output of a Run call: a forwarded event stream and a
// terminal result obtainable once the stream has been fully drained.
type Handle struct {
	Events <-chan event.Event
	result <-chan event.LoopResult
}

// Wait blocks until the run's producer goroutine has returned its result.
// Callers should have drained Events first (or be draining it concurrently):
// Events is unbuffered, so the producer cannot finish and send the result
// until every event has been received.
func (h *Handle) Wait() event.LoopResult {
	return <-h.result
}

// Run drives a full agent conversation per spec §4.1: it streams events on
// the returned Handle.Events and eventually resolves Handle.Wait() to a
// terminal LoopResult. The caller owns draining Events; Run's goroutine
// exits once messages are emitted and the run concludes.
func Run(ctx context.Context, cfg Config) *Handle {
	events := make(chan event.Event)
	resultCh := make(chan event.LoopResult, 1)

	go func() {
		defer close(events)
		emit := func(e event.Event) { events <- e }
		resultCh <- run(ctx, cfg, emit)
	}()

	return &Handle{Events: events, result: resultCh}
}

func effectiveMaxTurns(maxTurns int, yolo bool) int {
	if maxTurns < 0 || yolo {
		return SafetyCeiling
	}
	return maxTurns
}

func run(ctx context.Context, cfg Config, emit func(event.Event)) event.LoopResult {
	start := time.Now()

	// maxTurns == 0 disables chat entirely, before any event is emitted.
	if cfg.MaxTurns == 0 {
		return event.LoopResult{
			Success:  false,
			Error:    &event.ResultError{Type: event.ErrChatDisabled, Message: "chat is disabled (maxTurns=0)"},
			Messages: cfg.Messages,
		}
	}

	emit(event.Event{Type: event.AgentStart})

	if ctx.Err() != nil {
		return abortedResult(emit, start, 0, 0, 0, cfg.Messages)
	}

	messages := append([]message.Message{}, cfg.Messages...)
	effMax := effectiveMaxTurns(cfg.MaxTurns, cfg.IsYoloMode)

	turn := 0
	toolCallsCount := 0
	totalTokens := 0
	var lastPromptTokens int
	haveLastPromptTokens := false

	for {
		if ctx.Err() != nil {
			return abortedResult(emit, start, turn, toolCallsCount, totalTokens, messages)
		}

		if cfg.Hooks.BeforeTurn != nil {
			res := cfg.Hooks.BeforeTurn(ctx, BeforeTurnInput{
				Turn:             turn,
				Messages:         messages,
				LastPromptTokens: lastPromptTokens,
			}, emit)
			if res.Messages != nil {
				messages = res.Messages
			}
		}

		turn++
		emit(event.Event{Type: event.TurnStart, Turn: turn, MaxTurns: effMax})

		if ctx.Err() != nil {
			return abortedResultMidTurn(emit, start, turn, toolCallsCount, totalTokens, messages)
		}

		ch := cfg.Chat.Stream(ctx, messages, cfg.Tools, cfg.SystemPrompt)
		resp, err := runTurn(ctx, ch, emit)
		if err != nil {
			if ctx.Err() != nil || isAbortError(err) {
				return abortedResultMidTurn(emit, start, turn, toolCallsCount, totalTokens, messages)
			}
			emit(event.Event{Type: event.TurnEnd, Turn: turn, HasToolCalls: false})
			emit(event.Event{Type: event.AgentEnd})
			return event.LoopResult{
				Success:  false,
				Error:    &event.ResultError{Type: event.ErrAPIError, Message: err.Error()},
				Messages: messages,
				Metadata: event.Metadata{
					TurnsCount:     turn,
					ToolCallsCount: toolCallsCount,
					Duration:       time.Since(start).Milliseconds(),
					TokensUsed:     totalTokens,
				},
			}
		}

		if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
			total := resp.Usage.InputTokens + resp.Usage.OutputTokens
			totalTokens += total
			lastPromptTokens = resp.Usage.InputTokens
			haveLastPromptTokens = true
			emit(event.Event{
				Type:       event.TokenUsage,
				Input:      resp.Usage.InputTokens,
				Output:     resp.Usage.OutputTokens,
				Total:      total,
				MaxContext: cfg.MaxContextTokens,
			})
		}
		_ = haveLastPromptTokens

		if ctx.Err() == nil && strings.TrimSpace(resp.Thinking) != "" {
			emit(event.Event{Type: event.Thinking, Text: resp.Thinking})
		}
		if ctx.Err() == nil && strings.TrimSpace(resp.Content) != "" {
			emit(event.Event{Type: event.StreamEnd})
		}

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, message.AssistantMessage(resp.Content, resp.Thinking, nil))

			if isIncompleteIntent(resp.Content) && countRetryPrompts(messages) < retryCap {
				messages = append(messages, message.UserMessage(RetryPrompt, nil))
				emit(event.Event{Type: event.TurnEnd, Turn: turn, HasToolCalls: false})
				continue
			}

			decision := StopDecision{ShouldStop: true}
			if cfg.Hooks.StopCheck != nil {
				decision = safeStopCheck(cfg.Hooks.StopCheck, resp.Content, turn)
			}
			if !decision.ShouldStop {
				reminder := decision.ContinueReason
				if reminder == "" {
					reminder = "Continue with the task. Do not stop until it is complete."
				}
				messages = append(messages, message.UserMessage("<system-reminder>"+reminder+"</system-reminder>", nil))
				emit(event.Event{Type: event.TurnEnd, Turn: turn, HasToolCalls: false})
				continue
			}

			if cfg.Hooks.OnComplete != nil {
				cfg.Hooks.OnComplete(resp.Content, turn)
			}
			emit(event.Event{Type: event.TurnEnd, Turn: turn, HasToolCalls: false})
			emit(event.Event{Type: event.AgentEnd})
			return event.LoopResult{
				Success:      true,
				FinalMessage: resp.Content,
				Messages:     messages,
				Metadata: event.Metadata{
					TurnsCount:     turn,
					ToolCallsCount: toolCallsCount,
					Duration:       time.Since(start).Milliseconds(),
					TokensUsed:     totalTokens,
				},
			}
		}

		// Tool-calls branch.
		messages = append(messages, message.AssistantMessage(resp.Content, resp.Thinking, resp.ToolCalls))
		if cfg.Hooks.OnAssistantMessage != nil {
			cfg.Hooks.OnAssistantMessage(AssistantMessageInput{
				Content:          resp.Content,
				ReasoningContent: resp.Thinking,
				ToolCalls:        resp.ToolCalls,
				Turn:             turn,
			})
		}

		for _, tc := range resp.ToolCalls {
			emit(event.Event{Type: event.ToolStart, ToolCall: tc, ToolKind: toolKindFor(cfg.Pipeline, tc.Name)})
		}

		results := runAll(ctx, cfg.Pipeline, cfg.ExecCtx, cfg.Hooks, resp.ToolCalls)
		toolCallsCount += len(results)

		for _, r := range results {
			emit(event.Event{Type: event.ToolResult, ToolCall: r.toolCall, ToolResult: r.result})
			messages = append(messages, message.ToolResultMessage(*r.result))

			// OnAfterToolExec runs here, sequentially in call order, per
			// spec step 10 — not inside dispatchOne's concurrent task.
			if cfg.Hooks.OnAfterToolExec != nil {
				cfg.Hooks.OnAfterToolExec(AfterToolExecInput{
					ToolCall:    r.toolCall,
					Result:      r.result,
					ToolUseUUID: r.toolUseUUID,
				})
			}

			if r.result.MetaBool("shouldExitLoop") {
				emit(event.Event{Type: event.TurnEnd, Turn: turn, HasToolCalls: true})
				emit(event.Event{Type: event.AgentEnd})
				return event.LoopResult{
					Success:      !r.result.IsError,
					FinalMessage: r.result.Content,
					Messages:     messages,
					Metadata: event.Metadata{
						TurnsCount:     turn,
						ToolCallsCount: toolCallsCount,
						Duration:       time.Since(start).Milliseconds(),
						TokensUsed:     totalTokens,
						ShouldExitLoop: true,
						TargetMode:     r.result.MetaString("targetMode"),
					},
				}
			}
		}

		emit(event.Event{Type: event.TurnEnd, Turn: turn, HasToolCalls: true})

		if ctx.Err() != nil {
			return abortedResultMidTurn(emit, start, turn, toolCallsCount, totalTokens, messages)
		}

		if turn >= effMax && !cfg.IsYoloMode {
			outcome, newMessages := handleTurnLimit(cfg.Hooks, messages, turn, toolCallsCount,
				time.Since(start).Milliseconds(), totalTokens, cfg.MaxTurns, effMax)
			if !outcome.continueRun {
				emit(event.Event{Type: event.AgentEnd})
				outcome.result.Messages = messages
				return outcome.result
			}
			messages = newMessages
			turn = 0
			continue
		}
	}
}

// abortedResult finalizes a run aborted before any turn_start was emitted
// for the current iteration.
func abortedResult(emit func(event.Event), start time.Time, turn, toolCallsCount, totalTokens int, messages []message.Message) event.LoopResult {
	emit(event.Event{Type: event.AgentEnd})
	return event.LoopResult{
		Success:  false,
		Error:    &event.ResultError{Type: event.ErrAborted},
		Messages: messages,
		Metadata: event.Metadata{
			TurnsCount:     turn,
			ToolCallsCount: toolCallsCount,
			Duration:       time.Since(start).Milliseconds(),
			TokensUsed:     totalTokens,
		},
	}
}

// abortedResultMidTurn finalizes a run aborted after turn_start was already
// emitted for the current turn, preserving invariant 1 (turn_start/turn_end
// pairing) before closing out with agent_end.
func abortedResultMidTurn(emit func(event.Event), start time.Time, turn, toolCallsCount, totalTokens int, messages []message.Message) event.LoopResult {
	emit(event.Event{Type: event.TurnEnd, Turn: turn, HasToolCalls: false})
	return abortedResult(emit, start, turn, toolCallsCount, totalTokens, messages)
}

// isAbortError reports whether err identifies itself as a cancellation
// rather than a genuine transport failure (spec §4.2).
func isAbortError(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "aborted")
}
