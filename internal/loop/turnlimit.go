package loop

import (
	"fmt"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/message"
)

// fallbackTruncateMessages is how many trailing messages survive when a
// turn-limit compaction fails.
const fallbackTruncateMessages = 80

// turnLimitOutcome is what handleTurnLimit returns to the loop.
type turnLimitOutcome struct {
	continueRun bool
	result      event.LoopResult // only meaningful when !continueRun
}

// handleTurnLimit implements TurnLimitController's policy (spec §4.4).
//
// The pinned-system-message invariant (spec §3 invariant 5) is kept
// trivially here: the system prompt is carried out-of-band in
// Config.SystemPrompt, never as a message in the conversation array (see
// DESIGN.md), so truncation and compaction of the messages slice can
// never disturb it.
func handleTurnLimit(
	hooksIn Hooks,
	messages []message.Message,
	turnsCount, toolCallsCount int,
	duration int64,
	tokensUsed int,
	configuredMaxTurns, actualMaxTurns int,
) (turnLimitOutcome, []message.Message) {
	if hooksIn.OnTurnLimitReached == nil {
		return turnLimitOutcome{
			continueRun: false,
			result: event.LoopResult{
				Success: false,
				Error: &event.ResultError{
					Type:    event.ErrMaxTurnsExceeded,
					Message: fmt.Sprintf("达到最大轮次限制 (%d)", actualMaxTurns),
				},
				Metadata: event.Metadata{
					TurnsCount:     turnsCount,
					ToolCallsCount: toolCallsCount,
					Duration:       duration,
					TokensUsed:     tokensUsed,
				},
			},
		}, messages
	}

	decision := hooksIn.OnTurnLimitReached(turnsCount)
	if !decision.Continue {
		return turnLimitOutcome{
			continueRun: false,
			result: event.LoopResult{
				Success: true,
				Metadata: event.Metadata{
					TurnsCount:         turnsCount,
					ToolCallsCount:     toolCallsCount,
					Duration:           duration,
					TokensUsed:         tokensUsed,
					ConfiguredMaxTurns: configuredMaxTurns,
					ActualMaxTurns:     actualMaxTurns,
				},
			},
		}, messages
	}

	// decision.Continue == true: compact and resume.
	if hooksIn.OnTurnLimitCompact == nil {
		return turnLimitOutcome{continueRun: true}, truncateFallback(messages)
	}

	compactResult := hooksIn.OnTurnLimitCompact(messages, messages)
	if !compactResult.Success {
		return turnLimitOutcome{continueRun: true}, truncateFallback(messages)
	}

	rebuilt := compactResult.CompactedMessages
	if compactResult.ContinueMessage != nil {
		rebuilt = append(rebuilt, *compactResult.ContinueMessage)
	}
	return turnLimitOutcome{continueRun: true}, rebuilt
}

// truncateFallback keeps only the last fallbackTruncateMessages messages,
// used when turn-limit compaction fails.
func truncateFallback(messages []message.Message) []message.Message {
	if len(messages) <= fallbackTruncateMessages {
		return messages
	}
	return messages[len(messages)-fallbackTruncateMessages:]
}
