package loop

import (
	"context"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/message"
)

// Hooks is the loop's entire extension surface. Every field is optional;
// a nil field is treated as "not configured" rather than a no-op default,
// which matters for OnTurnLimitReached (nil means non-interactive).
type Hooks struct {
	// BeforeTurn runs before each turn begins. It may emit loop events
	// (typically Compacting) through emit, and may replace the
	// conversation (compaction). DidCompact is informational, recorded
	// only as a journal signal.
	BeforeTurn func(ctx context.Context, in BeforeTurnInput, emit func(event.Event)) BeforeTurnResult

	OnAssistantMessage func(in AssistantMessageInput)

	// OnBeforeToolExec returns a UUID to be threaded to the matching
	// OnAfterToolExec call (journal parent-chaining); "" if not tracked.
	OnBeforeToolExec func(in BeforeToolExecInput) string
	OnAfterToolExec  func(in AfterToolExecInput)

	OnComplete func(content string, turn int)

	// StopCheck vetoes completion. A nil StopCheck means the loop never
	// asks; any error/panic recovered from a configured StopCheck is
	// treated as ShouldStop:true.
	StopCheck func(content string, turn int) StopDecision

	// OnTurnLimitReached is interactive-only: its absence means
	// non-interactive (hard stop at the cap).
	OnTurnLimitReached func(turnsCount int) TurnLimitDecision

	OnTurnLimitCompact func(messages, contextMessages []message.Message) TurnLimitCompactResult
}

// BeforeTurnInput is passed to the BeforeTurn hook.
type BeforeTurnInput struct {
	Turn             int
	Messages         []message.Message
	LastPromptTokens int
}

// BeforeTurnResult is the BeforeTurn hook's answer.
type BeforeTurnResult struct {
	Messages   []message.Message // replacement conversation; nil means unchanged
	DidCompact bool
}

// AssistantMessageInput is passed to OnAssistantMessage.
type AssistantMessageInput struct {
	Content         string
	ReasoningContent string
	ToolCalls       []message.ToolCall
	Turn            int
}

// BeforeToolExecInput is passed to OnBeforeToolExec.
type BeforeToolExecInput struct {
	ToolCall message.ToolCall
	Params   map[string]any
}

// AfterToolExecInput is passed to OnAfterToolExec.
type AfterToolExecInput struct {
	ToolCall    message.ToolCall
	Result      *message.ToolResult
	ToolUseUUID string
}

// StopDecision is StopCheck's answer.
type StopDecision struct {
	ShouldStop     bool
	ContinueReason string
	Warning        string
}

// TurnLimitDecision is OnTurnLimitReached's answer.
type TurnLimitDecision struct {
	Continue bool
	Reason   string
}

// TurnLimitCompactResult is OnTurnLimitCompact's answer.
type TurnLimitCompactResult struct {
	Success           bool
	CompactedMessages []message.Message
	ContinueMessage   *message.Message
}

// safeStopCheck recovers a panicking StopCheck and treats it as ShouldStop,
// matching the failure model in spec §4.6 ("stop-hook exception -> treated
// as shouldStop:true").
func safeStopCheck(fn func(content string, turn int) StopDecision, content string, turn int) (decision StopDecision) {
	defer func() {
		if r := recover(); r != nil {
			decision = StopDecision{ShouldStop: true}
		}
	}()
	return fn(content, turn)
}
