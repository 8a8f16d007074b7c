// Package event defines the discriminated event stream emitted by the agent
// loop and the terminal result that accompanies it. It has no behavior of
// its own; internal/loop is the only producer.
package event

import "github.com/agentmesh/turnloop/internal/message"

// Type discriminates an Event's payload.
type Type string

const (
	AgentStart    Type = "agent_start"
	AgentEnd      Type = "agent_end"
	TurnStart     Type = "turn_start"
	TurnEnd       Type = "turn_end"
	ContentDelta  Type = "content_delta"
	ThinkingDelta Type = "thinking_delta"
	StreamEnd     Type = "stream_end"
	Content       Type = "content"
	Thinking      Type = "thinking"
	ToolStart     Type = "tool_start"
	ToolResult    Type = "tool_result"
	TokenUsage    Type = "token_usage"
	Compacting    Type = "compacting"
	TodoUpdate    Type = "todo_update"
	Error         Type = "error"
)

// ToolKind classifies a tool for consumers that render or police tool calls
// without knowing the tool implementation.
type ToolKind string

const (
	KindReadonly ToolKind = "readonly"
	KindWrite    ToolKind = "write"
	KindExecute  ToolKind = "execute"
)

// Event is the single output channel of a loop run. Only the fields
// relevant to Type are populated; the zero value of the others is ignored.
type Event struct {
	Type Type

	// turn_start / turn_end
	Turn         int
	MaxTurns     int
	HasToolCalls bool

	// content_delta / thinking_delta / content / thinking / error
	Delta string
	Text  string

	// tool_start / tool_result
	ToolCall   message.ToolCall
	ToolKind   ToolKind
	ToolResult *message.ToolResult

	// token_usage
	Input      int
	Output     int
	Total      int
	MaxContext int

	// compacting
	IsCompacting bool

	// todo_update
	Todos []Todo
}

// Todo is one entry of a todo_update event, mirroring internal/tool's
// TodoStore item shape without importing it (keeps event dependency-free).
type Todo struct {
	ID       string
	Content  string
	Status   string
	Priority string
}

// ErrorType enumerates LoopResult.Error.Type values.
type ErrorType string

const (
	ErrAborted          ErrorType = "aborted"
	ErrChatDisabled     ErrorType = "chat_disabled"
	ErrMaxTurnsExceeded ErrorType = "max_turns_exceeded"
	ErrAPIError         ErrorType = "api_error"
)

// ResultError is LoopResult's structured error detail.
type ResultError struct {
	Type    ErrorType
	Message string
	Details string
}

// Metadata carries the terminal counters and exit signals of a run.
type Metadata struct {
	TurnsCount     int
	ToolCallsCount int
	Duration       int64 // milliseconds
	TokensUsed     int
	ShouldExitLoop bool
	TargetMode     string

	// Populated only when the turn-limit path completed via a stop decision.
	ConfiguredMaxTurns int
	ActualMaxTurns     int
}

// LoopResult is the terminal verdict of a run, returned alongside the
// closed event stream.
type LoopResult struct {
	Success      bool
	FinalMessage string
	Error        *ResultError
	Metadata     Metadata

	// Messages is the full conversation as it stood when the run ended,
	// letting a caller resume with another Run call for the next turn.
	Messages []message.Message
}
