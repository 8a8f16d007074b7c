// Package loop implements the turn scheduler: Run drives a model
// through successive turns, fanning out tool execution and enforcing the
// turn-budget and compaction policy, until the model stops requesting
// tools or a limit is hit. It supersedes internal/core's synchronous
// Loop.Run with an event-emitting state machine.
package loop

import (
	"context"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/message"
	"github.com/agentmesh/turnloop/internal/provider"
)

// ChatService is the external LLM transport the loop drives through turns.
// Concrete implementations wrap a provider.LLMProvider (see NewChatService).
type ChatService interface {
	Stream(ctx context.Context, msgs []message.Message, tools []provider.Tool, sysPrompt string) <-chan message.StreamChunk
	Config(ctx context.Context) ChatServiceConfig
}

// ChatServiceConfig reports the model and context window the chat service
// is currently bound to; CompactionCoordinator uses it to decide thresholds.
type ChatServiceConfig struct {
	Model            string
	MaxContextTokens int
	MaxOutputTokens  int
}

// ExecutionPipeline runs one tool call to completion. The loop depends on
// nothing about the tool implementation beyond this contract.
type ExecutionPipeline interface {
	Execute(ctx context.Context, name string, params map[string]any, ectx ExecContext) *message.ToolResult
	Kind(name string) event.ToolKind
}

// ExecContext is forwarded unchanged into every pipeline call.
type ExecContext struct {
	SessionID           string
	UserID              string
	WorkspaceRoot       string
	PermissionMode      string
	ConfirmationHandler ConfirmationHandler
}

// ConfirmationHandler is consulted by tool implementations that need
// interactive approval; the loop only threads it through, never calls it.
type ConfirmationHandler interface {
	RequestConfirmation(ctx context.Context, toolName string, params map[string]any) (approved bool, answers map[string]any)
}

// CompactionService summarises the earlier portion of a conversation.
type CompactionService interface {
	Compact(ctx context.Context, msgs []message.Message, opts CompactOptions) (CompactResult, error)
}

// CompactOptions parameterizes one compaction call.
type CompactOptions struct {
	Trigger          string // "auto" | "turn_limit"
	ModelName        string
	MaxContextTokens int
	ActualPreTokens  int
	Focus            string // optional: bias the summary toward this topic
}

// CompactResult is what a CompactionService returns.
type CompactResult struct {
	Success           bool
	CompactedMessages []message.Message
	Summary           string
	PreTokens         int
	PostTokens        int
}

// Config is the immutable input to one Run call.
type Config struct {
	Chat        ChatService
	Pipeline    ExecutionPipeline
	Compaction  CompactionService
	Tools       []provider.Tool
	Messages    []message.Message
	MaxTurns    int
	IsYoloMode  bool
	SystemPrompt string

	PermissionMode   string
	MaxContextTokens int
	ExecCtx          ExecContext

	Hooks Hooks
}

// SafetyCeiling is the effective turn cap when maxTurns is -1. In YOLO mode
// it is also the MaxTurns reported on turn_start, but the turn-limit check
// is skipped there, so it does not end a YOLO run.
const SafetyCeiling = 100
