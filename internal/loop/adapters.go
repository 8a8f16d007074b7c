package loop

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentmesh/turnloop/internal/client"
	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/hooks"
	"github.com/agentmesh/turnloop/internal/log"
	"github.com/agentmesh/turnloop/internal/message"
	"github.com/agentmesh/turnloop/internal/permission"
	"github.com/agentmesh/turnloop/internal/provider"
	"github.com/agentmesh/turnloop/internal/system"
	"github.com/agentmesh/turnloop/internal/tool"
)

// clientChatService adapts *client.Client to ChatService.
type clientChatService struct {
	c *client.Client
}

// NewChatService wraps an LLM client for use as a loop ChatService.
func NewChatService(c *client.Client) ChatService {
	return &clientChatService{c: c}
}

func (s *clientChatService) Stream(ctx context.Context, msgs []message.Message, tools []provider.Tool, sysPrompt string) <-chan message.StreamChunk {
	return s.c.Stream(ctx, msgs, tools, sysPrompt)
}

func (s *clientChatService) Config(ctx context.Context) ChatServiceConfig {
	return ChatServiceConfig{
		Model:            s.c.ModelID(),
		MaxOutputTokens:  s.c.ResolveMaxTokens(ctx),
		MaxContextTokens: providerContextWindow(ctx, s.c),
	}
}

// providerContextWindow looks up the current model's input token limit from
// the provider's ListModels, falling back to 0 (unknown -> compaction never
// auto-triggers) when the provider can't answer.
func providerContextWindow(ctx context.Context, c *client.Client) int {
	if c.Provider == nil {
		return 0
	}
	models, err := c.Provider.ListModels(ctx)
	if err != nil {
		return 0
	}
	for _, m := range models {
		if m.ID == c.ModelID() {
			return m.InputTokenLimit
		}
	}
	return 0
}

// toolPipeline adapts the teacher's tool.Set/Registry and permission.Checker
// and hooks.Engine into ExecutionPipeline, matching internal/core's
// Loop.ExecTool/runTool wiring (see core.go's FilterToolCalls/ExecTool).
type toolPipeline struct {
	Tools      *tool.Set
	Permission permission.Checker
	Hooks      *hooks.Engine
	System     *system.System
}

// NewToolPipeline builds an ExecutionPipeline over the given tool set,
// permission checker, and hook engine.
func NewToolPipeline(tools *tool.Set, perm permission.Checker, h *hooks.Engine, sys *system.System) ExecutionPipeline {
	return &toolPipeline{Tools: tools, Permission: perm, Hooks: h, System: sys}
}

func (p *toolPipeline) Execute(ctx context.Context, name string, params map[string]any, ectx ExecContext) *message.ToolResult {
	if p.Hooks != nil {
		outcome := p.Hooks.Execute(ctx, hooks.PreToolUse, hooks.HookInput{
			ToolName:  name,
			ToolInput: params,
			ToolUseID: ectx.SessionID,
		})
		if outcome.ShouldBlock {
			return &message.ToolResult{
				ToolName: name,
				Content:  "Blocked by hook: " + outcome.BlockReason,
				IsError:  true,
				Error:    &message.ToolResultError{Type: "PERMISSION_DENIED", Message: outcome.BlockReason},
			}
		}
		if outcome.UpdatedInput != nil {
			params = outcome.UpdatedInput
		}
	}

	decision := permission.Permit
	if p.Permission != nil {
		decision = p.Permission.Check(name, params)
	}
	if decision == permission.Reject {
		msg := fmt.Sprintf("Tool %s is not permitted in this mode", name)
		return &message.ToolResult{
			ToolName: name,
			Content:  msg,
			IsError:  true,
			Error:    &message.ToolResultError{Type: "PERMISSION_DENIED", Message: msg},
		}
	}
	if decision == permission.Prompt && ectx.ConfirmationHandler != nil {
		approved, _ := ectx.ConfirmationHandler.RequestConfirmation(ctx, name, params)
		if !approved {
			msg := fmt.Sprintf("Tool %s was not approved", name)
			return &message.ToolResult{
				ToolName: name,
				Content:  msg,
				IsError:  true,
				Error:    &message.ToolResultError{Type: "PERMISSION_DENIED", Message: msg},
			}
		}
	}

	t, ok := p.lookup(name)
	if !ok {
		msg := "Unknown tool: " + name
		return &message.ToolResult{ToolName: name, Content: msg, IsError: true, Error: &message.ToolResultError{Type: "EXECUTION_ERROR", Message: msg}}
	}

	cwd := ectx.WorkspaceRoot
	if cwd == "" && p.System != nil {
		cwd = p.System.Cwd
	}

	var result = t.Execute(ctx, params, cwd)
	if pat, ok := t.(tool.PermissionAwareTool); ok && pat.RequiresPermission() {
		result = pat.ExecuteApproved(ctx, params, cwd)
	}

	log.Logger().Debug("Tool executed",
		zap.String("tool", name),
		zap.Bool("success", result.Success),
	)

	return &message.ToolResult{
		ToolName: name,
		Content:  result.FormatForLLM(),
		IsError:  !result.Success,
	}
}

// lookup resolves an executable tool.Tool by name from the global registry.
// p.Tools (a *tool.Set) only ever carries provider-facing schemas, used to
// populate Config.Tools for the chat request, not the executable instances.
func (p *toolPipeline) lookup(name string) (tool.Tool, bool) {
	return tool.Get(name)
}

func (p *toolPipeline) Kind(name string) event.ToolKind {
	if permission.IsReadOnlyTool(name) {
		return event.KindReadonly
	}
	switch name {
	case "Bash", "Task":
		return event.KindExecute
	default:
		return event.KindWrite
	}
}

// clientCompactionService adapts *client.Client's summarization call into
// CompactionService, reusing the conversation-to-text rendering and compact
// prompt from internal/core's Compact function.
type clientCompactionService struct {
	c *client.Client
}

// NewCompactionService wraps an LLM client for use as a loop CompactionService.
func NewCompactionService(c *client.Client) CompactionService {
	return &clientCompactionService{c: c}
}

const compactionSummaryTokens = 2048

func (s *clientCompactionService) Compact(ctx context.Context, msgs []message.Message, opts CompactOptions) (CompactResult, error) {
	conversationText := message.BuildConversationText(msgs)
	if opts.Focus != "" {
		conversationText += fmt.Sprintf("\n\n**Important**: Focus the summary on: %s", opts.Focus)
	}
	resp, err := s.c.Complete(ctx, system.CompactPrompt(), []message.Message{message.UserMessage(conversationText, nil)}, compactionSummaryTokens)
	if err != nil {
		return CompactResult{Success: false}, err
	}

	summary := strings.TrimSpace(resp.Content)
	replacement := []message.Message{
		message.UserMessage(fmt.Sprintf("Conversation compacted. Summary of prior turns:\n\n%s", summary), nil),
	}

	return CompactResult{
		Success:           true,
		CompactedMessages: replacement,
		Summary:           summary,
		PreTokens:         opts.ActualPreTokens,
	}, nil
}

// NewBeforeTurnHook builds a BeforeTurn hook that runs CompactionCoordinator's
// pre-turn path (spec §4.5) ahead of every turn.
func NewBeforeTurnHook(svc CompactionService, chat ChatService) func(ctx context.Context, in BeforeTurnInput, emit func(event.Event)) BeforeTurnResult {
	return func(ctx context.Context, in BeforeTurnInput, emit func(event.Event)) BeforeTurnResult {
		if svc == nil || chat == nil || in.LastPromptTokens == 0 {
			return BeforeTurnResult{}
		}
		cfg := chat.Config(ctx)
		newMessages, didCompact := maybeCompactPreTurn(ctx, svc, cfg, in.Messages, in.LastPromptTokens, true, emit)
		if !didCompact {
			return BeforeTurnResult{}
		}
		return BeforeTurnResult{Messages: newMessages, DidCompact: true}
	}
}
