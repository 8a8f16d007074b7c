package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agentmesh/turnloop/internal/agent"
	"github.com/agentmesh/turnloop/internal/client"
	"github.com/agentmesh/turnloop/internal/config"
	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/hooks"
	"github.com/agentmesh/turnloop/internal/journal"
	"github.com/agentmesh/turnloop/internal/log"
	"github.com/agentmesh/turnloop/internal/loop"
	"github.com/agentmesh/turnloop/internal/message"
	"github.com/agentmesh/turnloop/internal/permission"
	"github.com/agentmesh/turnloop/internal/provider"
	"github.com/agentmesh/turnloop/internal/system"
	"github.com/agentmesh/turnloop/internal/tool"

	// Import providers for registration
	_ "github.com/agentmesh/turnloop/internal/provider/anthropic"
	_ "github.com/agentmesh/turnloop/internal/provider/google"
	_ "github.com/agentmesh/turnloop/internal/provider/openai"
)

var (
	version = "0.1.0"
)

func init() {
	// Load .env file if it exists (silent fail if not found)
	_ = godotenv.Load()

	// Initialize logging (enabled via GEN_DEBUG=1)
	_ = log.Init()
}

func main() {
	defer log.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gen [message]",
	Short: "Gen - AI coding assistant for the terminal",
	Long: `Gen is an open-source AI assistant for the terminal.
Extensible tools, customizable prompts, multi-provider support.

Non-interactive mode:
  gen "your message"       Send a message directly
  echo "message" | gen     Send a message via stdin
  gen -p "prompt"          Use a custom prompt`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		// Check for non-interactive input
		message := getInputMessage(args)

		if message != "" {
			// Non-interactive mode
			if err := runNonInteractive(message); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		// Interactive mode: a line-oriented REPL driving the same
		// loop.Run the non-interactive path uses.
		if err := runInteractive(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// promptFlag is the custom prompt flag
var promptFlag string

// maxTurnsFlag caps the number of agent turns; -1 means unlimited (bounded
// by loop.SafetyCeiling), 0 disables chat entirely.
var maxTurnsFlag int

// yoloFlag skips the turn-limit check altogether: turn_start reports
// loop.SafetyCeiling as the cap, but no turn count ends the run.
var yoloFlag bool

func init() {
	rootCmd.Flags().StringVarP(&promptFlag, "prompt", "p", "", "Custom prompt to send")
	rootCmd.Flags().IntVar(&maxTurnsFlag, "max-turns", 25, "Maximum agent turns (-1 for unlimited, 0 to disable chat)")
	rootCmd.Flags().BoolVar(&yoloFlag, "yolo", false, "Run without turn-limit prompts")
}

// getInputMessage gets input from args, flags, or stdin
func getInputMessage(args []string) string {
	// Check for -p/--prompt flag
	if promptFlag != "" {
		return promptFlag
	}

	// Check for positional arguments
	if len(args) > 0 {
		return strings.Join(args, " ")
	}

	// Check if stdin has data (non-interactive pipe)
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		// Data is being piped in
		reader := bufio.NewReader(os.Stdin)
		data, err := io.ReadAll(reader)
		if err == nil && len(data) > 0 {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// runtime bundles the pieces both the one-shot and REPL entry points need to
// build a loop.Config: a connected client, the working-directory-bound
// system prompt, the session's hook engine, and (if available) its journal.
type runtime struct {
	client     *client.Client
	sys        *system.System
	sessionID  string
	hookEngine *hooks.Engine
	jrnl       *journal.Journal
	toolSet    *tool.Set
	cwd        string
}

// newRuntime resolves the connected provider and assembles everything a
// loop.Config needs, shared by runNonInteractive and runInteractive so
// neither duplicates provider resolution or session wiring.
func newRuntime(ctx context.Context) (*runtime, error) {
	store, err := provider.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}

	var llmProvider provider.LLMProvider
	var model string

	// Try to use current model setting first
	current := store.GetCurrentModel()
	if current != nil {
		p, err := provider.GetProvider(ctx, current.Provider, current.AuthMethod)
		if err != nil {
			return nil, fmt.Errorf("provider %s (%s) not available: %w. Connections are read from ~/.gen/providers.json",
				current.Provider, current.AuthMethod, err)
		}
		llmProvider = p
		model = current.ModelID
	} else {
		// Fall back to first available provider with default model
		connections := store.GetConnections()
		for providerName, conn := range connections {
			p, err := provider.GetProvider(ctx, provider.Provider(providerName), conn.AuthMethod)
			if err == nil {
				llmProvider = p
				model = getDefaultModel(providerName, conn.AuthMethod)
				break
			}
		}
	}

	if llmProvider == nil {
		return nil, fmt.Errorf("no provider connected. Connections are read from ~/.gen/providers.json")
	}

	cwd, _ := os.Getwd()
	c := &client.Client{Provider: llmProvider, Model: model, MaxTokens: 8192}
	sys := &system.System{Client: c, Cwd: cwd}

	settings, err := config.Load()
	if err != nil {
		settings = &config.Settings{}
	}
	sessionID := uuid.NewString()
	hookEngine := hooks.NewEngine(settings, sessionID, cwd, "")

	jrnl, jerr := journal.Open()
	if jerr != nil {
		log.Logger().Warn("journal unavailable, running without persistence")
		jrnl = nil
	}

	return &runtime{
		client:     c,
		sys:        sys,
		sessionID:  sessionID,
		hookEngine: hookEngine,
		jrnl:       jrnl,
		toolSet:    &tool.Set{},
		cwd:        cwd,
	}, nil
}

// loopConfig builds a fresh loop.Config bound to rt, carrying messages as
// the conversation to run. Subagents spawned via the Task tool inherit the
// same executor on every call since rt.toolSet is shared across turns.
func (rt *runtime) loopConfig(messages []message.Message) loop.Config {
	cfg := loop.Config{
		Chat:         loop.NewChatService(rt.client),
		Pipeline:     loop.NewToolPipeline(rt.toolSet, permission.PermitAll(), rt.hookEngine, rt.sys),
		Compaction:   loop.NewCompactionService(rt.client),
		Tools:        rt.toolSet.Tools(),
		Messages:     messages,
		MaxTurns:     maxTurnsFlag,
		IsYoloMode:   yoloFlag,
		SystemPrompt: rt.sys.Prompt(),
		ExecCtx: loop.ExecContext{
			SessionID:     rt.sessionID,
			WorkspaceRoot: rt.cwd,
		},
	}
	cfg.Hooks.BeforeTurn = loop.NewBeforeTurnHook(cfg.Compaction, cfg.Chat)
	if rt.jrnl != nil {
		wireJournal(&cfg.Hooks, rt.jrnl, rt.sessionID)
	}
	return cfg
}

// configureTaskTool wires an agent executor into the Task tool so subagent
// calls dispatched through rt's pipeline can actually run, mirroring how the
// teacher's interactive mode used to configure it.
func (rt *runtime) configureTaskTool() {
	t, ok := tool.Get("Task")
	if !ok {
		return
	}
	taskTool, ok := t.(*tool.TaskTool)
	if !ok {
		return
	}
	executor := agent.NewExecutor(rt.client.Provider, rt.cwd, rt.client.ModelID())
	taskTool.SetExecutor(agent.NewExecutorAdapter(executor))
}

// runNonInteractive runs in non-interactive mode
func runNonInteractive(userMessage string) error {
	ctx := context.Background()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	rt.configureTaskTool()

	cfg := rt.loopConfig([]message.Message{message.UserMessage(userMessage, nil)})

	handle := loop.Run(ctx, cfg)
	printEvents(handle.Events)
	result := handle.Wait()

	if !result.Success {
		if result.Error != nil {
			return fmt.Errorf("%s: %s", result.Error.Type, result.Error.Message)
		}
		return fmt.Errorf("run did not complete successfully")
	}
	return nil
}

// runInteractive is a minimal line-oriented REPL: each line the user enters
// becomes a user turn, driven through the same loop.Run non-interactive mode
// uses. The prior turn's final messages seed the next turn's conversation,
// since loop.Run itself carries no state between calls.
func runInteractive() error {
	ctx := context.Background()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	rt.configureTaskTool()

	fmt.Println("Gen - AI coding assistant for the terminal. Type /exit to quit.")

	var messages []message.Message
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return nil
		}
		if line == "/clear" {
			messages = nil
			fmt.Println("[chat history cleared]")
			continue
		}

		messages = append(messages, message.UserMessage(line, nil))
		cfg := rt.loopConfig(messages)

		handle := loop.Run(ctx, cfg)
		printEvents(handle.Events)
		result := handle.Wait()

		if result.Messages != nil {
			messages = result.Messages
		}
		if !result.Success && result.Error != nil {
			fmt.Fprintf(os.Stderr, "[error] %s: %s\n", result.Error.Type, result.Error.Message)
		}
	}
}

// printEvents renders the loop's event stream to stdout in a plain,
// line-oriented form suitable for non-interactive use.
func printEvents(events <-chan event.Event) {
	for e := range events {
		switch e.Type {
		case event.ContentDelta:
			fmt.Print(e.Delta)
		case event.StreamEnd:
			fmt.Println()
		case event.ToolStart:
			fmt.Fprintf(os.Stderr, "[tool] %s\n", e.ToolCall.Name)
		case event.ToolResult:
			if e.ToolResult != nil && e.ToolResult.IsError {
				fmt.Fprintf(os.Stderr, "[tool error] %s: %s\n", e.ToolResult.ToolName, e.ToolResult.Content)
			}
		case event.Compacting:
			if e.IsCompacting {
				fmt.Fprintln(os.Stderr, "[compacting conversation]")
			}
		case event.Error:
			fmt.Fprintf(os.Stderr, "[error] %s\n", e.Text)
		}
	}
}

// wireJournal records messages and tool activity through the Hooks
// contract, threading parent UUIDs the way internal/session does for its
// own persistence.
//
// OnBeforeToolExec runs once per tool call from inside runAll's concurrent
// dispatch (spec-sanctioned), so sibling calls in the same turn can read and
// write lastUUID at the same time; mu serializes those read-modify-writes.
// OnAfterToolExec is invoked sequentially by loop.Run itself and needs no
// extra protection beyond sharing the same mutex as the others.
func wireJournal(h *loop.Hooks, j *journal.Journal, sessionID string) {
	var mu sync.Mutex
	var lastUUID string

	h.OnAssistantMessage = func(in loop.AssistantMessageInput) {
		mu.Lock()
		parent := lastUUID
		mu.Unlock()

		if id, err := j.SaveMessage(sessionID, "assistant", in.Content, parent, nil); err == nil {
			mu.Lock()
			lastUUID = id
			mu.Unlock()
		}
	}
	h.OnBeforeToolExec = func(in loop.BeforeToolExecInput) string {
		mu.Lock()
		parent := lastUUID
		mu.Unlock()

		id, err := j.SaveToolUse(sessionID, in.ToolCall.Name, in.ToolCall.Input, parent, nil)
		if err != nil {
			return ""
		}
		mu.Lock()
		lastUUID = id
		mu.Unlock()
		return id
	}
	h.OnAfterToolExec = func(in loop.AfterToolExecInput) {
		if in.Result == nil {
			return
		}
		if id, err := j.SaveToolResult(sessionID, in.ToolCall.ID, in.ToolCall.Name, in.Result.Content, in.Result.IsError, in.ToolUseUUID, nil); err == nil {
			mu.Lock()
			lastUUID = id
			mu.Unlock()
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gen version %s\n", version)
	},
}

var helpCmd = &cobra.Command{
	Use:   "help",
	Short: "Show help information",
	Long:  "Display help information about Gen and its commands.",
	Run: func(cmd *cobra.Command, args []string) {
		printHelp()
	},
}

func printHelp() {
	help := `
Gen - AI coding assistant for the terminal

Usage:
  gen [message]              Non-interactive mode with message
  gen                        Start interactive chat mode
  gen [command]              Run a command

Non-interactive Mode:
  gen "your message"         Send a message directly
  echo "message" | gen       Send a message via stdin
  gen -p "prompt"            Use a custom prompt

Commands:
  version      Print the version number
  help         Show this help message

Interactive Mode:
  Enter        Send message

Interactive Commands:
  /clear       Clear chat history
  /exit        Quit

Examples:
  gen                        Start interactive chat
  gen "Explain this code"    Quick question
  cat file.go | gen "Review" Review file via pipe
  gen version                Show version

For more information, visit: https://github.com/agentmesh/turnloop
`
	fmt.Println(help)
}

// getDefaultModel returns the default model for a provider and auth method
func getDefaultModel(providerName string, authMethod provider.AuthMethod) string {
	switch providerName {
	case "anthropic":
		if authMethod == provider.AuthVertex {
			return "claude-sonnet-4-5@20250929" // Vertex AI format
		}
		return "claude-sonnet-4-20250514" // API key format
	case "openai":
		return "gpt-4o"
	case "google":
		return "gemini-2.0-flash"
	default:
		return "claude-sonnet-4-20250514"
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(helpCmd)
	rootCmd.SetHelpCommand(helpCmd)
}
