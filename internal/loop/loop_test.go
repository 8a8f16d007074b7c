package loop

import (
	"context"
	"sync"
	"testing"

	"github.com/agentmesh/turnloop/internal/client"
	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/message"
	"github.com/agentmesh/turnloop/internal/provider"
)

// fakeChatService wraps a *client.FakeClient as a ChatService.
type fakeChatService struct {
	c                *client.FakeClient
	maxContextTokens int
}

func (f *fakeChatService) Stream(ctx context.Context, msgs []message.Message, tools []provider.Tool, sysPrompt string) <-chan message.StreamChunk {
	return f.c.Stream(ctx, msgs, tools, sysPrompt)
}

func (f *fakeChatService) Config(_ context.Context) ChatServiceConfig {
	return ChatServiceConfig{Model: f.c.ModelID(), MaxOutputTokens: 8192, MaxContextTokens: f.maxContextTokens}
}

// fakePipeline executes tool calls from a canned map, recording every call.
type fakePipeline struct {
	results map[string]*message.ToolResult
	kind    event.ToolKind
	calls   []string
}

func (p *fakePipeline) Execute(_ context.Context, name string, _ map[string]any, _ ExecContext) *message.ToolResult {
	p.calls = append(p.calls, name)
	if r, ok := p.results[name]; ok {
		return r
	}
	return &message.ToolResult{ToolName: name, Content: "ok"}
}

func (p *fakePipeline) Kind(_ string) event.ToolKind {
	if p.kind == "" {
		return event.KindReadonly
	}
	return p.kind
}

func drain(t *testing.T, h *Handle) []event.Event {
	t.Helper()
	var events []event.Event
	for e := range h.Events {
		events = append(events, e)
	}
	return events
}

func TestRunSingleReply(t *testing.T) {
	fake := &client.FakeClient{Responses: []message.CompletionResponse{
		{Content: "hello there", StopReason: "end_turn", Usage: message.Usage{InputTokens: 10, OutputTokens: 5}},
	}}
	cfg := Config{
		Chat:     &fakeChatService{c: fake},
		Pipeline: &fakePipeline{},
		MaxTurns: 10,
	}
	h := Run(context.Background(), cfg)
	events := drain(t, h)
	result := h.Wait()

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.FinalMessage != "hello there" {
		t.Errorf("expected final message 'hello there', got %q", result.FinalMessage)
	}
	if events[0].Type != event.AgentStart {
		t.Errorf("expected first event agent_start, got %v", events[0].Type)
	}
	if events[len(events)-1].Type != event.AgentEnd {
		t.Errorf("expected last event agent_end, got %v", events[len(events)-1].Type)
	}
	assertTurnPairing(t, events)
}

func TestRunOneToolThenAnswer(t *testing.T) {
	fake := &client.FakeClient{Responses: []message.CompletionResponse{
		{
			StopReason: "tool_use",
			ToolCalls:  []message.ToolCall{{ID: "tc1", Name: "Read", Input: `{"file_path":"a.go"}`}},
			Usage:      message.Usage{InputTokens: 10, OutputTokens: 5},
		},
		{Content: "done reading", StopReason: "end_turn", Usage: message.Usage{InputTokens: 10, OutputTokens: 5}},
	}}
	pipeline := &fakePipeline{results: map[string]*message.ToolResult{
		"Read": {Content: "file contents"},
	}}
	cfg := Config{
		Chat:     &fakeChatService{c: fake},
		Pipeline: pipeline,
		MaxTurns: 10,
	}
	h := Run(context.Background(), cfg)
	events := drain(t, h)
	result := h.Wait()

	if !result.Success || result.FinalMessage != "done reading" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(pipeline.calls) != 1 || pipeline.calls[0] != "Read" {
		t.Fatalf("expected one Read call, got %v", pipeline.calls)
	}
	assertEventCounts(t, events, event.ToolStart, 1)
	assertEventCounts(t, events, event.ToolResult, 1)
	assertTurnPairing(t, events)
}

func TestRunExitsViaToolMetadata(t *testing.T) {
	fake := &client.FakeClient{Responses: []message.CompletionResponse{
		{
			StopReason: "tool_use",
			ToolCalls:  []message.ToolCall{{ID: "tc1", Name: "ExitPlanMode", Input: `{}`}},
		},
	}}
	pipeline := &fakePipeline{results: map[string]*message.ToolResult{
		"ExitPlanMode": {
			Content:  "switched to build mode",
			Metadata: map[string]any{"shouldExitLoop": true, "targetMode": "build"},
		},
	}}
	cfg := Config{Chat: &fakeChatService{c: fake}, Pipeline: pipeline, MaxTurns: 10}

	h := Run(context.Background(), cfg)
	_ = drain(t, h)
	result := h.Wait()

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !result.Metadata.ShouldExitLoop {
		t.Error("expected ShouldExitLoop metadata")
	}
	if result.Metadata.TargetMode != "build" {
		t.Errorf("expected targetMode 'build', got %q", result.Metadata.TargetMode)
	}
}

func TestRunPreAborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &client.FakeClient{Responses: []message.CompletionResponse{
		{Content: "should never be seen", StopReason: "end_turn"},
	}}
	cfg := Config{Chat: &fakeChatService{c: fake}, Pipeline: &fakePipeline{}, MaxTurns: 10}

	h := Run(ctx, cfg)
	events := drain(t, h)
	result := h.Wait()

	if result.Success {
		t.Fatal("expected failure on pre-aborted context")
	}
	if result.Error == nil || result.Error.Type != event.ErrAborted {
		t.Fatalf("expected aborted error, got %+v", result.Error)
	}
	if len(events) != 2 || events[0].Type != event.AgentStart || events[1].Type != event.AgentEnd {
		t.Fatalf("expected exactly [agent_start, agent_end], got %v", eventTypes(events))
	}
}

func TestRunTurnCapWithoutHandler(t *testing.T) {
	responses := make([]message.CompletionResponse, 0, 3)
	for i := 0; i < 3; i++ {
		responses = append(responses, message.CompletionResponse{
			StopReason: "tool_use",
			ToolCalls:  []message.ToolCall{{ID: "tc", Name: "Read", Input: `{}`}},
		})
	}
	fake := &client.FakeClient{Responses: responses}
	cfg := Config{Chat: &fakeChatService{c: fake}, Pipeline: &fakePipeline{}, MaxTurns: 2}

	h := Run(context.Background(), cfg)
	_ = drain(t, h)
	result := h.Wait()

	if result.Success {
		t.Fatal("expected failure at the turn cap with no OnTurnLimitReached hook")
	}
	if result.Error == nil || result.Error.Type != event.ErrMaxTurnsExceeded {
		t.Fatalf("expected max_turns_exceeded, got %+v", result.Error)
	}
	if result.Metadata.TurnsCount != 2 {
		t.Errorf("expected 2 turns counted, got %d", result.Metadata.TurnsCount)
	}
}

func TestIncompleteIntentRetry(t *testing.T) {
	fake := &client.FakeClient{Responses: []message.CompletionResponse{
		{Content: "Let me check the file first...   ", StopReason: "end_turn"},
		{Content: "Let me check the file first...   ", StopReason: "end_turn"},
		{Content: "actually here is the answer", StopReason: "end_turn"},
	}}
	cfg := Config{Chat: &fakeChatService{c: fake}, Pipeline: &fakePipeline{}, MaxTurns: 10}

	h := Run(context.Background(), cfg)
	_ = drain(t, h)
	result := h.Wait()

	if !result.Success || result.FinalMessage != "actually here is the answer" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestIncompleteIntentRetryCapsAtTwo(t *testing.T) {
	vague := message.CompletionResponse{Content: "I will check this：", StopReason: "end_turn"}
	fake := &client.FakeClient{Responses: []message.CompletionResponse{vague, vague, vague, vague}}
	cfg := Config{Chat: &fakeChatService{c: fake}, Pipeline: &fakePipeline{}, MaxTurns: 10}

	h := Run(context.Background(), cfg)
	_ = drain(t, h)
	result := h.Wait()

	// After 2 retries the heuristic still matches but the cap is reached,
	// so the loop must fall through to completion instead of looping forever.
	if !result.Success {
		t.Fatalf("expected the loop to terminate once the retry cap is hit, got %+v", result)
	}
}

// TestOnAfterToolExecRunsSequentiallyInCallOrder guards against OnAfterToolExec
// firing from inside the per-call concurrent dispatch: it must be called once
// per tool call, in the order the calls were issued, after every dispatch for
// the turn has settled.
func TestOnAfterToolExecRunsSequentiallyInCallOrder(t *testing.T) {
	fake := &client.FakeClient{Responses: []message.CompletionResponse{
		{
			StopReason: "tool_use",
			ToolCalls: []message.ToolCall{
				{ID: "tc1", Name: "A", Input: `{}`},
				{ID: "tc2", Name: "B", Input: `{}`},
				{ID: "tc3", Name: "C", Input: `{}`},
			},
		},
		{Content: "done", StopReason: "end_turn"},
	}}
	pipeline := &fakePipeline{results: map[string]*message.ToolResult{
		"A": {Content: "a"}, "B": {Content: "b"}, "C": {Content: "c"},
	}}

	var mu sync.Mutex
	var seen []string
	cfg := Config{
		Chat:     &fakeChatService{c: fake},
		Pipeline: pipeline,
		MaxTurns: 10,
	}
	cfg.Hooks.OnAfterToolExec = func(in AfterToolExecInput) {
		mu.Lock()
		seen = append(seen, in.ToolCall.Name)
		mu.Unlock()
	}

	h := Run(context.Background(), cfg)
	_ = drain(t, h)
	result := h.Wait()

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	want := []string{"A", "B", "C"}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("expected %d OnAfterToolExec calls, got %d: %v", len(want), len(seen), seen)
	}
	for i, name := range want {
		if seen[i] != name {
			t.Errorf("OnAfterToolExec[%d]: expected %s, got %s (full order: %v)", i, name, seen[i], seen)
		}
	}
}

func TestMaxTurnsZeroDisablesChat(t *testing.T) {
	cfg := Config{Chat: &fakeChatService{c: &client.FakeClient{}}, Pipeline: &fakePipeline{}, MaxTurns: 0}
	h := Run(context.Background(), cfg)
	events := drain(t, h)
	result := h.Wait()

	if len(events) != 0 {
		t.Fatalf("expected zero events when chat is disabled, got %v", eventTypes(events))
	}
	if result.Success || result.Error == nil || result.Error.Type != event.ErrChatDisabled {
		t.Fatalf("expected chat_disabled error, got %+v", result)
	}
}

// --- helpers ---

func eventTypes(events []event.Event) []event.Type {
	types := make([]event.Type, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func assertEventCounts(t *testing.T, events []event.Event, typ event.Type, want int) {
	t.Helper()
	got := 0
	for _, e := range events {
		if e.Type == typ {
			got++
		}
	}
	if got != want {
		t.Errorf("expected %d %s events, got %d", want, typ, got)
	}
}

// assertTurnPairing checks every turn_start has a matching turn_end before
// the next turn_start or agent_end, per the loop's pairing invariant.
func assertTurnPairing(t *testing.T, events []event.Event) {
	t.Helper()
	open := false
	for _, e := range events {
		switch e.Type {
		case event.TurnStart:
			if open {
				t.Fatal("turn_start fired while a previous turn was still open")
			}
			open = true
		case event.TurnEnd:
			if !open {
				t.Fatal("turn_end fired with no matching turn_start")
			}
			open = false
		}
	}
	if open {
		t.Fatal("stream ended with an unclosed turn")
	}
}
