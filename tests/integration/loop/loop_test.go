package loop_test

import (
	"context"
	"testing"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/loop"
	"github.com/agentmesh/turnloop/internal/message"
	"github.com/agentmesh/turnloop/tests/integration/testutil"
)

func drain(h *loop.Handle) []event.Event {
	var events []event.Event
	for e := range h.Events {
		events = append(events, e)
	}
	return events
}

func TestLoop_SingleTurn_EndTurn(t *testing.T) {
	cfg, _ := testutil.NewTestLoopConfig(t, testutil.EndTurnResponse("hello world"))
	cfg.Messages = []message.Message{message.UserMessage("hi", nil)}

	h := loop.Run(context.Background(), cfg)
	drain(h)
	result := h.Wait()

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.FinalMessage != "hello world" {
		t.Errorf("expected content 'hello world', got %q", result.FinalMessage)
	}
	if result.Metadata.TurnsCount != 1 {
		t.Errorf("expected 1 turn, got %d", result.Metadata.TurnsCount)
	}
	if result.Metadata.TokensUsed == 0 {
		t.Error("expected non-zero tokens used")
	}
}

func TestLoop_MultiTurn_ToolUse(t *testing.T) {
	testutil.RegisterFakeTool(t, "MyTool", "tool output")

	cfg, _ := testutil.NewTestLoopConfig(t,
		testutil.ToolCallResponse("MyTool", "tc1", `{}`),
		testutil.EndTurnResponse("done after tool"),
	)
	cfg.Messages = []message.Message{message.UserMessage("use tool", nil)}

	h := loop.Run(context.Background(), cfg)
	events := drain(h)
	result := h.Wait()

	var toolExecuted bool
	for _, e := range events {
		if e.Type == event.ToolResult && e.ToolCall.Name == "MyTool" {
			toolExecuted = true
		}
	}
	if !toolExecuted {
		t.Error("expected tool to be executed")
	}
	if result.Metadata.TurnsCount != 2 {
		t.Errorf("expected 2 turns, got %d", result.Metadata.TurnsCount)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
}

func TestLoop_MaxTurns(t *testing.T) {
	testutil.RegisterFakeTool(t, "AlwaysTool", "ok")

	responses := make([]message.CompletionResponse, 10)
	for i := range responses {
		responses[i] = testutil.ToolCallResponse("AlwaysTool", "tc", `{}`)
	}

	cfg, _ := testutil.NewTestLoopConfig(t, responses...)
	cfg.Messages = []message.Message{message.UserMessage("go", nil)}
	cfg.MaxTurns = 3

	h := loop.Run(context.Background(), cfg)
	drain(h)
	result := h.Wait()

	if result.Success {
		t.Fatal("expected failure at the turn limit")
	}
	if result.Error == nil || result.Error.Type != event.ErrMaxTurnsExceeded {
		t.Errorf("expected max_turns_exceeded, got %+v", result.Error)
	}
}

func TestLoop_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg, _ := testutil.NewTestLoopConfig(t, testutil.EndTurnResponse("should not reach"))
	cfg.Messages = []message.Message{message.UserMessage("hello", nil)}

	h := loop.Run(ctx, cfg)
	drain(h)
	result := h.Wait()

	if result.Success {
		t.Fatal("expected failure from cancelled context")
	}
	if result.Error == nil || result.Error.Type != event.ErrAborted {
		t.Errorf("expected aborted, got %+v", result.Error)
	}
}

func TestLoop_UnknownTool(t *testing.T) {
	cfg, _ := testutil.NewTestLoopConfig(t,
		testutil.ToolCallResponse("NonExistent", "tc1", `{}`),
		testutil.EndTurnResponse("recovered"),
	)
	cfg.Messages = []message.Message{message.UserMessage("call unknown", nil)}

	h := loop.Run(context.Background(), cfg)
	events := drain(h)
	result := h.Wait()

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.FinalMessage != "recovered" {
		t.Errorf("expected 'recovered', got %q", result.FinalMessage)
	}

	hasError := false
	for _, e := range events {
		if e.Type == event.ToolResult && e.ToolResult != nil && e.ToolResult.IsError {
			hasError = true
		}
	}
	if !hasError {
		t.Error("expected error tool result for unknown tool")
	}
}

func TestLoop_MultipleToolCalls(t *testing.T) {
	testutil.RegisterFakeTool(t, "ToolA", "result A")
	testutil.RegisterFakeTool(t, "ToolB", "result B")

	cfg, _ := testutil.NewTestLoopConfig(t,
		testutil.MultiToolCallResponse(
			message.ToolCall{ID: "tc1", Name: "ToolA", Input: `{}`},
			message.ToolCall{ID: "tc2", Name: "ToolB", Input: `{}`},
		),
		testutil.EndTurnResponse("both done"),
	)
	cfg.Messages = []message.Message{message.UserMessage("use both", nil)}

	h := loop.Run(context.Background(), cfg)
	events := drain(h)
	h.Wait()

	toolResults := 0
	for _, e := range events {
		if e.Type == event.ToolResult && e.ToolResult != nil && !e.ToolResult.IsError {
			toolResults++
		}
	}
	if toolResults != 2 {
		t.Errorf("expected 2 tool results, got %d", toolResults)
	}
}

func TestLoop_TokenAccumulation(t *testing.T) {
	testutil.RegisterFakeTool(t, "Tick", "ok")

	cfg, _ := testutil.NewTestLoopConfig(t,
		testutil.ToolCallResponse("Tick", "tc1", `{}`),
		testutil.ToolCallResponse("Tick", "tc2", `{}`),
		testutil.EndTurnResponseWithUsage("done", 20, 10),
	)
	cfg.Messages = []message.Message{message.UserMessage("go", nil)}

	h := loop.Run(context.Background(), cfg)
	drain(h)
	result := h.Wait()

	if result.Metadata.TurnsCount != 3 {
		t.Errorf("expected 3 turns, got %d", result.Metadata.TurnsCount)
	}

	// Each of the first 2 responses has 10+5 usage, third has 20+10.
	if result.Metadata.TokensUsed != 60 {
		t.Errorf("expected 60 tokens used, got %d", result.Metadata.TokensUsed)
	}
}
