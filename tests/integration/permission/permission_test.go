package permission_test

import (
	"context"
	"testing"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/loop"
	"github.com/agentmesh/turnloop/internal/message"
	"github.com/agentmesh/turnloop/internal/permission"
	"github.com/agentmesh/turnloop/tests/integration/testutil"
)

func drain(h *loop.Handle) []event.Event {
	var events []event.Event
	for e := range h.Events {
		events = append(events, e)
	}
	return events
}

func hasErrorResult(events []event.Event) bool {
	for _, e := range events {
		if e.Type == event.ToolResult && e.ToolResult != nil && e.ToolResult.IsError {
			return true
		}
	}
	return false
}

func TestPermission_PermitAll_AllowsWrite(t *testing.T) {
	testutil.RegisterFakeTool(t, "Write", "written successfully")

	cfg, _ := testutil.NewTestLoopConfigWithPermission(t, permission.PermitAll(),
		testutil.ToolCallResponse("Write", "tc1", `{"file_path": "/tmp/test"}`),
		testutil.EndTurnResponse("done"),
	)
	cfg.Messages = []message.Message{message.UserMessage("write a file", nil)}

	h := loop.Run(context.Background(), cfg)
	events := drain(h)
	result := h.Wait()

	if hasErrorResult(events) {
		t.Error("unexpected error result")
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
}

func TestPermission_ReadOnly_BlocksWrite(t *testing.T) {
	testutil.RegisterFakeTool(t, "Write", "should not execute")

	cfg, _ := testutil.NewTestLoopConfigWithPermission(t, permission.ReadOnly(),
		testutil.ToolCallResponse("Write", "tc1", `{"file_path": "/tmp/test"}`),
		testutil.EndTurnResponse("ok"),
	)
	cfg.Messages = []message.Message{message.UserMessage("write", nil)}

	h := loop.Run(context.Background(), cfg)
	events := drain(h)
	h.Wait()

	if !hasErrorResult(events) {
		t.Error("expected error result for Write tool in ReadOnly mode")
	}
}

func TestPermission_ReadOnly_AllowsRead(t *testing.T) {
	testutil.RegisterFakeTool(t, "Read", "file contents")

	cfg, _ := testutil.NewTestLoopConfigWithPermission(t, permission.ReadOnly(),
		testutil.ToolCallResponse("Read", "tc1", `{"file_path": "/tmp/test"}`),
		testutil.EndTurnResponse("done"),
	)
	cfg.Messages = []message.Message{message.UserMessage("read", nil)}

	h := loop.Run(context.Background(), cfg)
	events := drain(h)
	h.Wait()

	if hasErrorResult(events) {
		t.Error("unexpected error for Read tool")
	}
}

func TestPermission_DenyAll_BlocksEverything(t *testing.T) {
	testutil.RegisterFakeTool(t, "Read", "should not execute")

	cfg, _ := testutil.NewTestLoopConfigWithPermission(t, permission.DenyAll(),
		testutil.ToolCallResponse("Read", "tc1", `{}`),
		testutil.EndTurnResponse("done"),
	)
	cfg.Messages = []message.Message{message.UserMessage("read", nil)}

	h := loop.Run(context.Background(), cfg)
	events := drain(h)
	h.Wait()

	if !hasErrorResult(events) {
		t.Error("expected error result for Read tool in DenyAll mode")
	}
}

func TestPermission_ExecTool_Directly(t *testing.T) {
	testutil.RegisterFakeTool(t, "Bash", "executed")

	tests := []struct {
		name      string
		checker   permission.Checker
		wantError bool
	}{
		{"PermitAll allows Bash", permission.PermitAll(), false},
		{"DenyAll rejects Bash", permission.DenyAll(), true},
		{"ReadOnly rejects Bash", permission.ReadOnly(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := testutil.NewTestLoopConfigWithPermission(t, tt.checker)
			params := map[string]any{"command": "echo hello"}
			result := cfg.Pipeline.Execute(context.Background(), "Bash", params, loop.ExecContext{})
			if result.IsError != tt.wantError {
				t.Errorf("IsError = %v, want %v (content: %s)", result.IsError, tt.wantError, result.Content)
			}
		})
	}
}
