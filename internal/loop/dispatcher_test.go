package loop

import (
	"context"
	"testing"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/message"
)

func TestApplyArgumentRepairsFabricatesSubagentSessionID(t *testing.T) {
	params := map[string]any{}
	applyArgumentRepairs("Task", params)

	id, ok := params["subagent_session_id"].(string)
	if !ok || id == "" {
		t.Fatalf("expected a fabricated subagent_session_id, got %#v", params["subagent_session_id"])
	}
}

func TestApplyArgumentRepairsPrefersResume(t *testing.T) {
	params := map[string]any{"resume": "existing-session-42"}
	applyArgumentRepairs("Task", params)

	if params["subagent_session_id"] != "existing-session-42" {
		t.Errorf("expected subagent_session_id to reuse resume id, got %#v", params["subagent_session_id"])
	}
}

func TestApplyArgumentRepairsLeavesNonTaskToolsAlone(t *testing.T) {
	params := map[string]any{}
	applyArgumentRepairs("Read", params)

	if _, ok := params["subagent_session_id"]; ok {
		t.Error("did not expect subagent_session_id to be fabricated for non-Task tools")
	}
}

func TestApplyArgumentRepairsParsesJSONTodos(t *testing.T) {
	params := map[string]any{"todos": `[{"id":"1","content":"x","status":"pending"}]`}
	applyArgumentRepairs("TodoWrite", params)

	parsed, ok := params["todos"].([]any)
	if !ok || len(parsed) != 1 {
		t.Fatalf("expected todos to parse into a one-element slice, got %#v", params["todos"])
	}
}

func TestApplyArgumentRepairsLeavesUnparsableTodosAlone(t *testing.T) {
	params := map[string]any{"todos": "not json"}
	applyArgumentRepairs("TodoWrite", params)

	if params["todos"] != "not json" {
		t.Errorf("expected unparsable todos string to be left untouched, got %#v", params["todos"])
	}
}

func TestNewRandomIDIsUnique(t *testing.T) {
	a := newRandomID()
	b := newRandomID()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestRunAllPreservesCallOrder(t *testing.T) {
	pipeline := &fakePipeline{results: map[string]*message.ToolResult{
		"A": {Content: "a-result"},
		"B": {Content: "b-result"},
		"C": {Content: "c-result"},
	}}
	calls := []message.ToolCall{
		{ID: "1", Name: "A", Input: "{}"},
		{ID: "2", Name: "B", Input: "{}"},
		{ID: "3", Name: "C", Input: "{}"},
	}

	results := runAll(context.Background(), pipeline, ExecContext{}, Hooks{}, calls)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"A", "B", "C"} {
		if results[i].toolCall.Name != want {
			t.Errorf("result[%d]: expected call for %s, got %s", i, want, results[i].toolCall.Name)
		}
		if results[i].result.ToolCallID != calls[i].ID {
			t.Errorf("result[%d]: expected ToolCallID %s, got %s", i, calls[i].ID, results[i].result.ToolCallID)
		}
	}
}

func TestDispatchOneReportsUnparsableInput(t *testing.T) {
	pipeline := &fakePipeline{}
	result := dispatchOne(context.Background(), pipeline, ExecContext{}, Hooks{}, message.ToolCall{ID: "1", Name: "Read", Input: "not json"})

	if !result.result.IsError {
		t.Fatal("expected an error result for unparsable tool input")
	}
	if len(pipeline.calls) != 0 {
		t.Error("pipeline should never be invoked when argument parsing fails")
	}
}

func TestToolKindForDefaultsToExecuteWithNilPipeline(t *testing.T) {
	if got := toolKindFor(nil, "Bash"); got != event.KindExecute {
		t.Errorf("expected KindExecute for nil pipeline, got %v", got)
	}
}
