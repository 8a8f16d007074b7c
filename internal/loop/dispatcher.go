package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agentmesh/turnloop/internal/event"
	"github.com/agentmesh/turnloop/internal/message"
)

// dispatchResult is one tool call's outcome, returned in call order.
type dispatchResult struct {
	toolCall    message.ToolCall
	result      *message.ToolResult
	toolUseUUID string
}

// runAll executes every call in toolCalls concurrently against pipeline,
// applying the argument repairs of spec §3 first, and returns results
// indexed by original call position regardless of completion order.
func runAll(ctx context.Context, pipeline ExecutionPipeline, ectx ExecContext, hooksIn Hooks, toolCalls []message.ToolCall) []dispatchResult {
	results := make([]dispatchResult, len(toolCalls))

	type slot struct {
		idx int
		res dispatchResult
	}
	done := make(chan slot, len(toolCalls))

	for i, tc := range toolCalls {
		go func(i int, tc message.ToolCall) {
			done <- slot{idx: i, res: dispatchOne(ctx, pipeline, ectx, hooksIn, tc)}
		}(i, tc)
	}

	for range toolCalls {
		s := <-done
		results[s.idx] = s.res
	}

	return results
}

func dispatchOne(ctx context.Context, pipeline ExecutionPipeline, ectx ExecContext, hooksIn Hooks, tc message.ToolCall) dispatchResult {
	params, err := message.ParseToolInput(tc.Input)
	if err != nil {
		return dispatchResult{
			toolCall: tc,
			result: &message.ToolResult{
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Content:    err.Error(),
				IsError:    true,
				Error:      &message.ToolResultError{Type: "EXECUTION_ERROR", Message: err.Error()},
			},
		}
	}

	applyArgumentRepairs(tc.Name, params)

	var toolUseUUID string
	if hooksIn.OnBeforeToolExec != nil {
		toolUseUUID = hooksIn.OnBeforeToolExec(BeforeToolExecInput{ToolCall: tc, Params: params})
	}

	result := pipeline.Execute(ctx, tc.Name, params, ectx)
	if result == nil {
		result = &message.ToolResult{
			Content: "tool returned no result",
			IsError: true,
			Error:   &message.ToolResultError{Type: "EXECUTION_ERROR", Message: "tool returned no result"},
		}
	}
	// ExecutionPipeline only sees name/params, not the call id; stamp it here.
	result.ToolCallID = tc.ID
	if result.ToolName == "" {
		result.ToolName = tc.Name
	}

	// OnAfterToolExec is deliberately not invoked here: it must run
	// sequentially, in call order, after every concurrent dispatch has
	// settled (spec step 10) — the caller in loop.go does that once it
	// has all of runAll's ordered results.
	return dispatchResult{toolCall: tc, result: result, toolUseUUID: toolUseUUID}
}

// applyArgumentRepairs mutates params in place per spec §3:
//  1. Task calls missing subagent_session_id get one fabricated (prefer
//     "resume" if it is a non-empty string, else a fresh random id).
//  2. Any "todos" field holding a JSON-encoded string is parsed into its
//     array form; on failure it is left untouched for schema validation.
func applyArgumentRepairs(toolName string, params map[string]any) {
	if toolName == "Task" {
		if v, ok := params["subagent_session_id"]; !ok || v == nil || v == "" {
			if resume, ok := params["resume"].(string); ok && resume != "" {
				params["subagent_session_id"] = resume
			} else {
				params["subagent_session_id"] = newRandomID()
			}
		}
	}

	if raw, ok := params["todos"].(string); ok {
		var parsed []any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			params["todos"] = parsed
		}
	}
}

var randSeq uint64

// newRandomID fabricates a subagent session id. Callers that need a
// collision-resistant id across process restarts should prefer a real
// uuid (internal/journal already imports one for record ids).
func newRandomID() string {
	seq := atomic.AddUint64(&randSeq, 1)
	return fmt.Sprintf("subagent-%d-%d", time.Now().UnixNano(), seq)
}

// toolKindFor looks up a tool's kind for the tool_start event, defaulting
// to execute (the least-trusted classification) for unknown tools.
func toolKindFor(pipeline ExecutionPipeline, name string) event.ToolKind {
	if pipeline == nil {
		return event.KindExecute
	}
	k := pipeline.Kind(name)
	if k == "" {
		return event.KindExecute
	}
	return k
}
