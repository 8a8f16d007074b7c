package compact_test

import (
	"context"
	"strings"
	"testing"

	"github.com/agentmesh/turnloop/internal/client"
	"github.com/agentmesh/turnloop/internal/loop"
	"github.com/agentmesh/turnloop/internal/message"
	"github.com/agentmesh/turnloop/tests/integration/testutil"
)

// newCompactionService creates a loop.CompactionService backed by the given
// responses, plus the underlying FakeClient for call inspection.
func newCompactionService(responses ...message.CompletionResponse) (loop.CompactionService, *client.FakeClient) {
	fake := &client.FakeClient{Responses: responses}
	return loop.NewCompactionService(testutil.NewTestClient(fake)), fake
}

func TestCompact_SummarizesConversation(t *testing.T) {
	svc, _ := newCompactionService(
		message.CompletionResponse{Content: "Summary: discussed file reading", StopReason: "end_turn"},
	)

	msgs := []message.Message{
		message.UserMessage("read the file", nil),
		message.AssistantMessage("I'll read the file for you", "", nil),
		message.UserMessage("thanks", nil),
		message.AssistantMessage("you're welcome", "", nil),
	}

	result, err := svc.Compact(context.Background(), msgs, loop.CompactOptions{})
	if err != nil {
		t.Fatalf("Compact() error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected a successful compaction")
	}
	if result.Summary != "Summary: discussed file reading" {
		t.Errorf("unexpected summary: %q", result.Summary)
	}
	if len(result.CompactedMessages) == 0 {
		t.Error("expected compacted messages to replace the conversation")
	}
}

func TestCompact_WithFocus(t *testing.T) {
	svc, fake := newCompactionService(
		message.CompletionResponse{Content: "Focused summary on testing", StopReason: "end_turn"},
	)

	msgs := []message.Message{
		message.UserMessage("write tests", nil),
		message.AssistantMessage("ok", "", nil),
	}

	_, err := svc.Compact(context.Background(), msgs, loop.CompactOptions{Focus: "testing"})
	if err != nil {
		t.Fatalf("Compact() error: %v", err)
	}

	if len(fake.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(fake.Calls))
	}
	if !strings.Contains(fake.Calls[0].Messages[0].Content, "testing") {
		t.Error("expected focus string 'testing' in sent messages")
	}
}

func TestCompact_EmptyConversation(t *testing.T) {
	svc, _ := newCompactionService(
		message.CompletionResponse{Content: "Empty summary", StopReason: "end_turn"},
	)

	result, err := svc.Compact(context.Background(), nil, loop.CompactOptions{})
	if err != nil {
		t.Fatalf("Compact() error: %v", err)
	}
	if result.Summary == "" {
		t.Error("expected non-empty summary even for empty conversation")
	}
}

func TestNeedsCompaction(t *testing.T) {
	tests := []struct {
		name   string
		input  int
		limit  int
		expect bool
	}{
		{"zero limit", 100, 0, false},
		{"zero tokens", 0, 1000, false},
		{"well below", 500, 1000, false},
		{"at 94%", 940, 1000, false},
		{"at 95%", 950, 1000, true},
		{"at 100%", 1000, 1000, true},
		{"over limit", 1100, 1000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := message.NeedsCompaction(tt.input, tt.limit)
			if got != tt.expect {
				t.Errorf("NeedsCompaction(%d, %d) = %v, want %v",
					tt.input, tt.limit, got, tt.expect)
			}
		})
	}
}
