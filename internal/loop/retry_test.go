package loop

import (
	"testing"

	"github.com/agentmesh/turnloop/internal/message"
)

func TestIsIncompleteIntent(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    bool
	}{
		{"fullwidth colon", "我现在检查这个文件：", true},
		{"ascii colon with trailing space", "Let's look at this:  ", true},
		{"ascii colon no trailing space", "Note the ratio 3:2", false},
		{"ellipsis with trailing space", "I'll go look at that now...  ", true},
		{"ellipsis no trailing space", "...", false},
		{"chinese let-me phrase", "让我先查看一下这个文件的内容", true},
		{"english let-me phrase", "Let me check the configuration before proceeding.", true},
		{"complete answer", "The answer is 42.", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isIncompleteIntent(c.content); got != c.want {
				t.Errorf("isIncompleteIntent(%q) = %v, want %v", c.content, got, c.want)
			}
		})
	}
}

func TestCountRetryPromptsWindow(t *testing.T) {
	msgs := []message.Message{}
	for i := 0; i < 15; i++ {
		msgs = append(msgs, message.UserMessage("filler", nil))
	}
	// One retry prompt outside the last-10 window, one inside it.
	msgs = append(msgs[:2], append([]message.Message{message.UserMessage(RetryPrompt, nil)}, msgs[2:]...)...)
	msgs = append(msgs, message.UserMessage(RetryPrompt, nil))

	if got := countRetryPrompts(msgs); got != 1 {
		t.Errorf("expected 1 retry prompt within the last %d messages, got %d", retryWindow, got)
	}
}

func TestCountRetryPromptsAllWithinWindow(t *testing.T) {
	msgs := []message.Message{
		message.UserMessage(RetryPrompt, nil),
		message.UserMessage(RetryPrompt, nil),
	}
	if got := countRetryPrompts(msgs); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}
