package loop

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agentmesh/turnloop/internal/message"
)

// RetryPrompt is appended verbatim as a synthetic user message when the
// assistant's reply announces intent without calling a tool.
const RetryPrompt = "请执行你提到的操作，不要只是描述。"

// retryCap is the maximum number of synthetic retry prompts allowed within
// the trailing retryWindow messages of a run.
const retryCap = 2
const retryWindow = 10

// fullWidthColon is U+FF1A, the Chinese/Japanese full-width colon.
const fullWidthColon = '：'

// incompleteIntentPattern matches the English "Let me (first|start|check|look|fix)"
// family, case-insensitive.
var incompleteIntentPattern = regexp.MustCompile(`(?i)Let me (first|start|check|look|fix)`)

// chineseLetMePattern matches "让我(先|来|开始|查看|检查|修复)".
var chineseLetMePattern = regexp.MustCompile(`让我(先|来|开始|查看|检查|修复)`)

// isIncompleteIntent reports whether content announces intent without
// having called a tool, per the pattern set in spec §4.1.1. Trailing-
// punctuation checks are rune-based so the full-width colon (U+FF1A)
// matches correctly regardless of its multi-byte UTF-8 encoding.
func isIncompleteIntent(content string) bool {
	trimmed := strings.TrimRightFunc(content, unicode.IsSpace)
	if trimmed == "" {
		return false
	}

	hadTrailingSpace := len(trimmed) != len(content)
	runes := []rune(trimmed)
	last := runes[len(runes)-1]

	switch {
	case last == fullWidthColon:
		return true
	case last == ':' && hadTrailingSpace:
		return true
	case strings.HasSuffix(trimmed, "...") && hadTrailingSpace:
		return true
	}

	return chineseLetMePattern.MatchString(content) || incompleteIntentPattern.MatchString(content)
}

// countRetryPrompts scans the trailing retryWindow messages for user
// messages whose content equals RetryPrompt exactly.
func countRetryPrompts(msgs []message.Message) int {
	start := 0
	if len(msgs) > retryWindow {
		start = len(msgs) - retryWindow
	}

	count := 0
	for _, m := range msgs[start:] {
		if m.Role == message.RoleUser && m.Content == RetryPrompt {
			count++
		}
	}
	return count
}
