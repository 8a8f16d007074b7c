package journal

import (
	"path/filepath"
	"testing"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenAt(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenAt() error: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSaveMessageReturnsUUID(t *testing.T) {
	j := newTestJournal(t)

	id, err := j.SaveMessage("sess1", "user", "hello", "", nil)
	if err != nil {
		t.Fatalf("SaveMessage() error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty uuid")
	}
}

func TestSaveToolUseAndResultChain(t *testing.T) {
	j := newTestJournal(t)

	useID, err := j.SaveToolUse("sess1", "Read", `{"file_path":"a.go"}`, "", nil)
	if err != nil {
		t.Fatalf("SaveToolUse() error: %v", err)
	}

	resultID, err := j.SaveToolResult("sess1", "tc1", "Read", "file contents", false, useID, nil)
	if err != nil {
		t.Fatalf("SaveToolResult() error: %v", err)
	}
	if resultID == useID {
		t.Fatal("expected distinct uuids for tool_use and tool_result records")
	}
}

func TestSaveToolResultWithSubagentRef(t *testing.T) {
	j := newTestJournal(t)

	ref := &SubagentRef{SessionID: "sub-1", Type: "explorer", Status: "completed", Summary: "found 3 files"}
	id, err := j.SaveToolResult("sess1", "tc1", "Task", "done", false, "", ref)
	if err != nil {
		t.Fatalf("SaveToolResult() error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty uuid")
	}
}

func TestSaveCompaction(t *testing.T) {
	j := newTestJournal(t)

	id, err := j.SaveCompaction("sess1", "summary of the conversation", 42, "")
	if err != nil {
		t.Fatalf("SaveCompaction() error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty uuid")
	}
}

func TestEachRecordGetsAUniqueUUID(t *testing.T) {
	j := newTestJournal(t)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		id, err := j.SaveMessage("sess1", "user", "msg", "", nil)
		if err != nil {
			t.Fatalf("SaveMessage() error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate uuid %q", id)
		}
		seen[id] = true
	}
}
