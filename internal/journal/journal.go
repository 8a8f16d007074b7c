// Package journal provides an append-only, per-session record of every
// message, tool use, tool result, and compaction a loop run produces.
// It is the core's write-only sink (spec §6's Journal collaborator);
// rewind/inspection tooling reads the same database independently.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Journal persists loop records to a local SQLite database, each row
// identified by a fresh UUID and optionally pointing at a parent UUID
// so later rewind tooling can walk the chain.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the journal database at ~/.gen/journal.db.
func Open() (*Journal, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	baseDir := filepath.Join(homeDir, ".gen")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	return OpenAt(filepath.Join(baseDir, "journal.db"))
}

// OpenAt opens a journal database at an explicit path (tests use this
// against a temp file).
func OpenAt(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS journal_records (
	uuid TEXT PRIMARY KEY,
	parent_uuid TEXT,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	role TEXT,
	tool_name TEXT,
	tool_call_id TEXT,
	content TEXT,
	is_error INTEGER NOT NULL DEFAULT 0,
	subagent_session_id TEXT,
	subagent_type TEXT,
	subagent_status TEXT,
	subagent_summary TEXT,
	created_at TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// SubagentRef carries the sub-agent reference fields forwarded to the
// journal but never interpreted by the loop itself.
type SubagentRef struct {
	SessionID string
	Type      string
	Status    string // running | completed | failed | cancelled
	Summary   string
}

// SaveMessage records a user/assistant/tool message and returns its UUID.
func (j *Journal) SaveMessage(sessionID, role, text string, parentUUID string, subagent *SubagentRef) (string, error) {
	return j.insert(sessionID, "message", role, "", "", text, false, parentUUID, subagent)
}

// SaveToolUse records a tool invocation and returns its UUID.
func (j *Journal) SaveToolUse(sessionID, toolName, paramsJSON string, parentUUID string, subagent *SubagentRef) (string, error) {
	return j.insert(sessionID, "tool_use", "", toolName, "", paramsJSON, false, parentUUID, subagent)
}

// SaveToolResult records a tool's output (or error) and returns its UUID.
// toolUseUUID becomes this record's parent.
func (j *Journal) SaveToolResult(sessionID, toolCallID, toolName, output string, isErr bool, toolUseUUID string, subagent *SubagentRef) (string, error) {
	return j.insertWithCallID(sessionID, "tool_result", "", toolName, toolCallID, output, isErr, toolUseUUID, subagent)
}

// SaveCompaction records a compaction event: the summary text and the
// count of messages it replaced.
func (j *Journal) SaveCompaction(sessionID, summary string, messagesReplaced int, parentUUID string) (string, error) {
	content := fmt.Sprintf("%s\n\n[replaced %d messages]", summary, messagesReplaced)
	return j.insert(sessionID, "compaction", "", "", "", content, false, parentUUID, nil)
}

func (j *Journal) insert(sessionID, kind, role, toolName, toolCallID, content string, isErr bool, parentUUID string, subagent *SubagentRef) (string, error) {
	return j.insertWithCallID(sessionID, kind, role, toolName, toolCallID, content, isErr, parentUUID, subagent)
}

func (j *Journal) insertWithCallID(sessionID, kind, role, toolName, toolCallID, content string, isErr bool, parentUUID string, subagent *SubagentRef) (string, error) {
	id := uuid.NewString()

	j.mu.Lock()
	defer j.mu.Unlock()

	var sAgentID, sType, sStatus, sSummary string
	if subagent != nil {
		sAgentID, sType, sStatus, sSummary = subagent.SessionID, subagent.Type, subagent.Status, subagent.Summary
	}

	_, err := j.db.Exec(`
INSERT INTO journal_records
	(uuid, parent_uuid, session_id, kind, role, tool_name, tool_call_id, content, is_error,
	 subagent_session_id, subagent_type, subagent_status, subagent_summary, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nullable(parentUUID), sessionID, kind, nullable(role), nullable(toolName), nullable(toolCallID),
		content, boolToInt(isErr), nullable(sAgentID), nullable(sType), nullable(sStatus), nullable(sSummary),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("failed to write journal record: %w", err)
	}

	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
