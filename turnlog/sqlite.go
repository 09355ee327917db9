package turnlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voclabs/supportflow/core"
)

// SQLiteLog is a persistent append-only TurnLog.
type SQLiteLog struct {
	db *sql.DB
}

var _ core.TurnLog = (*SQLiteLog)(nil)

// OpenSQLite creates or opens the turn log database at dbPath.
func OpenSQLite(dbPath string) (*SQLiteLog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	l := &SQLiteLog{db: db}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return l, nil
}

func (l *SQLiteLog) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		turn_number INTEGER NOT NULL,
		user_message TEXT NOT NULL,
		bot_response TEXT NOT NULL,
		current_issue TEXT,
		current_case TEXT,
		confidence REAL,
		rag_used INTEGER NOT NULL DEFAULT 0,
		matched_case_ids_json TEXT,
		stage TEXT,
		escalated INTEGER NOT NULL DEFAULT 0,
		escalation_reason TEXT,
		questions_asked INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT,
		session_summary_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, ts);
	`
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (l *SQLiteLog) Close() error { return l.db.Close() }

// Append implements core.TurnLog. Records are insert-only; a duplicate id is
// treated as an idempotent replay and ignored.
func (l *SQLiteLog) Append(ctx context.Context, rec core.TurnRecord) error {
	matched := "[]"
	if len(rec.MatchedCaseIDs) > 0 {
		b, err := json.Marshal(rec.MatchedCaseIDs)
		if err != nil {
			return fmt.Errorf("marshal matched case ids: %w", err)
		}
		matched = string(b)
	}
	var summary any
	if rec.Summary != nil {
		b, err := json.Marshal(rec.Summary)
		if err != nil {
			return fmt.Errorf("marshal session summary: %w", err)
		}
		summary = string(b)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO turns (
			id, session_id, ts, turn_number, user_message, bot_response,
			current_issue, current_case, confidence, rag_used,
			matched_case_ids_json, stage, escalated, escalation_reason,
			questions_asked, error_kind, session_summary_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.SessionID, rec.Timestamp.Unix(), rec.TurnNumber,
		rec.UserMessage, rec.BotResponse, rec.CurrentIssue, rec.CurrentCase,
		rec.Confidence, boolInt(rec.RAGUsed), matched, string(rec.Stage),
		boolInt(rec.Escalated), rec.EscalationReason, rec.QuestionsAsked,
		rec.ErrorKind, summary,
	)
	if err != nil {
		return fmt.Errorf("append turn record: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
