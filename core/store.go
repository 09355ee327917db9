package core

import (
	"context"
	"errors"
	"time"
)

// ErrVersionConflict is returned by SessionStore.Save when the stored session
// changed since the caller loaded its snapshot.
var ErrVersionConflict = errors.New("session version conflict")

// SessionStore persists sessions with last-write consistency per session id.
//
// Load returns a deep snapshot, creating a fresh active session when the id
// is unseen. Save commits a snapshot atomically, rejecting stale versions
// with ErrVersionConflict. Lock serializes pipeline runs for one session id;
// the returned release function must be called exactly once.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Lock(sessionID string) (release func())
}

// CaseSearcher is the query interface onto the knowledge store. Indexing and
// ranking internals stay behind it.
type CaseSearcher interface {
	// Search returns up to topK cases ranked by relevance to query. A
	// non-empty issueType restricts results to that issue.
	Search(ctx context.Context, query string, topK int, issueType string) ([]ScoredCase, error)

	// RecordHit increments a case's retrieval counter for analytics.
	// Best-effort; failures must not affect the dialogue.
	RecordHit(ctx context.Context, caseID string) error
}

// TurnRecord is the append-only analytics document written after each
// terminal outcome. Consumed by an external analytics component; this engine
// is write-only with respect to the log.
type TurnRecord struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Timestamp        time.Time `json:"timestamp"`
	TurnNumber       int       `json:"turn_number"`
	UserMessage      string    `json:"user_message"`
	BotResponse      string    `json:"bot_response"`
	CurrentIssue     string    `json:"current_issue,omitempty"`
	CurrentCase      string    `json:"current_case,omitempty"`
	Confidence       float64   `json:"confidence,omitempty"`
	RAGUsed          bool      `json:"rag_used"`
	MatchedCaseIDs   []string  `json:"matched_case_ids,omitempty"`
	Stage            Stage     `json:"stage,omitempty"`
	Escalated        bool      `json:"escalated"`
	EscalationReason string    `json:"escalation_reason,omitempty"`
	QuestionsAsked   int       `json:"questions_asked"`
	ErrorKind        string    `json:"error_kind,omitempty"`

	// Summary is the session analytics snapshot, present only on the record
	// that closes a terminal turn.
	Summary *Summary `json:"session_summary,omitempty"`
}

// TurnLog is the append-only write interface to the persistent conversation
// log.
type TurnLog interface {
	Append(ctx context.Context, rec TurnRecord) error
}
