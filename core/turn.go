package core

import (
	"time"

	"github.com/google/uuid"
)

// Roles attached to turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnMeta carries per-turn diagnostics surfaced to clients and the
// analytics log.
type TurnMeta struct {
	Confidence     float64  `json:"confidence,omitempty"`
	RAGUsed        bool     `json:"rag_used,omitempty"`
	MatchedCaseIDs []string `json:"matched_case_ids,omitempty"`
}

// Turn is one message exchange. Immutable once created; it is appended to the
// session history and to the external turn log but never updated in place.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Stage     Stage     `json:"stage,omitempty"`
	Meta      TurnMeta  `json:"meta,omitempty"`
}

// NewID generates a unique identifier for turns and runs.
func NewID() string { return uuid.NewString() }

// NewUserTurn creates a user-authored turn.
func NewUserTurn(sessionID, text string) Turn {
	return Turn{
		ID:        NewID(),
		SessionID: sessionID,
		Role:      RoleUser,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// NewAssistantTurn creates an assistant turn recording the stage that
// produced it.
func NewAssistantTurn(sessionID, text string, stage Stage, meta TurnMeta) Turn {
	return Turn{
		ID:        NewID(),
		SessionID: sessionID,
		Role:      RoleAssistant,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Stage:     stage,
		Meta:      meta,
	}
}
