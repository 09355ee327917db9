package engine

import "github.com/voclabs/supportflow/core"

// EventType discriminates pipeline stream events.
type EventType string

// Stream event types, in emission order: one started, zero or more
// processing, then exactly one completed or error.
const (
	EventStarted    EventType = "started"
	EventProcessing EventType = "processing"
	EventCompleted  EventType = "completed"
	EventError      EventType = "error"
)

// Metadata is the per-turn diagnostic payload attached to terminal events.
type Metadata struct {
	SessionID        string      `json:"session_id"`
	TurnCount        int         `json:"turn_count"`
	Stage            core.Stage  `json:"stage,omitempty"`
	SessionStatus    core.Status `json:"session_status"`
	CurrentIssueType string      `json:"current_issue_type,omitempty"`
	ResolvedCaseID   string      `json:"resolved_case_id,omitempty"`
	Confidence       float64     `json:"confidence,omitempty"`
	RAGUsed          bool        `json:"rag_used"`
	MatchedCaseIDs   []string    `json:"matched_case_ids,omitempty"`
	Escalated        bool        `json:"escalated"`
	EscalationReason string      `json:"escalation_reason,omitempty"`
	ErrorKind        string      `json:"error_kind,omitempty"`
	Replayed         bool        `json:"replayed,omitempty"`
}

// Event is one frame of the pipeline stream.
//
// Started frames carry only the type. Processing frames name the stage being
// entered. The terminal completed frame carries the reply and metadata; an
// error frame carries the deterministic fallback reply plus the error kind.
type Event struct {
	Type     EventType  `json:"status"`
	Stage    core.Stage `json:"node,omitempty"`
	Response string     `json:"response,omitempty"`
	Metadata *Metadata  `json:"metadata,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Result is the collected terminal outcome of one processed turn.
type Result struct {
	Response string   `json:"response"`
	Metadata Metadata `json:"metadata"`
}
