package core

import (
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

// Session lifecycle states. Transitions are monotonic: once a session leaves
// StatusActive it never returns to it.
const (
	StatusActive    Status = "active"
	StatusResolved  Status = "resolved"
	StatusEscalated Status = "escalated"
	StatusAbandoned Status = "abandoned"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether the status ends automated handling of the session.
func (s Status) Terminal() bool { return s != StatusActive && s != "" }

// Stage identifies a pipeline stage. Used for failure counters, turn
// provenance and progress events.
type Stage string

// Pipeline stages in execution order.
const (
	StageContinuity     Stage = "topic_continuity"
	StageClassification Stage = "issue_classification"
	StageNarrowing      Stage = "case_narrowing"
	StageFormulation    Stage = "reply_formulation"
)

// Session is the single owned aggregate holding all mutable per-conversation
// state. It is safe for concurrent access, but the engine never mutates a
// shared instance directly: it works on a Clone and commits the snapshot via
// SessionStore.Save only after a terminal outcome for the turn.
//
// Contract:
//   - TurnCount increments exactly once per accepted user message
//   - Candidates stays sorted by confidence descending
//   - Status transitions are monotonic except active -> active
//   - Escalation fires at most once
//   - History never exceeds the retention cap (oldest turns drop first)
type Session struct {
	ID               string           `json:"id"`
	CreatedAt        time.Time        `json:"created_at"`
	LastActiveAt     time.Time        `json:"last_active_at"`
	TurnCount        int              `json:"turn_count"`
	CurrentIssueType string           `json:"current_issue_type,omitempty"`
	Candidates       []CandidateMatch `json:"candidates,omitempty"`
	ResolvedCaseID   string           `json:"resolved_case_id,omitempty"`
	Status           Status           `json:"status"`
	History          []Turn           `json:"history"`
	FailedAttempts   map[Stage]int    `json:"failed_attempts"`
	AskedQuestions   []string         `json:"asked_questions,omitempty"`
	EscalationReason string           `json:"escalation_reason,omitempty"`
	RAGUsed          bool             `json:"rag_used"`

	// Idempotent replay support: the request id and reply of the last
	// committed turn. A repeated request id short-circuits the pipeline.
	LastRequestID string `json:"last_request_id,omitempty"`
	LastResponse  string `json:"last_response,omitempty"`

	// Version is the optimistic concurrency token checked by SessionStore.Save.
	Version uint64 `json:"version"`

	mu sync.RWMutex
}

// NewSession creates a fresh active session.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             id,
		CreatedAt:      now,
		LastActiveAt:   now,
		Status:         StatusActive,
		History:        []Turn{},
		FailedAttempts: map[Stage]int{},
	}
}

// Touch updates the last-active timestamp.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = now.UTC()
}

// IdleSince reports whether the session has been idle longer than d at time now.
func (s *Session) IdleSince(now time.Time, d time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.LastActiveAt) > d
}

// AcceptUserTurn records an accepted user message: the turn counter
// increments exactly once and the turn joins the capped history.
func (s *Session) AcceptUserTurn(t Turn, retention int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TurnCount++
	s.appendLocked(t, retention)
}

// AppendAssistantTurn records an outgoing reply without touching the turn counter.
func (s *Session) AppendAssistantTurn(t Turn, retention int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(t, retention)
}

func (s *Session) appendLocked(t Turn, retention int) {
	s.History = append(s.History, t)
	if retention > 0 && len(s.History) > retention {
		s.History = append([]Turn{}, s.History[len(s.History)-retention:]...)
	}
	s.LastActiveAt = t.Timestamp
}

// RecentHistory returns up to n most recent turns, oldest first.
func (s *Session) RecentHistory(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.History) {
		n = len(s.History)
	}
	out := make([]Turn, n)
	copy(out, s.History[len(s.History)-n:])
	return out
}

// TransitionTo applies a status transition, enforcing monotonicity. A
// transition out of a terminal status is rejected; active -> active is a
// no-op that succeeds.
func (s *Session) TransitionTo(next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return s.Status == next
	}
	s.Status = next
	return true
}

// Escalate moves the session to StatusEscalated recording the reason. It
// returns false if the session already reached a terminal status, so
// escalation is reported at most once.
func (s *Session) Escalate(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return false
	}
	s.Status = StatusEscalated
	s.EscalationReason = reason
	return true
}

// SetCandidates replaces the candidate case list, keeping it sorted by
// confidence descending regardless of input order.
func (s *Session) SetCandidates(matches []CandidateMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]CandidateMatch, len(matches))
	copy(cp, matches)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Confidence > cp[j].Confidence })
	s.Candidates = cp
}

// CandidateList returns a defensive copy of the candidate case list.
func (s *Session) CandidateList() []CandidateMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CandidateMatch, len(s.Candidates))
	copy(out, s.Candidates)
	return out
}

// RecordFailure increments the failed-attempt counter for a stage and
// returns the new count.
func (s *Session) RecordFailure(stage Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailedAttempts == nil {
		s.FailedAttempts = map[Stage]int{}
	}
	s.FailedAttempts[stage]++
	return s.FailedAttempts[stage]
}

// FailureCount returns the failed-attempt counter for a stage.
func (s *Session) FailureCount(stage Stage) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FailedAttempts[stage]
}

// MarkQuestionAsked logs a disambiguating question so it is never repeated.
func (s *Session) MarkQuestionAsked(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AskedQuestions = append(s.AskedQuestions, q)
}

// HasAskedQuestion reports whether q was already asked in this session.
func (s *Session) HasAskedQuestion(q string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, asked := range s.AskedQuestions {
		if asked == q {
			return true
		}
	}
	return false
}

// QuestionsAsked returns how many disambiguating questions were asked.
func (s *Session) QuestionsAsked() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.AskedQuestions)
}

// ResetIssue clears classification and narrowing state when the user opens a
// new topic, keeping identity, turn counter and history intact.
func (s *Session) ResetIssue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentIssueType = ""
	s.Candidates = nil
	s.ResolvedCaseID = ""
	s.AskedQuestions = nil
	s.RAGUsed = false
	s.FailedAttempts = map[Stage]int{}
}

// ResetExpired restarts an idle-expired session in place: all conversation
// state is dropped and the session becomes active again under the same id.
func (s *Session) ResetExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now = now.UTC()
	s.CreatedAt = now
	s.LastActiveAt = now
	s.TurnCount = 0
	s.CurrentIssueType = ""
	s.Candidates = nil
	s.ResolvedCaseID = ""
	s.Status = StatusActive
	s.History = []Turn{}
	s.FailedAttempts = map[Stage]int{}
	s.AskedQuestions = nil
	s.EscalationReason = ""
	s.RAGUsed = false
	s.LastRequestID = ""
	s.LastResponse = ""
}

// Clone returns a deep copy safe for independent mutation. The engine runs
// each turn against a clone and commits it only at a terminal outcome.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:               s.ID,
		CreatedAt:        s.CreatedAt,
		LastActiveAt:     s.LastActiveAt,
		TurnCount:        s.TurnCount,
		CurrentIssueType: s.CurrentIssueType,
		ResolvedCaseID:   s.ResolvedCaseID,
		Status:           s.Status,
		EscalationReason: s.EscalationReason,
		RAGUsed:          s.RAGUsed,
		LastRequestID:    s.LastRequestID,
		LastResponse:     s.LastResponse,
		Version:          s.Version,
		Candidates:       make([]CandidateMatch, len(s.Candidates)),
		History:          make([]Turn, len(s.History)),
		FailedAttempts:   make(map[Stage]int, len(s.FailedAttempts)),
		AskedQuestions:   append([]string(nil), s.AskedQuestions...),
	}
	copy(clone.Candidates, s.Candidates)
	copy(clone.History, s.History)
	for k, v := range s.FailedAttempts {
		clone.FailedAttempts[k] = v
	}
	return clone
}

// Summary is an analytics snapshot of a session, written alongside turn
// records for the external analytics pipeline.
type Summary struct {
	SessionID        string  `json:"session_id"`
	TotalTurns       int     `json:"total_turns"`
	IssueClassified  bool    `json:"issue_classified"`
	CaseDetermined   bool    `json:"case_determined"`
	QuestionsAsked   int     `json:"questions_asked"`
	Escalated        bool    `json:"escalated"`
	EscalationReason string  `json:"escalation_reason,omitempty"`
	RAGUsed          bool    `json:"rag_used"`
	Status           Status  `json:"status"`
	DurationMinutes  float64 `json:"duration_minutes"`
}

// Summarize builds the analytics snapshot for the session.
func (s *Session) Summarize() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		SessionID:        s.ID,
		TotalTurns:       s.TurnCount,
		IssueClassified:  s.CurrentIssueType != "",
		CaseDetermined:   s.ResolvedCaseID != "",
		QuestionsAsked:   len(s.AskedQuestions),
		Escalated:        s.Status == StatusEscalated,
		EscalationReason: s.EscalationReason,
		RAGUsed:          s.RAGUsed,
		Status:           s.Status,
		DurationMinutes:  s.LastActiveAt.Sub(s.CreatedAt).Minutes(),
	}
}
