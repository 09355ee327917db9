package testutil

import (
	"time"

	"github.com/voclabs/supportflow/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Issue("account").Turns(3).Build()
type SessionBuilder struct {
	id         string
	issue      string
	resolved   string
	status     core.Status
	turns      int
	lastActive time.Time
	candidates []core.CandidateMatch
	asked      []string
	history    []core.Turn
}

// NewSessionBuilder creates a new builder for a session with the given id.
// Chain the parts you need, then call Build.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, status: core.StatusActive, lastActive: time.Now().UTC()}
}

// Issue sets the classified issue type (chainable).
func (b *SessionBuilder) Issue(issueType string) *SessionBuilder {
	b.issue = issueType
	return b
}

// Resolved sets the resolved case id (chainable).
func (b *SessionBuilder) Resolved(caseID string) *SessionBuilder {
	b.resolved = caseID
	return b
}

// Status overrides the session status (chainable).
func (b *SessionBuilder) Status(st core.Status) *SessionBuilder {
	b.status = st
	return b
}

// Turns sets the accepted-turn counter (chainable).
func (b *SessionBuilder) Turns(n int) *SessionBuilder {
	b.turns = n
	return b
}

// LastActive sets the last-active timestamp, useful for idle-timeout tests (chainable).
func (b *SessionBuilder) LastActive(t time.Time) *SessionBuilder {
	b.lastActive = t
	return b
}

// Candidates sets the narrowing candidate list (chainable).
func (b *SessionBuilder) Candidates(matches ...core.CandidateMatch) *SessionBuilder {
	b.candidates = matches
	return b
}

// Asked records disambiguating questions already asked (chainable).
func (b *SessionBuilder) Asked(questions ...string) *SessionBuilder {
	b.asked = questions
	return b
}

// History appends turns to the session history (chainable).
func (b *SessionBuilder) History(turns ...core.Turn) *SessionBuilder {
	b.history = append(b.history, turns...)
	return b
}

// Build returns a *core.Session with the configured state.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	s.CurrentIssueType = b.issue
	s.ResolvedCaseID = b.resolved
	s.Status = b.status
	s.TurnCount = b.turns
	s.LastActiveAt = b.lastActive
	s.History = append(s.History, b.history...)
	s.SetCandidates(b.candidates)
	for _, q := range b.asked {
		s.MarkQuestionAsked(q)
	}
	return s
}
