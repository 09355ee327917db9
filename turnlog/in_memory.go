package turnlog

import (
	"context"
	"sync"

	"github.com/voclabs/supportflow/core"
)

// InMemoryLog is a process-local TurnLog for tests and demos.
type InMemoryLog struct {
	mu      sync.RWMutex
	records []core.TurnRecord
}

var _ core.TurnLog = (*InMemoryLog)(nil)

// NewInMemoryLog constructs an empty in-memory turn log.
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{}
}

// Append implements core.TurnLog.
func (l *InMemoryLog) Append(ctx context.Context, rec core.TurnRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

// Records returns a copy of all appended records, oldest first.
func (l *InMemoryLog) Records() []core.TurnRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.TurnRecord, len(l.records))
	copy(out, l.records)
	return out
}

// BySession returns the records for one session id, oldest first.
func (l *InMemoryLog) BySession(sessionID string) []core.TurnRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []core.TurnRecord
	for _, r := range l.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}
