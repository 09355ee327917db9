package session

import (
	"context"
	"sync"

	"github.com/voclabs/supportflow/core"
)

// InMemoryStore is a volatile SessionStore implementation storing sessions in
// a process local map. It is safe for concurrent access and suited for tests,
// demos and single-process deployments. Each loaded session is cloned to
// prevent external mutation of internal state; Save enforces optimistic
// versioning so a stale snapshot never overwrites a newer commit.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*core.Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Load returns a deep snapshot of the session, creating a fresh active
// session lazily when the id is unseen.
func (s *InMemoryStore) Load(ctx context.Context, sessionID string) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess.Clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[sessionID]; ok {
		return sess.Clone(), nil
	}
	sess = core.NewSession(sessionID)
	s.sessions[sessionID] = sess
	return sess.Clone(), nil
}

// Save commits a session snapshot. The snapshot's version must match the
// stored version or core.ErrVersionConflict is returned; on success the
// stored copy's version advances by one.
func (s *InMemoryStore) Save(ctx context.Context, sess *core.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[sess.ID]; ok && current.Version != sess.Version {
		return core.ErrVersionConflict
	}
	committed := sess.Clone()
	committed.Version++
	s.sessions[sess.ID] = committed
	sess.Version = committed.Version
	return nil
}

// Lock serializes pipeline runs for one session id. Locks are allocated
// lazily and never reclaimed; the per-id footprint is a single mutex.
func (s *InMemoryStore) Lock(sessionID string) (release func()) {
	s.lockMu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	s.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}
