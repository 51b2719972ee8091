package memory

import (
	"context"
	"sync"

	"github.com/classpulse/classpulse/internal/domain/session"
	"github.com/classpulse/classpulse/internal/domain/shared"
)

// SessionStore keeps sessions in a process-wide map. Every open copy of a
// session sees changes made through any other copy, which mirrors what the
// Redis store does across processes.
type SessionStore struct {
	mu       sync.Mutex
	data     map[string]map[string][]byte
	sessions map[string]map[*memorySession]struct{}
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		data:     make(map[string]map[string][]byte),
		sessions: make(map[string]map[*memorySession]struct{}),
	}
}

// Open returns a loaded session repository.
func (s *SessionStore) Open(ctx context.Context, sessionID string) (session.Repository, error) {
	if sessionID == "" {
		return nil, shared.NewDomainError("session", "Open", shared.ErrInvalidID, "session ID is required")
	}
	repo := &memorySession{State: session.NewState(sessionID), store: s}
	if err := repo.Load(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.sessions[sessionID] == nil {
		s.sessions[sessionID] = make(map[*memorySession]struct{})
	}
	s.sessions[sessionID][repo] = struct{}{}
	s.mu.Unlock()
	return repo, nil
}

// write persists c and returns the other open copies to notify.
func (s *SessionStore) write(origin *memorySession, c session.Change) []*memorySession {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.data[c.SessionID]
	if values == nil {
		values = make(map[string][]byte)
		s.data[c.SessionID] = values
	}
	if c.Deleted {
		delete(values, c.Key)
	} else {
		values[c.Key] = append([]byte(nil), c.Value...)
	}

	var peers []*memorySession
	for p := range s.sessions[c.SessionID] {
		if p != origin {
			peers = append(peers, p)
		}
	}
	return peers
}

func (s *SessionStore) load(sessionID string) map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.data[sessionID]))
	for k, v := range s.data[sessionID] {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func (s *SessionStore) replace(sessionID string, values map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = values
}

func (s *SessionStore) detach(repo *memorySession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[repo.SessionID()], repo)
	if len(s.sessions[repo.SessionID()]) == 0 {
		delete(s.sessions, repo.SessionID())
	}
}

type memorySession struct {
	*session.State
	store *SessionStore
}

func (m *memorySession) Load(ctx context.Context) error {
	if m.Closed() {
		return shared.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Replace(m.store.load(m.SessionID()))
	return nil
}

func (m *memorySession) Get(_ context.Context, key string) ([]byte, error) {
	if m.Closed() {
		return nil, shared.ErrSessionClosed
	}
	v, ok := m.Lookup(key)
	if !ok {
		return nil, shared.ErrSessionKeyNotFound
	}
	return v, nil
}

func (m *memorySession) Set(ctx context.Context, key string, value []byte) error {
	return m.write(ctx, session.Change{SessionID: m.SessionID(), Key: key, Value: value})
}

func (m *memorySession) Delete(ctx context.Context, key string) error {
	return m.write(ctx, session.Change{SessionID: m.SessionID(), Key: key, Deleted: true})
}

func (m *memorySession) write(ctx context.Context, c session.Change) error {
	if m.Closed() {
		return shared.ErrSessionClosed
	}
	if c.Key == "" {
		return shared.NewDomainError("session", "Set", shared.ErrEmptyValue, "session key is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	peers := m.store.write(m, c)
	m.Apply(c)
	for _, p := range peers {
		if !p.Closed() {
			p.Apply(c)
		}
	}
	return nil
}

func (m *memorySession) Flush(ctx context.Context) error {
	if m.Closed() {
		return shared.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.store.replace(m.SessionID(), m.Snapshot())
	return nil
}

func (m *memorySession) Close() error {
	if m.MarkClosed() {
		m.store.detach(m)
	}
	return nil
}
