package session

import (
	"sort"
	"sync"
)

// State is the in-process copy of one session's key-value map plus its
// listeners. Store implementations embed it and add persistence.
type State struct {
	mu        sync.RWMutex
	id        string
	values    map[string][]byte
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// NewState creates an empty state for sessionID.
func NewState(sessionID string) *State {
	return &State{
		id:        sessionID,
		values:    make(map[string][]byte),
		listeners: make(map[int]Listener),
	}
}

// SessionID returns the session identifier.
func (s *State) SessionID() string {
	return s.id
}

// Replace swaps in a freshly loaded map without notifying listeners.
func (s *State) Replace(values map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string][]byte, len(values))
	for k, v := range values {
		s.values[k] = cloneBytes(v)
	}
}

// Lookup returns a copy of the value under key.
func (s *State) Lookup(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return cloneBytes(v), true
}

// Snapshot returns a copy of every key and value.
func (s *State) Snapshot() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.values))
	for k, v := range s.values {
		out[k] = cloneBytes(v)
	}
	return out
}

// Keys returns the keys in sorted order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply records c locally and notifies listeners. Deleting a missing key
// is a no-op and notifies nobody.
func (s *State) Apply(c Change) {
	s.mu.Lock()
	if c.Deleted {
		if _, ok := s.values[c.Key]; !ok {
			s.mu.Unlock()
			return
		}
		delete(s.values, c.Key)
	} else {
		s.values[c.Key] = cloneBytes(c.Value)
	}
	listeners := make([]Listener, 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	c.SessionID = s.id
	for _, l := range listeners {
		l(c)
	}
}

// Subscribe registers l. Listeners run in subscription order.
func (s *State) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

// MarkClosed flags the state closed and drops listeners. It reports
// false when the state was already closed.
func (s *State) MarkClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.listeners = make(map[int]Listener)
	return true
}

// Closed reports whether MarkClosed was called.
func (s *State) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
