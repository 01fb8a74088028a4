package history

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps turns for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]*Turn
	byHash   map[string]*Turn
	maxTurns int
}

// NewMemoryStore returns an empty store. When maxTurns is positive each session
// keeps only its most recent maxTurns turns; zero keeps everything.
func NewMemoryStore(maxTurns int) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]*Turn),
		byHash:   make(map[string]*Turn),
		maxTurns: maxTurns,
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, session, prompt, reply, model string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.sessions[session]

	var head *Turn
	if len(turns) > 0 {
		head = turns[len(turns)-1]
	}

	turn := NewTurn(session, prompt, reply, model, head)
	s.sessions[session] = append(turns, turn)
	s.byHash[turn.Hash] = turn
	s.evict(session)

	return copyTurn(turn), nil
}

// SetMaxTurns changes the per-session limit. Sessions already over the new
// limit are trimmed immediately.
func (s *MemoryStore) SetMaxTurns(maxTurns int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxTurns = maxTurns
	for session := range s.sessions {
		s.evict(session)
	}
}

// evict drops the oldest turns of session beyond maxTurns. Callers hold mu.
func (s *MemoryStore) evict(session string) {
	turns := s.sessions[session]
	if s.maxTurns <= 0 || len(turns) <= s.maxTurns {
		return
	}

	evicted := len(turns) - s.maxTurns
	for _, old := range turns[:evicted] {
		delete(s.byHash, old.Hash)
	}
	s.sessions[session] = slices.Clone(turns[evicted:])
}

// Turns implements Store.
func (s *MemoryStore) Turns(_ context.Context, session string, limit int) ([]*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sessions[session]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]*Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, copyTurn(t))
	}
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, hash string) (*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}
	return copyTurn(t), nil
}

// Sessions implements Store.
func (s *MemoryStore) Sessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		sessions = append(sessions, name)
	}
	slices.Sort(sessions)
	return sessions, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func copyTurn(t *Turn) *Turn {
	c := *t
	if t.ParentHash != nil {
		parent := *t.ParentHash
		c.ParentHash = &parent
	}
	return &c
}
