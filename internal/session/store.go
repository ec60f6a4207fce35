// Package session keeps per-conversation history with token-budgeted
// retrieval: recent turns come back in full, older ones are compressed or
// dropped, so a long-lived session never floods a prompt.
package session

import (
	"sync"
	"time"
)

// DefaultTokenBudget is the retrieval budget used when the caller passes 0.
const DefaultTokenBudget = 2500

// Turn is one query/response exchange in a session.
type Turn struct {
	Query      string    `json:"query"`
	BrainUsed  string    `json:"brain_used"`
	Response   string    `json:"response"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// EstimatedTokens approximates the turn's prompt cost at four characters
// per token.
func (t Turn) EstimatedTokens() int {
	return (len(t.Query) + len(t.Response)) / 4
}

// Store is the session history contract. Appends for a given session id are
// expected to be serialized by the caller.
type Store interface {
	// Append records a turn, creating the session lazily on first use.
	Append(sessionID string, turn Turn) error

	// History returns the most recent turns, oldest first, whose cumulative
	// estimated token cost fits within the budget. Turns are never split:
	// a turn that would exceed the budget is omitted entirely.
	History(sessionID string, tokenBudget int) ([]Turn, error)
}

// session holds one conversation's stored turns.
type session struct {
	id        string
	createdAt time.Time
	turns     []Turn
}

// MemoryStore is the in-process Store. Sessions live for the process
// lifetime unless trimmed.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*session)}
}

// Append records a turn, creating the session lazily.
func (s *MemoryStore) Append(sessionID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{id: sessionID, createdAt: time.Now()}
		s.sessions[sessionID] = sess
	}
	sess.turns = append(sess.turns, turn)
	return nil
}

// History returns budget-bounded history, oldest first.
func (s *MemoryStore) History(sessionID string, tokenBudget int) ([]Turn, error) {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return selectWithinBudget(sess.turns, tokenBudget), nil
}

// Trim is the one sanctioned mutation besides append: it drops all but the
// newest max turns of a session.
func (s *MemoryStore) Trim(sessionID string, max int) {
	if max < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || len(sess.turns) <= max {
		return
	}
	kept := make([]Turn, max)
	copy(kept, sess.turns[len(sess.turns)-max:])
	sess.turns = kept
}

// Len returns the stored turn count for a session.
func (s *MemoryStore) Len(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return len(sess.turns)
	}
	return 0
}

// selectWithinBudget walks turns newest to oldest, accumulating estimated
// token cost, and keeps whole turns until the budget would be exceeded.
// The result is returned in chronological order.
func selectWithinBudget(turns []Turn, budget int) []Turn {
	spent := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := turns[i].EstimatedTokens()
		if spent+cost > budget {
			break
		}
		spent += cost
		start = i
	}

	if start == len(turns) {
		return nil
	}
	out := make([]Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}
