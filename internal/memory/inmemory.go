package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is the default in-process history store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionHistory
	window   int
	idleTTL  time.Duration
}

type sessionHistory struct {
	mu        sync.Mutex
	exchanges []Exchange
	touchedAt time.Time
}

func NewInMemoryStore(window int, idleTTL time.Duration) *InMemoryStore {
	if window <= 0 {
		window = 3
	}
	return &InMemoryStore{
		sessions: make(map[string]*sessionHistory),
		window:   window,
		idleTTL:  idleTTL,
	}
}

// getOrCreate serializes per session without contending across sessions:
// the store lock only guards map membership.
func (s *InMemoryStore) getOrCreate(sessionID string) *sessionHistory {
	s.mu.RLock()
	h, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.sessions[sessionID]; ok {
		return h
	}
	h = &sessionHistory{touchedAt: time.Now()}
	s.sessions[sessionID] = h
	return h
}

func (s *InMemoryStore) History(_ context.Context, sessionID string) ([]Exchange, error) {
	h := s.getOrCreate(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.touchedAt = time.Now()
	out := make([]Exchange, len(h.exchanges))
	copy(out, h.exchanges)
	return out, nil
}

func (s *InMemoryStore) Append(_ context.Context, sessionID, userText, assistantText string) error {
	h := s.getOrCreate(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.touchedAt = time.Now()
	h.exchanges = append(h.exchanges, Exchange{
		User:      userText,
		Assistant: assistantText,
		CreatedAt: time.Now().UTC(),
	})
	if len(h.exchanges) > s.window {
		// FIFO eviction; copy forward so the evicted head can be collected.
		copy(h.exchanges, h.exchanges[len(h.exchanges)-s.window:])
		h.exchanges = h.exchanges[:s.window]
	}
	return nil
}

func (s *InMemoryStore) Reset(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// StartJanitor expires sessions idle longer than the configured TTL.
// With a zero TTL it does nothing, matching the "no expiry" default.
func (s *InMemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if s.idleTTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireIdle()
			}
		}
	}()
}

func (s *InMemoryStore) expireIdle() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.sessions {
		h.mu.Lock()
		idle := h.touchedAt.Before(cutoff)
		h.mu.Unlock()
		if idle {
			delete(s.sessions, id)
		}
	}
}

// SessionCount reports how many sessions are currently resident.
func (s *InMemoryStore) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
