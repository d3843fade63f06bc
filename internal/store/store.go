package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists host-side project state and request bookkeeping.
type Store interface {
	SetSelection(ctx context.Context, ids []int) error
	GetSelection(ctx context.Context) ([]int, error)
	SetCurrTime(ctx context.Context, t int) error
	GetCurrTime(ctx context.Context) (int, error)
	IsHandled(ctx context.Context, sessionID, callbackID string) (bool, error)
	MarkHandled(ctx context.Context, sessionID, callbackID string, ttl time.Duration) error
	SetResponseStatus(ctx context.Context, sessionID, callbackID, status string, ttl time.Duration) error
}

type MemoryStore struct {
	mu        sync.RWMutex
	selection map[int]struct{}
	currTime  int
	handled   map[string]time.Time
	statuses  map[string]statusEntry
	lastPrune time.Time
}

var pruneInterval = time.Minute

type statusEntry struct {
	status   string
	expireAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		selection: make(map[int]struct{}),
		handled:   make(map[string]time.Time),
		statuses:  make(map[string]statusEntry),
	}
}

func (m *MemoryStore) SetSelection(_ context.Context, ids []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selection = make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m.selection[id] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) GetSelection(_ context.Context) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, 0, len(m.selection))
	for id := range m.selection {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *MemoryStore) SetCurrTime(_ context.Context, t int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currTime = t
	return nil
}

func (m *MemoryStore) GetCurrTime(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currTime, nil
}

func (m *MemoryStore) IsHandled(_ context.Context, sessionID, callbackID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	expireAt, ok := m.handled[handledKey(sessionID, callbackID)]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expireAt), nil
}

func (m *MemoryStore) MarkHandled(_ context.Context, sessionID, callbackID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.pruneLocked(now)
	m.handled[handledKey(sessionID, callbackID)] = now.Add(ttl)
	return nil
}

func (m *MemoryStore) SetResponseStatus(_ context.Context, sessionID, callbackID, status string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.pruneLocked(now)
	m.statuses[handledKey(sessionID, callbackID)] = statusEntry{status: status, expireAt: now.Add(ttl)}
	return nil
}

// pruneLocked drops expired bookkeeping. It scans at most once per
// pruneInterval so writes stay cheap.
func (m *MemoryStore) pruneLocked(now time.Time) {
	if now.Sub(m.lastPrune) < pruneInterval {
		return
	}
	m.lastPrune = now
	for k, expireAt := range m.handled {
		if !now.Before(expireAt) {
			delete(m.handled, k)
		}
	}
	for k, e := range m.statuses {
		if !now.Before(e.expireAt) {
			delete(m.statuses, k)
		}
	}
}

// Len returns the number of remembered request ids, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handled)
}

// ResponseStatus returns the last recorded status of a request.
func (m *MemoryStore) ResponseStatus(sessionID, callbackID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.statuses[handledKey(sessionID, callbackID)]
	if !ok || time.Now().After(e.expireAt) {
		return "", false
	}
	return e.status, true
}

// Callback ids are only unique within one page, so bookkeeping is scoped by
// session.
func handledKey(sessionID, callbackID string) string {
	return sessionID + ":" + callbackID
}
