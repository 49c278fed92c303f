package worldstate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps views in process memory. All data is lost when the
// process exits.
type MemoryStore struct {
	mu    sync.RWMutex
	views map[string]*PlayerView
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{views: make(map[string]*PlayerView)}
}

func (m *MemoryStore) makeKey(experience, userID string) string {
	return experience + ":" + userID
}

// EnsurePlayerInitialized implements Store.
func (m *MemoryStore) EnsurePlayerInitialized(ctx context.Context, experience, userID string) (*PlayerView, error) {
	if err := validateKey(experience, userID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.makeKey(experience, userID)
	view, ok := m.views[key]
	if !ok {
		view = NewPlayerView(experience, userID)
		m.views[key] = view
	}
	return view.Clone(), nil
}

// GetPlayerView implements Store.
func (m *MemoryStore) GetPlayerView(ctx context.Context, experience, userID string) (*PlayerView, error) {
	if err := validateKey(experience, userID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	view, ok := m.views[m.makeKey(experience, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	return view.Clone(), nil
}

// UpdatePlayerView implements Store.
func (m *MemoryStore) UpdatePlayerView(ctx context.Context, view *PlayerView) error {
	if err := validateKey(view.Experience, view.UserID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.makeKey(view.Experience, view.UserID)
	current, ok := m.views[key]
	if !ok {
		return ErrNotFound
	}
	if current.Version != view.Version {
		return ErrConflict
	}

	view.Version++
	view.UpdatedAt = time.Now().UTC()
	m.views[key] = view.Clone()
	return nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// Size returns the number of stored views.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.views)
}
