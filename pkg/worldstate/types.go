package worldstate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
)

var (
	// ErrNotFound is returned when a player has no view yet.
	ErrNotFound = errors.New("player view not found")

	// ErrConflict is returned when a view changed since it was read.
	ErrConflict = errors.New("player view was modified concurrently")
)

// Quest statuses.
const (
	QuestNotStarted = "not_started"
	QuestInProgress = "in_progress"
	QuestComplete   = "complete"
)

// PlayerView is one player's state in one experience.
type PlayerView struct {
	Experience       string         `json:"experience"`
	UserID           string         `json:"user_id"`
	Inventory        []string       `json:"inventory"`
	CollectedBottles []string       `json:"collected_bottles"`
	Interactions     map[string]int `json:"interactions,omitempty"`
	QuestStatus      string         `json:"quest_status"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPlayerView returns the initial view for a player.
func NewPlayerView(experience, userID string) *PlayerView {
	now := time.Now().UTC()
	return &PlayerView{
		Experience:       experience,
		UserID:           userID,
		Inventory:        []string{},
		CollectedBottles: []string{},
		Interactions:     map[string]int{},
		QuestStatus:      QuestNotStarted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone returns a deep copy.
func (v *PlayerView) Clone() *PlayerView {
	c := *v
	c.Inventory = slices.Clone(v.Inventory)
	c.CollectedBottles = slices.Clone(v.CollectedBottles)
	if v.Interactions != nil {
		c.Interactions = make(map[string]int, len(v.Interactions))
		for k, n := range v.Interactions {
			c.Interactions[k] = n
		}
	}
	return &c
}

// HasItem reports whether itemID is in the inventory.
func (v *PlayerView) HasItem(itemID string) bool {
	return slices.Contains(v.Inventory, itemID)
}

// Store persists player views.
type Store interface {
	// EnsurePlayerInitialized creates the player's view if it does not
	// exist and returns the current view.
	EnsurePlayerInitialized(ctx context.Context, experience, userID string) (*PlayerView, error)

	// GetPlayerView returns ErrNotFound for unknown players.
	GetPlayerView(ctx context.Context, experience, userID string) (*PlayerView, error)

	// UpdatePlayerView writes view if its Version is current and bumps
	// Version on success. A stale view yields ErrConflict.
	UpdatePlayerView(ctx context.Context, view *PlayerView) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// maxModifyAttempts bounds the optimistic retry loop in Modify.
const maxModifyAttempts = 5

// Modify reads the player's view (creating it if needed), applies fn and
// writes it back, retrying when another writer got there first. fn may be
// called more than once and must not have side effects outside the view.
func Modify(ctx context.Context, s Store, experience, userID string, fn func(*PlayerView) error) (*PlayerView, error) {
	for attempt := 0; attempt < maxModifyAttempts; attempt++ {
		view, err := s.EnsurePlayerInitialized(ctx, experience, userID)
		if err != nil {
			return nil, err
		}
		if err := fn(view); err != nil {
			return nil, err
		}
		err = s.UpdatePlayerView(ctx, view)
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrConflict, maxModifyAttempts)
}

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		s, err := NewSQLiteStoreWithConfig(SQLiteStoreConfig{
			DBPath:      cfg.SQLitePath,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported worldstate backend %q", cfg.Backend)
	}
}

func validateKey(experience, userID string) error {
	if experience == "" {
		return fmt.Errorf("experience cannot be empty")
	}
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	return nil
}
