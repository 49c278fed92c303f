package worldstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a single SQLite file. It uses a
// write-ahead log and a background checkpoint loop, and is suitable for
// single-instance deployments that need views to survive restarts.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	insertStmt *sql.Stmt
	loadStmt   *sql.Stmt
	updateStmt *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the database file. Parent directories are
	// created as needed.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore opens a store at dbPath with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig opens a store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS player_views (
		experience TEXT NOT NULL,
		user_id TEXT NOT NULL,
		view TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (experience, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_player_views_updated ON player_views(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO player_views (experience, user_id, view, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (experience, user_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`
		SELECT view, version, created_at, updated_at
		FROM player_views
		WHERE experience = ? AND user_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.updateStmt, err = s.db.Prepare(`
		UPDATE player_views
		SET view = ?, version = version + 1, updated_at = ?
		WHERE experience = ? AND user_id = ? AND version = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update statement: %w", err)
	}

	return nil
}

// EnsurePlayerInitialized implements Store.
func (s *SQLiteStore) EnsurePlayerInitialized(ctx context.Context, experience, userID string) (*PlayerView, error) {
	if err := validateKey(experience, userID); err != nil {
		return nil, err
	}

	initial := NewPlayerView(experience, userID)
	data, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal player view: %w", err)
	}

	now := initial.CreatedAt.UnixMilli()
	if _, err := s.insertStmt.ExecContext(ctx, experience, userID, string(data), now, now); err != nil {
		return nil, fmt.Errorf("failed to initialize player view: %w", err)
	}

	return s.GetPlayerView(ctx, experience, userID)
}

// GetPlayerView implements Store.
func (s *SQLiteStore) GetPlayerView(ctx context.Context, experience, userID string) (*PlayerView, error) {
	if err := validateKey(experience, userID); err != nil {
		return nil, err
	}

	var (
		data      string
		version   int64
		createdAt int64
		updatedAt int64
	)
	err := s.loadStmt.QueryRowContext(ctx, experience, userID).Scan(&data, &version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load player view: %w", err)
	}

	view := &PlayerView{}
	if err := json.Unmarshal([]byte(data), view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player view: %w", err)
	}
	view.Experience = experience
	view.UserID = userID
	view.Version = version
	view.CreatedAt = time.UnixMilli(createdAt).UTC()
	view.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return view, nil
}

// UpdatePlayerView implements Store.
func (s *SQLiteStore) UpdatePlayerView(ctx context.Context, view *PlayerView) error {
	if err := validateKey(view.Experience, view.UserID); err != nil {
		return err
	}

	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal player view: %w", err)
	}

	now := time.Now().UTC()
	result, err := s.updateStmt.ExecContext(ctx, string(data), now.UnixMilli(), view.Experience, view.UserID, view.Version)
	if err != nil {
		return fmt.Errorf("failed to update player view: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetPlayerView(ctx, view.Experience, view.UserID); err != nil {
			return err
		}
		return ErrConflict
	}

	view.Version++
	view.UpdatedAt = now
	return nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database. It is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.insertStmt, s.loadStmt, s.updateStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}
