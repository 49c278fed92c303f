package worldstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS player_views (
	experience TEXT NOT NULL,
	user_id TEXT NOT NULL,
	view JSONB NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (experience, user_id)
)`

// PostgresStore implements Store on the shared Gaia database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsurePlayerInitialized implements Store.
func (s *PostgresStore) EnsurePlayerInitialized(ctx context.Context, experience, userID string) (*PlayerView, error) {
	if err := validateKey(experience, userID); err != nil {
		return nil, err
	}

	data, err := json.Marshal(NewPlayerView(experience, userID))
	if err != nil {
		return nil, fmt.Errorf("marshal player view: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO player_views (experience, user_id, view)
		VALUES ($1, $2, $3)
		ON CONFLICT (experience, user_id) DO NOTHING`,
		experience, userID, data,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize player view: %w", err)
	}

	return s.GetPlayerView(ctx, experience, userID)
}

// GetPlayerView implements Store.
func (s *PostgresStore) GetPlayerView(ctx context.Context, experience, userID string) (*PlayerView, error) {
	if err := validateKey(experience, userID); err != nil {
		return nil, err
	}

	var (
		data      []byte
		version   int64
		createdAt time.Time
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT view, version, created_at, updated_at
		FROM player_views
		WHERE experience = $1 AND user_id = $2`,
		experience, userID,
	).Scan(&data, &version, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load player view: %w", err)
	}

	view := &PlayerView{}
	if err := json.Unmarshal(data, view); err != nil {
		return nil, fmt.Errorf("unmarshal player view: %w", err)
	}
	view.Experience = experience
	view.UserID = userID
	view.Version = version
	view.CreatedAt = createdAt.UTC()
	view.UpdatedAt = updatedAt.UTC()
	return view, nil
}

// UpdatePlayerView implements Store.
func (s *PostgresStore) UpdatePlayerView(ctx context.Context, view *PlayerView) error {
	if err := validateKey(view.Experience, view.UserID); err != nil {
		return err
	}

	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal player view: %w", err)
	}

	var updatedAt time.Time
	err = s.pool.QueryRow(ctx, `
		UPDATE player_views
		SET view = $1, version = version + 1, updated_at = now()
		WHERE experience = $2 AND user_id = $3 AND version = $4
		RETURNING updated_at`,
		data, view.Experience, view.UserID, view.Version,
	).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.GetPlayerView(ctx, view.Experience, view.UserID); err != nil {
			return err
		}
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update player view: %w", err)
	}

	view.Version++
	view.UpdatedAt = updatedAt.UTC()
	return nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
