// Package store keeps OAuth sessions server side so the browser only ever holds
// an opaque session id.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"playdeck/internal/core"
)

// ErrSessionNotFound is returned for unknown and expired sessions.
var ErrSessionNotFound = errors.New("session not found")

type Session struct {
	ID        string        `json:"id"`
	Token     *oauth2.Token `json:"token"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Expired reports whether the session itself (not its access token) has lapsed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
	// PurgeExpired drops sessions that expired before now and reports how many.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	Size(ctx context.Context) (int, error)
	Close() error
}

// Open builds the session store selected by cfg.Backend.
func Open(cfg *core.SessionConfig) (SessionStore, error) {
	switch cfg.Backend {
	case "", core.SessionBackendMemory:
		return NewMemoryStore(cfg.Capacity, 0.001), nil
	case core.SessionBackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case core.SessionBackendRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
