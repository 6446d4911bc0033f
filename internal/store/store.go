// Package store persists session history, media records and admin API
// keys. Implementations must be safe for concurrent use.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface used by the server, the archive
// workers and the admin API.
type Store interface {
	// Session history.
	OpenSession(ctx context.Context, s *SessionRecord) error
	CloseSession(ctx context.Context, id string, at time.Time, wasController bool, reason string) error
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// Captured media.
	AddMedia(ctx context.Context, m *MediaRecord) error
	GetMedia(ctx context.Context, id string) (*MediaRecord, error)
	ListMedia(ctx context.Context, limit int) ([]*MediaRecord, error)
	ListUnarchived(ctx context.Context, limit int) ([]*MediaRecord, error)
	MarkArchived(ctx context.Context, id string, at time.Time) error

	// API keys.
	CreateAPIKey(ctx context.Context, key *APIKey) error
	VerifyAPIKey(ctx context.Context, keyHash string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error

	// Close releases database resources.
	Close() error
}

// SessionRecord is one TCP client connection.
type SessionRecord struct {
	ID             string     `json:"id"`
	Remote         string     `json:"remote"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	WasController  bool       `json:"was_controller"`
	CloseReason    string     `json:"close_reason,omitempty"`
}

// MediaRecord is an image or video written by the device storage.
type MediaRecord struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"` // "image" or "video"
	Filename   string     `json:"filename"`
	Path       string     `json:"path"`
	Size       int64      `json:"size"`
	Digest     string     `json:"digest"`
	CreatedAt  time.Time  `json:"created_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// APIKey grants access to the admin HTTP API.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"`
	Prefix    string     `json:"prefix"` // first 12 chars for identification
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}
