// Package persistence mirrors in-memory stream state into the durable store.
// The store is a derived view: failures here are logged and retried, never rolled back.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/aura-webinar/livesignal/internal/sessionlog"
	"github.com/aura-webinar/livesignal/internal/signaling"
	"github.com/aura-webinar/livesignal/internal/streams"
)

// Ownership is the answer to "who owns this stream".
type Ownership struct {
	OwnerUserID string
	Exists      bool
}

// Store is the durable collaborator. Implementations must be safe for concurrent use.
type Store interface {
	FindStreamOwnership(ctx context.Context, streamID string) (Ownership, error)
	SetStreamStatus(ctx context.Context, streamID, status string, at time.Time) error
	RecordViewerSession(ctx context.Context, streamID, userID, connectionID string, joinedAt time.Time) error
	CloseViewerSession(ctx context.Context, streamID, connectionID string, leftAt time.Time) error
	BumpPeakViewers(ctx context.Context, streamID string, count int) error
}

// PostgresStore implements Store over the live_streams and viewer_sessions repositories.
type PostgresStore struct {
	streams  *streams.Repository
	sessions *sessionlog.Repository
}

// NewPostgresStore creates a Store backed by PostgreSQL.
func NewPostgresStore(streamRepo *streams.Repository, sessionRepo *sessionlog.Repository) *PostgresStore {
	return &PostgresStore{streams: streamRepo, sessions: sessionRepo}
}

func (s *PostgresStore) FindStreamOwnership(ctx context.Context, streamID string) (Ownership, error) {
	owner, exists, err := s.streams.OwnerOf(ctx, streamID)
	if err != nil {
		return Ownership{}, fmt.Errorf("find stream owner: %w", err)
	}
	return Ownership{OwnerUserID: owner, Exists: exists}, nil
}

func (s *PostgresStore) SetStreamStatus(ctx context.Context, streamID, status string, at time.Time) error {
	switch signaling.Status(status) {
	case signaling.StatusLive:
		return s.streams.SetLive(ctx, streamID, at)
	case signaling.StatusEnded:
		return s.streams.SetEnded(ctx, streamID, at)
	default:
		return fmt.Errorf("unsupported stream status %q", status)
	}
}

func (s *PostgresStore) RecordViewerSession(ctx context.Context, streamID, userID, connectionID string, joinedAt time.Time) error {
	return s.sessions.LogJoin(ctx, streamID, userID, connectionID, joinedAt)
}

func (s *PostgresStore) CloseViewerSession(ctx context.Context, streamID, connectionID string, leftAt time.Time) error {
	return s.sessions.LogLeave(ctx, streamID, connectionID, leftAt)
}

func (s *PostgresStore) BumpPeakViewers(ctx context.Context, streamID string, count int) error {
	return s.streams.UpdatePeakViewers(ctx, streamID, count)
}
