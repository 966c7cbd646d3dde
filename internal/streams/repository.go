package streams

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livesignal/internal/models"
)

// Repository handles live_streams persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live streams repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns the stream record, or nil if it does not exist.
func (r *Repository) GetByID(ctx context.Context, streamID string) (*models.LiveStream, error) {
	const q = `SELECT id, owner_user_id, title, status, started_at, ended_at, peak_viewers, created_at, updated_at
		FROM live_streams WHERE id = $1`
	var s models.LiveStream
	err := r.pool.QueryRow(ctx, q, streamID).Scan(&s.ID, &s.OwnerUserID, &s.Title, &s.Status, &s.StartedAt, &s.EndedAt, &s.PeakViewers, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// OwnerOf returns the owner of a stream and whether the stream exists.
func (r *Repository) OwnerOf(ctx context.Context, streamID string) (ownerUserID string, exists bool, err error) {
	err = r.pool.QueryRow(ctx, `SELECT owner_user_id FROM live_streams WHERE id = $1`, streamID).Scan(&ownerUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return ownerUserID, true, nil
}

// SetLive marks a stream LIVE. A new session resets ended_at and peak_viewers.
func (r *Repository) SetLive(ctx context.Context, streamID string, startedAt time.Time) error {
	const q = `UPDATE live_streams
		SET status = 'LIVE', started_at = $2, ended_at = NULL,
		    peak_viewers = CASE WHEN status = 'LIVE' THEN peak_viewers ELSE 0 END,
		    updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, streamID, startedAt)
	return err
}

// SetEnded marks a stream ENDED at endedAt.
func (r *Repository) SetEnded(ctx context.Context, streamID string, endedAt time.Time) error {
	const q = `UPDATE live_streams SET status = 'ENDED', ended_at = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, streamID, endedAt)
	return err
}

// UpdatePeakViewers raises peak_viewers; a count at or below the stored value is a no-op.
func (r *Repository) UpdatePeakViewers(ctx context.Context, streamID string, peak int) error {
	const q = `UPDATE live_streams SET peak_viewers = $1, updated_at = NOW() WHERE id = $2 AND $1 > peak_viewers`
	_, err := r.pool.Exec(ctx, q, peak, streamID)
	return err
}
