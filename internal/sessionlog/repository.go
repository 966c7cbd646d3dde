package sessionlog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livesignal/internal/models"
)

// Repository handles viewer_sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a viewer session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a viewer connection joins a stream.
func (r *Repository) LogJoin(ctx context.Context, streamID, userID, connectionID string, joinedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO viewer_sessions (stream_id, user_id, connection_id, joined_at) VALUES ($1, $2, $3, $4)`,
		streamID, userID, connectionID, joinedAt)
	return err
}

// LogLeave closes the most recent open session for this connection in this stream.
func (r *Repository) LogLeave(ctx context.Context, streamID, connectionID string, leftAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE viewer_sessions v SET left_at = $3, watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - v.joined_at))::BIGINT)
		 FROM (SELECT id FROM viewer_sessions WHERE stream_id = $1 AND connection_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE v.id = sub.id`,
		streamID, connectionID, leftAt)
	return err
}

// ListByStream returns viewer sessions for a stream, newest first.
func (r *Repository) ListByStream(ctx context.Context, streamID string, limit int) ([]models.ViewerSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, stream_id, user_id, connection_id, joined_at, left_at, watch_seconds
		 FROM viewer_sessions WHERE stream_id = $1 ORDER BY joined_at DESC LIMIT $2`,
		streamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ViewerSession
	for rows.Next() {
		var v models.ViewerSession
		if err := rows.Scan(&v.ID, &v.StreamID, &v.UserID, &v.ConnectionID, &v.JoinedAt, &v.LeftAt, &v.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}
