package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewerSession tracks one viewer connection's join/leave and watch duration.
type ViewerSession struct {
	ID           uuid.UUID  `json:"id"`
	StreamID     string     `json:"stream_id"`
	UserID       string     `json:"user_id"`
	ConnectionID string     `json:"connection_id"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}
