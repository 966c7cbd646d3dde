package models

import (
	"time"
)

// LiveStream is the durable record of a stream: who owns it and how its last session went.
type LiveStream struct {
	ID          string     `json:"id"`
	OwnerUserID string     `json:"owner_user_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	PeakViewers int        `json:"peak_viewers"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
