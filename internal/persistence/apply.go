package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aura-webinar/livesignal/pkg/queue"
)

// Apply writes one projection job to the store.
func Apply(ctx context.Context, store Store, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeStreamStatus:
		var p queue.StreamStatusPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return store.SetStreamStatus(ctx, p.StreamID, p.Status, p.At)
	case queue.JobTypeViewerJoin:
		var p queue.ViewerJoinPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return store.RecordViewerSession(ctx, p.StreamID, p.UserID, p.ConnectionID, p.JoinedAt)
	case queue.JobTypeViewerLeave:
		var p queue.ViewerLeavePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return store.CloseViewerSession(ctx, p.StreamID, p.ConnectionID, p.LeftAt)
	case queue.JobTypePeakViewers:
		var p queue.PeakViewersPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return store.BumpPeakViewers(ctx, p.StreamID, p.Count)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}
