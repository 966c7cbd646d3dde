package sessionlog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livesignal/internal/models"
	"github.com/aura-webinar/livesignal/pkg/response"
)

// Lister reads viewer sessions.
type Lister interface {
	ListByStream(ctx context.Context, streamID string, limit int) ([]models.ViewerSession, error)
}

// Handler handles GET /admin/streams/:id/viewers.
type Handler struct {
	repo Lister
}

// NewHandler creates a session log handler.
func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// GetViewers lists viewer sessions with join time, leave time and watch duration.
func (h *Handler) GetViewers(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			response.Fail(c, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	list, err := h.repo.ListByStream(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, "failed to list viewers")
		return
	}
	if list == nil {
		list = []models.ViewerSession{}
	}
	response.OK(c, gin.H{"viewers": list})
}
