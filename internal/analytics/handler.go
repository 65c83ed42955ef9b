package analytics

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/response"
)

// Reporter computes event summaries.
type Reporter interface {
	EventSummary(ctx context.Context, eventID uuid.UUID) (*Summary, error)
}

// EventGetter loads events.
type EventGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Handler handles GET /admin/events/:id/analytics.
type Handler struct {
	reports Reporter
	events  EventGetter
	logger  *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(reports Reporter, events EventGetter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reports: reports, events: events, logger: logger}
}

// EventResponse pairs the event with its figures.
type EventResponse struct {
	EventID             uuid.UUID `json:"event_id"`
	Title               string    `json:"title"`
	MaxParticipants     *int      `json:"max_participants,omitempty"`
	CurrentParticipants int       `json:"current_participants"`
	Summary
}

// GetByEvent handles GET /admin/events/:id/analytics.
func (h *Handler) GetByEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "Invalid event ID")
		return
	}
	ctx := c.Request.Context()
	event, err := h.events.GetByID(ctx, id)
	if err != nil {
		response.Error(c, h.logger, store.Translate(err, "Event not found"))
		return
	}
	summary, err := h.reports.EventSummary(ctx, id)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Event analytics retrieved successfully", EventResponse{
		EventID:             event.ID,
		Title:               event.Title,
		MaxParticipants:     event.MaxParticipants,
		CurrentParticipants: event.CurrentParticipants,
		Summary:             *summary,
	})
}
