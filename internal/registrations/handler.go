package registrations

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/middleware"
	"github.com/oriyet/backend/pkg/response"
)

// Handler handles registration HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a registrations handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func eventID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "Invalid event ID")
		return uuid.Nil, false
	}
	return id, true
}

// Register handles POST /events/:id/register for free events.
func (h *Handler) Register(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	reg, err := h.svc.RegisterFree(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, "Successfully registered for the event", reg)
}

// Cancel handles DELETE /events/:id/register.
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	reg, err := h.svc.Cancel(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Registration cancelled successfully", reg)
}

// Status handles GET /events/:id/registration-status.
func (h *Handler) Status(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	st, err := h.svc.CheckStatus(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Registration status retrieved successfully", st)
}

// ListMine handles GET /registrations/me.
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.svc.ListMine(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Registrations retrieved successfully", list)
}
