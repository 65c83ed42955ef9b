package emaillogs

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/pkg/response"
	"github.com/oriyet/backend/pkg/validator"
)

// Resender rebuilds and queues an email for a registration.
type Resender interface {
	Resend(ctx context.Context, eventID, registrationID uuid.UUID, emailType string) (*models.EmailLog, error)
}

// Handler handles email log HTTP endpoints.
type Handler struct {
	logs     Store
	resender Resender
	logger   *zap.Logger
}

// NewHandler creates an email logs handler.
func NewHandler(logs Store, resender Resender, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logs: logs, resender: resender, logger: logger}
}

// ListByEvent handles GET /admin/events/:id/emails.
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "Invalid event ID")
		return
	}
	logs, err := h.logs.ListByEvent(c.Request.Context(), eventID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Email logs retrieved successfully", logs)
}

// ResendRequest is the body for POST /admin/events/:id/emails/resend.
type ResendRequest struct {
	RegistrationID string `json:"registration_id" binding:"required,uuid"`
	EmailType      string `json:"email_type" binding:"omitempty,oneof=registration_confirmation event_access_link payment_success certificate_issued"`
}

// Resend handles POST /admin/events/:id/emails/resend. The email type defaults
// to the registration confirmation.
func (h *Handler) Resend(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "Invalid event ID")
		return
	}
	var req ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, validator.Message(err))
		return
	}
	if req.EmailType == "" {
		req.EmailType = models.EmailTypeRegistrationConfirmation
	}
	regID, _ := uuid.Parse(req.RegistrationID)
	el, err := h.resender.Resend(c.Request.Context(), eventID, regID, req.EmailType)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Email queued for resend", el)
}
