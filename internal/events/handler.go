package events

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/pkg/response"
	"github.com/oriyet/backend/pkg/validator"
)

// CreateRequest is the body for POST /admin/events.
type CreateRequest struct {
	Title                string           `json:"title" binding:"required,notblank,max=255"`
	Slug                 string           `json:"slug" binding:"max=255"`
	Description          string           `json:"description"`
	Mode                 string           `json:"event_mode" binding:"omitempty,oneof=online offline hybrid"`
	StartDate            time.Time        `json:"start_date" binding:"required"`
	EndDate              time.Time        `json:"end_date" binding:"required"`
	RegistrationDeadline *time.Time       `json:"registration_deadline"`
	MaxParticipants      *int             `json:"max_participants"`
	Price                *decimal.Decimal `json:"price"`
	Currency             string           `json:"currency" binding:"omitempty,len=3"`
	OnlineLink           string           `json:"online_link" binding:"omitempty,url"`
	OnlinePlatform       string           `json:"online_platform"`
	Venue                string           `json:"venue"`
	HasCertificate       bool             `json:"has_certificate"`
}

// Handler handles event HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Get handles GET /events/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "Invalid event id")
		return
	}
	e, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Event retrieved successfully", e)
}

// Create handles POST /admin/events.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, validator.Message(err))
		return
	}
	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	}
	e, err := h.svc.Create(c.Request.Context(), CreateInput{
		Title:                req.Title,
		Slug:                 req.Slug,
		Description:          req.Description,
		Mode:                 models.EventMode(req.Mode),
		StartsAt:             req.StartDate,
		EndsAt:               req.EndDate,
		RegistrationDeadline: req.RegistrationDeadline,
		MaxParticipants:      req.MaxParticipants,
		Price:                price,
		Currency:             req.Currency,
		OnlineLink:           req.OnlineLink,
		OnlinePlatform:       req.OnlinePlatform,
		Venue:                req.Venue,
		HasCertificate:       req.HasCertificate,
	})
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, "Event created successfully", e)
}

// RefreshStatuses handles POST /admin/events/refresh-status.
func (h *Handler) RefreshStatuses(c *gin.Context) {
	n, err := h.svc.RefreshStatuses(c.Request.Context())
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Event statuses refreshed", gin.H{"updated": n})
}
