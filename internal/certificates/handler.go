package certificates

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/middleware"
	"github.com/oriyet/backend/pkg/response"
	"github.com/oriyet/backend/pkg/validator"
)

// GenerateRequest is the body for POST /certificates/generate.
type GenerateRequest struct {
	RegistrationID string `json:"registration_id" binding:"required,uuid"`
}

// Handler handles certificate HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a certificates handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Generate handles POST /certificates/generate.
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, validator.Message(err))
		return
	}
	regID, _ := uuid.Parse(req.RegistrationID)
	out, err := h.svc.Issue(c.Request.Context(), regID, middleware.UserID(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	if out.AlreadyExisted {
		response.OK(c, "Certificate already exists", out)
		return
	}
	response.Created(c, "Certificate generated successfully", out)
}

// Verify handles GET /certificates/verify/:id. It is public.
func (h *Handler) Verify(c *gin.Context) {
	out, err := h.svc.Verify(c.Request.Context(), c.Param("id"), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Certificate verified successfully", out)
}

// Download handles GET /certificates/:id/download.
func (h *Handler) Download(c *gin.Context) {
	link, err := h.svc.Download(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Download link generated", gin.H{"download_url": link})
}

// ListMine handles GET /certificates/me.
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.svc.ListMine(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Certificates retrieved successfully", list)
}
