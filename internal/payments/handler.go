package payments

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/gateway"
	"github.com/oriyet/backend/internal/middleware"
	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/pkg/apperr"
	"github.com/oriyet/backend/pkg/response"
	"github.com/oriyet/backend/pkg/validator"
)

const maxWebhookBody = 1 << 20

// InitiateRequest is the body for POST /payments/initiate.
type InitiateRequest struct {
	EventID string           `json:"event_id" binding:"required,uuid"`
	Amount  *decimal.Decimal `json:"amount"`
}

// VerifyRequest is the body for POST /payments/verify.
type VerifyRequest struct {
	InvoiceID string `json:"invoice_id"`
}

// CancelRequest is the body for POST /payments/cancel.
type CancelRequest struct {
	TransactionID string `json:"transaction_id" binding:"required,notblank"`
}

// RefundRequest is the body for POST /payments/admin/refund.
type RefundRequest struct {
	TransactionID string `json:"transaction_id" binding:"required,notblank"`
	Reason        string `json:"reason" binding:"required,trimmed_min=10"`
}

// Handler handles payment HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Initiate handles POST /payments/initiate.
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, validator.Message(err))
		return
	}
	eventID, _ := uuid.Parse(req.EventID)
	out, err := h.svc.Initiate(c.Request.Context(), InitiateInput{
		EventID:   eventID,
		UserID:    middleware.UserID(c),
		Amount:    req.Amount,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Payment initiated successfully", out)
}

// Verify handles POST /payments/verify. The invoice id may also arrive as a
// query parameter from the gateway redirect.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, validator.Message(err))
			return
		}
	}
	if req.InvoiceID == "" {
		req.InvoiceID = c.Query("invoice_id")
	}
	userID := middleware.UserID(c)
	res, err := h.svc.Verify(c.Request.Context(), req.InvoiceID, &userID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	if !res.Success {
		response.Fail(c, http.StatusOK, res.Message, res)
		return
	}
	response.OK(c, res.Message, res)
}

// Webhook handles POST /payments/webhook. It always answers 200 so the
// gateway does not retry; the outcome is carried in the envelope.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Fail(c, http.StatusOK, "Invalid webhook payload", nil)
		return
	}
	res, err := h.svc.HandleWebhook(c.Request.Context(), body, c.GetHeader(gateway.APIKeyHeader), c.ClientIP())
	if err != nil {
		msg := "Webhook processing failed"
		if ae, ok := apperr.From(err); ok && ae.Kind != apperr.KindInternal && ae.Kind != apperr.KindConfiguration {
			msg = ae.Message
		} else {
			h.logger.Error("webhook processing failed", zap.Error(err))
		}
		response.Fail(c, http.StatusOK, msg, nil)
		return
	}
	response.OK(c, res.Message, res)
}

// Cancel handles POST /payments/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, validator.Message(err))
		return
	}
	txn, err := h.svc.Cancel(c.Request.Context(), req.TransactionID, middleware.UserID(c), middleware.IsAdmin(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Payment cancelled successfully", txn)
}

// GetTransaction handles GET /payments/transaction/:id.
func (h *Handler) GetTransaction(c *gin.Context) {
	txn, err := h.svc.GetTransaction(c.Request.Context(), c.Param("id"), middleware.UserID(c), middleware.IsAdmin(c))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Transaction retrieved successfully", txn)
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	return page, limit
}

// ListMine handles GET /payments/my-payments.
func (h *Handler) ListMine(c *gin.Context) {
	page, limit := pagination(c)
	out, err := h.svc.ListMine(c.Request.Context(), middleware.UserID(c), page, limit)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Payments retrieved successfully", out)
}

// ListAll handles GET /payments/admin/all.
func (h *Handler) ListAll(c *gin.Context) {
	var status *models.PaymentStatus
	if raw := c.Query("status"); raw != "" {
		st := models.PaymentStatus(raw)
		valid := false
		for _, code := range models.PaymentStatuses() {
			if code == raw {
				valid = true
				break
			}
		}
		if !valid {
			response.BadRequest(c, "Invalid payment status: "+raw)
			return
		}
		status = &st
	}
	page, limit := pagination(c)
	out, err := h.svc.ListAll(c.Request.Context(), status, page, limit)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Payments retrieved successfully", out)
}

// Refund handles POST /payments/admin/refund.
func (h *Handler) Refund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, validator.Message(err))
		return
	}
	txn, err := h.svc.Refund(c.Request.Context(), RefundInput{
		TransactionID: req.TransactionID,
		AdminID:       middleware.UserID(c),
		Reason:        req.Reason,
	})
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Payment refunded successfully", txn)
}

// ExpirePending handles POST /payments/admin/expire-pending.
func (h *Handler) ExpirePending(c *gin.Context) {
	n, err := h.svc.ExpirePending(c.Request.Context())
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Expired pending payments", gin.H{"expired": n})
}
