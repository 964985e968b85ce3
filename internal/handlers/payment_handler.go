// Package handlers exposes the thin HTTP surface over the engines.
package handlers

import (
	"errors"
	"net/http"

	"wallet-backend/internal/middleware"
	"wallet-backend/internal/models"
	"wallet-backend/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PaymentHandler payment intent endpoints
type PaymentHandler struct {
	payments     *services.PaymentService
	confirmation *services.ConfirmationService
	ledger       *services.LedgerService
}

// NewPaymentHandler creates the payment handler
func NewPaymentHandler(payments *services.PaymentService, confirmation *services.ConfirmationService, ledger *services.LedgerService) *PaymentHandler {
	return &PaymentHandler{payments: payments, confirmation: confirmation, ledger: ledger}
}

// CreatePaymentRequest create-intent request body
type CreatePaymentRequest struct {
	Chain   string `json:"chain" binding:"required"`
	Network string `json:"network" binding:"required"`
	Address string `json:"address" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

// Create POST /api/v1/payments
func (h *PaymentHandler) Create(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	intent, err := h.payments.CreateIntent(c.Request.Context(), middleware.UserID(c),
		models.Chain(req.Chain), models.Network(req.Network), req.Address, req.Amount)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, services.ErrInvalidChain) &&
			!errors.Is(err, services.ErrInvalidNetwork) &&
			!errors.Is(err, services.ErrInvalidAddress) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": intent})
}

// Get GET /api/v1/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	intent, err := h.payments.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil || intent.UserID != middleware.UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "payment not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": intent})
}

// List GET /api/v1/payments
func (h *PaymentHandler) List(c *gin.Context) {
	intents, err := h.payments.ListIntents(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": intents})
}

// Check POST /api/v1/payments/:id/check — on-demand confirmation check
func (h *PaymentHandler) Check(c *gin.Context) {
	intent, err := h.payments.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil || intent.UserID != middleware.UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "payment not found"})
		return
	}

	result, err := h.confirmation.CheckPayment(c.Request.Context(), intent.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// Cancel POST /api/v1/payments/:id/cancel
func (h *PaymentHandler) Cancel(c *gin.Context) {
	err := h.payments.CancelIntent(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "payment not found"})
		case errors.Is(err, services.ErrPaymentNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MonitorAll POST /api/v1/payments/monitor-all — sweeps every PENDING intent once
func (h *PaymentHandler) MonitorAll(c *gin.Context) {
	results := h.confirmation.MonitorAllPending(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "data": results})
}

// Ledger GET /api/v1/ledger — the caller's credited receives
func (h *PaymentHandler) Ledger(c *gin.Context) {
	entries, err := h.ledger.ListEntries(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": entries})
}
