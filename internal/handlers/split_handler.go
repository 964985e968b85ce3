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

// SplitHandler split template and execution endpoints
type SplitHandler struct {
	templates *services.SplitTemplateService
	execution *services.SplitExecutionService
}

// NewSplitHandler creates the split handler
func NewSplitHandler(templates *services.SplitTemplateService, execution *services.SplitExecutionService) *SplitHandler {
	return &SplitHandler{templates: templates, execution: execution}
}

// CreateSplitRequest create-template request body
type CreateSplitRequest struct {
	Chain       string                      `json:"chain" binding:"required"`
	Network     string                      `json:"network" binding:"required"`
	FromAddress string                      `json:"from_address" binding:"required"`
	Recipients  []services.RecipientInput   `json:"recipients" binding:"required,dive"`
}

// Create POST /api/v1/splits
func (h *SplitHandler) Create(c *gin.Context) {
	var req CreateSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	template, err := h.templates.CreateTemplate(c.Request.Context(), middleware.UserID(c),
		models.Chain(req.Chain), models.Network(req.Network), req.FromAddress, req.Recipients)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": template})
}

// Get GET /api/v1/splits/:id
func (h *SplitHandler) Get(c *gin.Context) {
	template, err := h.templates.GetTemplate(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "split template not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": template})
}

// List GET /api/v1/splits
func (h *SplitHandler) List(c *gin.Context) {
	templates, err := h.templates.ListTemplates(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": templates})
}

// ExecuteSplitRequest execute request body. The PIN travels only in this request
// body and is compared against the stored bcrypt hash.
type ExecuteSplitRequest struct {
	Pin      string `json:"pin" binding:"required"`
	TOTPCode string `json:"totp_code"`
}

// Execute POST /api/v1/splits/:id/execute
func (h *SplitHandler) Execute(c *gin.Context) {
	var req ExecuteSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	execution, err := h.execution.ExecuteSplit(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Pin, req.TOTPCode)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPinMismatch), errors.Is(err, services.ErrTOTPMismatch):
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": err.Error()})
		case errors.Is(err, services.ErrNotTemplateOwner), errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "split template not found"})
		case errors.Is(err, services.ErrTemplateInactive),
			errors.Is(err, services.ErrNoActiveRecipients),
			errors.Is(err, services.ErrInsufficientSenderBalance):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": execution})
}

// Toggle POST /api/v1/splits/:id/toggle — flips template ACTIVE/INACTIVE
func (h *SplitHandler) Toggle(c *gin.Context) {
	status, err := h.templates.ToggleTemplate(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "split template not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"status": status}})
}

// ToggleRecipient POST /api/v1/splits/:id/recipients/:recipientId/toggle
func (h *SplitHandler) ToggleRecipient(c *gin.Context) {
	active, err := h.templates.ToggleRecipient(c.Request.Context(), c.Param("id"), c.Param("recipientId"), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "recipient not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"is_active": active}})
}

// Executions GET /api/v1/splits/:id/executions — execution history
func (h *SplitHandler) Executions(c *gin.Context) {
	executions, err := h.templates.ListExecutions(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "split template not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": executions})
}
