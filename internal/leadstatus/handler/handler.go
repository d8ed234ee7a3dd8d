// Package handler exposes lead status tracking over HTTP.
package handler

import (
	"net/http"
	"strings"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leadstatus"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/sanitize"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"

	updatedByAPI = "api"
)

// Handler handles HTTP requests for lead status.
type Handler struct {
	svc *leadstatus.Manager
	val *validator.Validator
}

// New creates a new lead status handler.
func New(svc *leadstatus.Manager, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) Name() string { return "leadstatus" }

// RegisterRoutes registers the status routes.
func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/leads/:id/status", h.Get)
	ctx.V1.PUT("/leads/:id/status", h.Update)
	ctx.V1.GET("/leads/:id/next-action", h.NextAction)

	status := ctx.V1.Group("/lead-status")
	status.GET("/attention", h.Attention)
	status.GET("/counts", h.Counts)
	status.GET("/by-status/:status", h.ListByStatus)
}

type updateRequest struct {
	Status    string         `json:"status" validate:"required"`
	Reason    string         `json:"reason" validate:"max=500"`
	Notes     string         `json:"notes" validate:"max=2000"`
	UpdatedBy string         `json:"updatedBy" validate:"max=100"`
	Metadata  map[string]any `json:"metadata"`
}

func (h *Handler) Update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	status, ok := leadstatus.ParseStatus(req.Status)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, []string{"unknown status " + req.Status})
		return
	}
	updatedBy := strings.TrimSpace(req.UpdatedBy)
	if updatedBy == "" {
		updatedBy = updatedByAPI
	}

	history, err := h.svc.UpdateLeadStatus(c.Request.Context(), leadstatus.UpdateParams{
		LeadID:    c.Param("id"),
		Status:    status,
		UpdatedBy: updatedBy,
		Reason:    sanitize.Text(req.Reason),
		Notes:     sanitize.Text(req.Notes),
		Metadata:  req.Metadata,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, history)
}

func (h *Handler) Get(c *gin.Context) {
	history, err := h.svc.GetHistory(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, history)
}

func (h *Handler) NextAction(c *gin.Context) {
	action, err := h.svc.GetNextAction(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, action)
}

func (h *Handler) Attention(c *gin.Context) {
	items, err := h.svc.GetLeadsNeedingAttention(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) Counts(c *gin.Context) {
	counts, err := h.svc.CountByStatus(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, counts)
}

func (h *Handler) ListByStatus(c *gin.Context) {
	status, ok := leadstatus.ParseStatus(c.Param("status"))
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, []string{"unknown status " + c.Param("status")})
		return
	}
	items, err := h.svc.ListByStatus(c.Request.Context(), status)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

var _ apphttp.Module = (*Handler)(nil)
