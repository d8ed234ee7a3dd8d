// Package handler exposes sequence definitions and executions over HTTP.
package handler

import (
	"net/http"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/sequences"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for sequences.
type Handler struct {
	svc *sequences.Manager
	val *validator.Validator
}

// New creates a new sequences handler.
func New(svc *sequences.Manager, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) Name() string { return "sequences" }

// RegisterRoutes registers the sequence routes.
func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	seqs := ctx.V1.Group("/sequences")
	seqs.GET("", h.List)
	seqs.POST("", h.Create)
	seqs.GET("/stats", h.AllStats)
	seqs.GET("/:id", h.Get)
	seqs.PATCH("/:id/active", h.SetActive)
	seqs.GET("/:id/stats", h.Stats)
	seqs.POST("/:id/start", h.Start)

	execs := ctx.V1.Group("/sequence-executions")
	execs.GET("/:id", h.GetExecution)
	execs.POST("/:id/pause", h.Pause)
	execs.POST("/:id/resume", h.Resume)
	execs.POST("/:id/cancel", h.Cancel)

	ctx.V1.GET("/leads/:id/sequences", h.LeadExecutions)
}

func (h *Handler) Create(c *gin.Context) {
	var req sequences.CreateParams
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	seq, err := h.svc.CreateSequence(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, seq)
}

func (h *Handler) List(c *gin.Context) {
	items, err := h.svc.ListSequences(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) Get(c *gin.Context) {
	seq, err := h.svc.GetSequence(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, seq)
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) SetActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	seq, err := h.svc.SetSequenceActive(c.Request.Context(), c.Param("id"), *req.Active)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, seq)
}

type startRequest struct {
	LeadID   string         `json:"leadId" validate:"required"`
	Metadata map[string]any `json:"metadata"`
}

func (h *Handler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	exec, err := h.svc.StartSequence(c.Request.Context(), req.LeadID, c.Param("id"), req.Metadata)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, exec)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.GetSequenceStats(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

func (h *Handler) AllStats(c *gin.Context) {
	stats, err := h.svc.GetSequenceStats(c.Request.Context(), "")
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

func (h *Handler) GetExecution(c *gin.Context) {
	exec, err := h.svc.GetExecution(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, exec)
}

func (h *Handler) Pause(c *gin.Context) {
	exec, err := h.svc.PauseSequence(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, exec)
}

func (h *Handler) Resume(c *gin.Context) {
	exec, err := h.svc.ResumeSequence(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, exec)
}

func (h *Handler) Cancel(c *gin.Context) {
	exec, err := h.svc.CancelSequence(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, exec)
}

func (h *Handler) LeadExecutions(c *gin.Context) {
	items, err := h.svc.ListExecutions(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

var _ apphttp.Module = (*Handler)(nil)
