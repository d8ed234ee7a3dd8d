// Package handler exposes the response tracker over HTTP.
package handler

import (
	"net/http"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/responses"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for engagement events.
type Handler struct {
	svc   *responses.Tracker
	val   *validator.Validator
	queue scheduler.EventEnqueuer
}

// New creates a new responses handler.
func New(svc *responses.Tracker, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// SetEnqueuer routes POST /events through the worker queue instead of
// tracking inline.
func (h *Handler) SetEnqueuer(q scheduler.EventEnqueuer) {
	h.queue = q
}

func (h *Handler) Name() string { return "responses" }

// RegisterRoutes registers the event routes.
func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	evts := ctx.V1.Group("/events")
	if ctx.IngestRateLimiter != nil {
		evts.Use(ctx.IngestRateLimiter.RateLimit())
	}
	evts.POST("", h.Track)

	ctx.V1.GET("/leads/:id/events", h.LeadHistory)
	ctx.V1.GET("/leads/:id/engagement", h.Engagement)
	ctx.V1.GET("/campaigns", h.ListCampaigns)
	ctx.V1.GET("/campaigns/:id/responses", h.Campaign)
}

func (h *Handler) Track(c *gin.Context) {
	var req responses.TrackParams
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	if h.queue != nil {
		if err := h.queue.EnqueueTrackEvent(c.Request.Context(), req); httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	evt, err := h.svc.TrackEvent(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, evt)
}

func (h *Handler) LeadHistory(c *gin.Context) {
	history, err := h.svc.GetLeadHistory(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, history)
}

func (h *Handler) Engagement(c *gin.Context) {
	score, err := h.svc.EngagementScore(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"leadId": c.Param("id"), "engagementScore": score})
}

func (h *Handler) ListCampaigns(c *gin.Context) {
	items, err := h.svc.ListCampaignResponses(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) Campaign(c *gin.Context) {
	resp, err := h.svc.GetCampaignResponse(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, resp)
}

var _ apphttp.Module = (*Handler)(nil)
