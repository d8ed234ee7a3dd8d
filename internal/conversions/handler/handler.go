// Package handler exposes conversion tracking and attribution over HTTP.
package handler

import (
	"net/http"

	"leadflow_backend/internal/conversions"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for conversions.
type Handler struct {
	svc *conversions.Tracker
	val *validator.Validator
}

// New creates a new conversions handler.
func New(svc *conversions.Tracker, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) Name() string { return "conversions" }

// RegisterRoutes registers the conversion routes.
func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	rg := ctx.V1.Group("/conversions")
	rg.POST("", h.Track)
	rg.GET("/funnel", h.Funnel)
	rg.GET("/stats", h.Stats)
	rg.GET("/attribution", h.ListAttributions)
	rg.GET("/attribution/:campaignId", h.Attribution)
	rg.GET("/:id", h.Get)

	ctx.V1.GET("/leads/:id/conversions", h.LeadConversions)
}

func (h *Handler) Track(c *gin.Context) {
	var req conversions.TrackParams
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	conv, err := h.svc.TrackConversion(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, conv)
}

func (h *Handler) Get(c *gin.Context) {
	conv, err := h.svc.GetConversion(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, conv)
}

func (h *Handler) LeadConversions(c *gin.Context) {
	items, err := h.svc.GetLeadConversions(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) Attribution(c *gin.Context) {
	attr, err := h.svc.GetCampaignAttribution(c.Request.Context(), c.Param("campaignId"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, attr)
}

func (h *Handler) ListAttributions(c *gin.Context) {
	items, err := h.svc.ListCampaignAttributions(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items, "model": h.svc.Model()})
}

func (h *Handler) Funnel(c *gin.Context) {
	funnel, err := h.svc.GetConversionFunnel(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, funnel)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.GetConversionStats(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

var _ apphttp.Module = (*Handler)(nil)
