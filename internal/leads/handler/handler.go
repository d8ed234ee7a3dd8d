// Package handler exposes the lead directory and lead tags over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strings"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/phone"
	"leadflow_backend/platform/sanitize"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for leads.
type Handler struct {
	dir    leads.Registry
	tags   *leads.TagStore
	val    *validator.Validator
	region string
}

// New creates a new leads handler. region is used to normalize phone
// numbers entered without a country code.
func New(dir leads.Registry, tags *leads.TagStore, val *validator.Validator, region string) *Handler {
	return &Handler{dir: dir, tags: tags, val: val, region: region}
}

func (h *Handler) Name() string { return "leads" }

// RegisterRoutes registers the lead routes.
func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	rg := ctx.V1.Group("/leads")
	rg.GET("", h.List)
	rg.PUT("/:id", h.Upsert)
	rg.GET("/:id", h.Get)
	rg.GET("/:id/tags", h.Tags)
	rg.POST("/:id/tags", h.AddTag)
	rg.DELETE("/:id/tags/:tag", h.RemoveTag)

	ctx.V1.POST("/campaigns/:id/leads", h.AddToCampaign)
}

type upsertRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	BusinessType string `json:"businessType" validate:"max=100"`
	Source       string `json:"source" validate:"max=100"`
}

func (h *Handler) Upsert(c *gin.Context) {
	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}
	if req.Phone != "" && !phone.IsValid(req.Phone, h.region) {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, []string{"phone is not a valid number"})
		return
	}

	contact := leads.Contact{
		LeadID:       c.Param("id"),
		Name:         sanitize.Text(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:        phone.NormalizeE164(req.Phone, h.region),
		BusinessType: req.BusinessType,
		Source:       req.Source,
	}
	if err := h.dir.UpsertContact(c.Request.Context(), contact); httpkit.HandleError(c, err) {
		return
	}
	stored, err := h.dir.GetContact(c.Request.Context(), contact.LeadID)
	if h.handleLookup(c, err) {
		return
	}
	httpkit.OK(c, stored)
}

func (h *Handler) Get(c *gin.Context) {
	contact, err := h.dir.GetContact(c.Request.Context(), c.Param("id"))
	if h.handleLookup(c, err) {
		return
	}
	httpkit.OK(c, contact)
}

func (h *Handler) List(c *gin.Context) {
	ids, err := h.dir.ListLeadIDs(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": ids})
}

type campaignRequest struct {
	LeadIDs []string `json:"leadIds" validate:"required,min=1,dive,required"`
}

func (h *Handler) AddToCampaign(c *gin.Context) {
	var req campaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	for _, id := range req.LeadIDs {
		err := h.dir.AddToCampaign(c.Request.Context(), c.Param("id"), id)
		if h.handleLookup(c, err) {
			return
		}
	}
	count, err := h.dir.CountLeadsForCampaign(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"campaignId": c.Param("id"), "totalLeads": count})
}

func (h *Handler) Tags(c *gin.Context) {
	tags, err := h.tags.Tags(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"leadId": c.Param("id"), "tags": tags})
}

type tagRequest struct {
	Tag string `json:"tag" validate:"required,max=64"`
}

func (h *Handler) AddTag(c *gin.Context) {
	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}

	added, err := h.tags.AddTag(c.Request.Context(), c.Param("id"), req.Tag)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"added": added})
}

func (h *Handler) RemoveTag(c *gin.Context) {
	removed, err := h.tags.RemoveTag(c.Request.Context(), c.Param("id"), c.Param("tag"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"removed": removed})
}

// handleLookup maps the directory's sentinel to a 404.
func (h *Handler) handleLookup(c *gin.Context, err error) bool {
	if errors.Is(err, leads.ErrNotFound) {
		return httpkit.HandleError(c, apperr.NotFound("lead not found"))
	}
	return httpkit.HandleError(c, err)
}

var _ apphttp.Module = (*Handler)(nil)
