// Package handler exposes automation rules, executions and tasks over HTTP.
package handler

import (
	"net/http"

	"leadflow_backend/internal/automation"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for the automation engine.
type Handler struct {
	svc *automation.Engine
	val *validator.Validator
}

// New creates a new automation handler.
func New(svc *automation.Engine, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) Name() string { return "automation" }

// RegisterRoutes registers the rule and execution routes.
func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	rg := ctx.V1.Group("/rules")
	rg.GET("", h.ListRules)
	rg.POST("", h.CreateRule)
	rg.GET("/:id", h.GetRule)
	rg.PATCH("/:id/active", h.SetActive)
	rg.DELETE("/:id", h.DeleteRule)
	rg.POST("/:id/execute", h.Execute)
	rg.GET("/:id/executions", h.RuleExecutions)

	auto := ctx.V1.Group("/automation")
	auto.GET("/executions", h.AllExecutions)
	auto.GET("/executions/:id", h.GetExecution)
	auto.GET("/tasks", h.Tasks)
	auto.GET("/stats", h.Stats)
	auto.POST("/run", h.Run)
}

func (h *Handler) CreateRule(c *gin.Context) {
	var req automation.CreateRuleParams
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	rule, err := h.svc.CreateRule(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, rule)
}

func (h *Handler) ListRules(c *gin.Context) {
	items, err := h.svc.ListRules(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.svc.GetRule(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, rule)
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

	rule, err := h.svc.SetRuleActive(c.Request.Context(), c.Param("id"), *req.Active)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.svc.DeleteRule(c.Request.Context(), c.Param("id")); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

type executeRequest struct {
	LeadID string `json:"leadId"`
}

// Execute queues a manual run. The body is optional; without a leadId the
// rule runs leadless.
func (h *Handler) Execute(c *gin.Context) {
	var req executeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}

	exec, err := h.svc.ExecuteRule(c.Request.Context(), c.Param("id"), req.LeadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, exec)
}

func (h *Handler) RuleExecutions(c *gin.Context) {
	if _, err := h.svc.GetRule(c.Request.Context(), c.Param("id")); httpkit.HandleError(c, err) {
		return
	}
	items, err := h.svc.ListExecutions(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) AllExecutions(c *gin.Context) {
	items, err := h.svc.ListExecutions(c.Request.Context(), c.Query("ruleId"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) GetExecution(c *gin.Context) {
	exec, err := h.svc.GetExecution(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, exec)
}

func (h *Handler) Tasks(c *gin.Context) {
	items, err := h.svc.ListTasks(c.Request.Context(), c.Query("leadId"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.GetAutomationStats(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

// Run performs one trigger check and drains the queue, for operators who
// do not want to wait for the next tick.
func (h *Handler) Run(c *gin.Context) {
	ctx := c.Request.Context()
	enqueued, err := h.svc.CheckTriggers(ctx)
	if httpkit.HandleError(c, err) {
		return
	}
	processed, err := h.svc.ProcessExecutionQueue(ctx)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"enqueued": enqueued, "processed": processed})
}

var _ apphttp.Module = (*Handler)(nil)
