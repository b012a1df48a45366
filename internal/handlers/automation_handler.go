package handlers

import (
	"errors"
	"net/http"

	"labcrm/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler 自动化规则、执行记录与模板
type AutomationHandler struct {
	service *services.AutomationService
	scanner *services.DateTriggerScanner
	logger  *logrus.Logger
}

func NewAutomationHandler(service *services.AutomationService, scanner *services.DateTriggerScanner, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{service: service, scanner: scanner, logger: logger}
}

// ExecuteRuleRequest 手动执行规则请求
type ExecuteRuleRequest struct {
	TargetModel string      `json:"target_model" binding:"required"`
	TargetID    uint        `json:"target_id" binding:"required"`
	TriggerData interface{} `json:"trigger_data"`
}

// ListRules 规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	var req services.RuleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}
	rules, total, err := h.service.Rules().ListRules(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to list rules", err)
		return
	}
	c.JSON(http.StatusOK, newPaginated(rules, total, req.Page, req.PageSize))
}

// GetRule 规则详情
func (h *AutomationHandler) GetRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rule, err := h.service.Rules().GetRule(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to get rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRule 创建规则，创建者取当前用户
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.RuleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.Rules().CreateRule(c.Request.Context(), currentUserID(c), &req)
	if err != nil {
		respondError(c, "Failed to create rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule 更新规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.RuleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.Rules().UpdateRule(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, "Failed to update rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则（系统规则不可删除）
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.Rules().DeleteRule(c.Request.Context(), id); err != nil {
		respondError(c, "Failed to delete rule", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ToggleRule 启用/停用规则
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rule, err := h.service.Rules().ToggleRule(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to toggle rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ExecuteRule 对指定实体手动执行规则
func (h *AutomationHandler) ExecuteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ExecuteRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	exec, err := h.service.Execute(c.Request.Context(), id, req.TargetModel, req.TargetID, req.TriggerData)
	if err != nil {
		var actionErr *services.ActionExecutionError
		if errors.As(err, &actionErr) && exec != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":     "Automation failed",
				"message":   err.Error(),
				"execution": exec,
			})
			return
		}
		respondError(c, "Failed to execute rule", err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// ListExecutions 执行记录列表
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	var req services.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}
	executions, total, err := h.service.Executions().ListExecutions(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to list executions", err)
		return
	}
	c.JSON(http.StatusOK, newPaginated(executions, total, req.Page, req.PageSize))
}

// GetExecution 执行记录详情
func (h *AutomationHandler) GetExecution(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	exec, err := h.service.Executions().GetExecution(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to get execution", err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// ListTemplates 模板列表
func (h *AutomationHandler) ListTemplates(c *gin.Context) {
	templates, err := h.service.Catalog().ListTemplates()
	if err != nil {
		respondError(c, "Failed to list templates", err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

// ApplyTemplate 由模板创建规则
func (h *AutomationHandler) ApplyTemplate(c *gin.Context) {
	rule, err := h.service.Catalog().ApplyTemplate(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to apply template", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// RunScan 立即执行一次日期扫描
func (h *AutomationHandler) RunScan(c *gin.Context) {
	if h.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Scanner disabled", Message: "date scanner is not configured"})
		return
	}
	result, err := h.scanner.Scan(c.Request.Context())
	if err != nil {
		h.logger.Errorf("manual date scan failed: %v", err)
		respondError(c, "Scan failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("", handler.ListRules)
		auto.POST("", handler.CreateRule)

		auto.GET("/executions", handler.ListExecutions)
		auto.GET("/executions/:id", handler.GetExecution)
		auto.GET("/templates", handler.ListTemplates)
		auto.POST("/templates/:id/apply", handler.ApplyTemplate)
		auto.POST("/scan", handler.RunScan)

		auto.GET("/:id", handler.GetRule)
		auto.PUT("/:id", handler.UpdateRule)
		auto.DELETE("/:id", handler.DeleteRule)
		auto.POST("/:id/toggle", handler.ToggleRule)
		auto.POST("/:id/execute", handler.ExecuteRule)
	}
}
