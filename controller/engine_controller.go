// controller/engine_controller.go
package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aria7-op/adcg-engine/audit"
	"github.com/aria7-op/adcg-engine/bus"
	engine_errors "github.com/aria7-op/adcg-engine/errors"
	"github.com/aria7-op/adcg-engine/model"
	"github.com/aria7-op/adcg-engine/rbac"
	"github.com/aria7-op/adcg-engine/util"
	helper_util "github.com/aria7-op/adcg-engine/util/helper"
	"github.com/aria7-op/adcg-engine/workflow"
)

// EngineController exposes the permission and workflow engines to UI
// clients.
type EngineController struct {
	eventBus *bus.EventBus
	wfEngine *workflow.Engine
	perms    *rbac.Engine
	auditSvc audit.Service
}

func NewEngineController(eventBus *bus.EventBus, wfEngine *workflow.Engine, perms *rbac.Engine, auditSvc audit.Service) *EngineController {
	return &EngineController{
		eventBus: eventBus,
		wfEngine: wfEngine,
		perms:    perms,
		auditSvc: auditSvc,
	}
}

func (ec *EngineController) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("", ec.InitializeSession)
	}

	events := r.Group("/events")
	{
		events.POST("", ec.EmitEvent)
		events.GET("/history", ec.EventHistory)
		events.GET("/stream", ec.StreamEvents)
	}

	workflows := r.Group("/workflows")
	{
		workflows.POST("", ec.RegisterWorkflow)
		workflows.GET("", ec.ListWorkflows)
		workflows.POST("/:name/start", ec.StartWorkflow)
		workflows.GET("/instances/:id", ec.GetInstance)
		workflows.POST("/instances/:id/cancel", ec.CancelInstance)
	}

	permissions := r.Group("/permissions")
	{
		permissions.GET("/check", ec.CheckPermission)
		permissions.GET("/ui/:token", ec.CheckUIPermission)
		permissions.GET("/roles", ec.ListRoles)
	}

	r.POST("/context", ec.UpdateContext)

	auditGroup := r.Group("/audit")
	{
		auditGroup.GET("/recent", ec.RecentAccessLogs)
		auditGroup.GET("/logs", ec.QueryAccessLogs)
	}
}

type initializeSessionRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
}

func (ec *EngineController) InitializeSession(c *gin.Context) {
	var req initializeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid session data", err)
		return
	}

	ec.perms.Initialize(c, req.UserID, req.SessionID)
	c.JSON(http.StatusOK, gin.H{
		"user_id":    req.UserID,
		"session_id": req.SessionID,
		"last_sync":  ec.perms.LastSync(),
	})
}

type emitEventRequest struct {
	Type   string                 `json:"type" binding:"required"`
	Data   map[string]interface{} `json:"data"`
	Source string                 `json:"source"`
}

func (ec *EngineController) EmitEvent(c *gin.Context) {
	var req emitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid event data", err)
		return
	}

	source := req.Source
	if source == "" {
		source = c.ClientIP()
	}

	event := ec.eventBus.Emit(c, req.Type, req.Data, source)
	c.JSON(http.StatusCreated, event)
}

func (ec *EngineController) EventHistory(c *gin.Context) {
	history := ec.eventBus.History(c.Query("type"))
	if history == nil {
		history = []model.Event{}
	}
	c.JSON(http.StatusOK, history)
}

func (ec *EngineController) RegisterWorkflow(c *gin.Context) {
	var payload workflowPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid workflow definition", err)
		return
	}

	def, err := buildDefinition(payload)
	if err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid workflow definition", err)
		return
	}

	if err := ec.wfEngine.RegisterWorkflow(def); err != nil {
		if errors.Is(err, engine_errors.ErrWorkflowAlreadyExists) {
			util.RespondWithError(c, http.StatusConflict, "Workflow already registered", err)
			return
		}
		util.RespondWithError(c, http.StatusBadRequest, "Invalid workflow definition", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"name": def.Name})
}

func (ec *EngineController) ListWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"definitions": ec.wfEngine.Definitions(),
		"instances":   ec.wfEngine.GetWorkflows(),
	})
}

type startWorkflowRequest struct {
	Data map[string]interface{} `json:"data"`
}

func (ec *EngineController) StartWorkflow(c *gin.Context) {
	var req startWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid workflow data", err)
		return
	}

	instanceID, err := ec.wfEngine.StartWorkflow(c.Param("name"), req.Data)
	if err != nil {
		if errors.Is(err, engine_errors.ErrWorkflowNotFound) {
			util.RespondWithError(c, http.StatusNotFound, "Workflow not found", err)
			return
		}
		util.RespondWithError(c, http.StatusInternalServerError, "Failed to start workflow", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"workflow_id": instanceID})
}

func (ec *EngineController) GetInstance(c *gin.Context) {
	view, err := ec.wfEngine.GetInstance(c.Param("id"))
	if err != nil {
		util.RespondWithError(c, http.StatusNotFound, "Workflow instance not found", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (ec *EngineController) CancelInstance(c *gin.Context) {
	if err := ec.wfEngine.Cancel(c.Param("id")); err != nil {
		util.RespondWithError(c, http.StatusNotFound, "Workflow instance not running", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"workflow_id": c.Param("id")})
}

func (ec *EngineController) CheckPermission(c *gin.Context) {
	resource := c.Query("resource")
	action := c.Query("action")
	if resource == "" || action == "" {
		util.RespondWithError(c, http.StatusBadRequest, "resource and action are required", nil)
		return
	}

	granted := ec.perms.CheckPermission(resource, action, nil)
	c.JSON(http.StatusOK, gin.H{
		"resource": resource,
		"action":   action,
		"granted":  granted,
	})
}

func (ec *EngineController) CheckUIPermission(c *gin.Context) {
	token := c.Param("token")
	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"granted": ec.perms.CheckUIPermission(token),
	})
}

func (ec *EngineController) ListRoles(c *gin.Context) {
	c.JSON(http.StatusOK, ec.perms.Roles())
}

type updateContextRequest struct {
	Location  *model.GeoPoint   `json:"location"`
	Device    *model.DeviceInfo `json:"device"`
	RiskScore *float64          `json:"risk_score"`
	IsActive  *bool             `json:"is_active"`
}

// UpdateContext receives environment observer updates (geolocation,
// device, risk, visibility) and applies them to the evaluation context.
func (ec *EngineController) UpdateContext(c *gin.Context) {
	var req updateContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid context data", err)
		return
	}

	ec.perms.UpdateContext(func(ctx *model.EvalContext) {
		if req.Location != nil {
			ctx.Location = req.Location
		}
		if req.Device != nil {
			ctx.Device = req.Device
		}
		if req.RiskScore != nil {
			ctx.RiskScore = *req.RiskScore
		}
		if req.IsActive != nil {
			ctx.IsActive = *req.IsActive
		}
	})

	c.JSON(http.StatusOK, ec.perms.Context())
}

func (ec *EngineController) RecentAccessLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, ec.auditSvc.Recent(limit))
}

func (ec *EngineController) QueryAccessLogs(c *gin.Context) {
	from, err := helper_util.ParseTimeOrDefault(c.Query("from"), time.Now().Add(-24*time.Hour))
	if err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid from timestamp", err)
		return
	}
	to, err := helper_util.ParseTimeOrDefault(c.Query("to"), time.Now())
	if err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid to timestamp", err)
		return
	}

	logs, err := ec.auditSvc.QueryLogs(c, from, to, c.Query("user_id"), c.Query("resource"))
	if err != nil {
		util.RespondWithError(c, http.StatusInternalServerError, "Failed to query access logs", err)
		return
	}
	if logs == nil {
		logs = []audit.AccessLogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}
