package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"delivery-tracker/internal/channel"
	"delivery-tracker/internal/tracking"
	"delivery-tracker/internal/validator"
	"delivery-tracker/pkg/utils"
)

// StatsProvider exposes channel traffic counters.
type StatsProvider interface {
	Stats() channel.Stats
}

type TrackingHandler struct {
	store *tracking.Store
	stats StatsProvider
}

func NewTrackingHandler(store *tracking.Store, stats StatsProvider) *TrackingHandler {
	return &TrackingHandler{store: store, stats: stats}
}

type startTrackingRequest struct {
	DeliveryID string `json:"delivery_id" binding:"required"`
}

type setOfflineRequest struct {
	Offline *bool `json:"offline" binding:"required"`
}

type reportIssueRequest struct {
	Type        string `json:"type" binding:"required"`
	Severity    string `json:"severity" binding:"required"`
	Description string `json:"description" binding:"required"`
}

type resolveIssueRequest struct {
	ResolutionNotes string `json:"resolution_notes"`
}

type connectionResponse struct {
	DeliveryID      string                   `json:"delivery_id"`
	ConnectionState tracking.ConnectionState `json:"connection_state"`
	ConnectionError string                   `json:"connection_error,omitempty"`
	Offline         bool                     `json:"offline"`
}

func (h *TrackingHandler) RegisterRoutes(router *gin.RouterGroup) {
	t := router.Group("/tracking")
	{
		t.POST("/start", h.StartTracking)
		t.POST("/stop", h.StopTracking)
		t.POST("/position", h.UpdatePosition)
		t.POST("/reconnect", h.Reconnect)
		t.POST("/refresh", h.RefreshState)
		t.PUT("/offline", h.SetOfflineMode)
		t.POST("/offline/toggle", h.ToggleOfflineMode)
		t.POST("/issues", h.ReportIssue)
		t.POST("/issues/:id/resolve", h.ResolveIssue)
		t.POST("/reset", h.Reset)

		t.GET("/metrics", h.GetMetrics)
		t.GET("/state", h.GetState)
		t.GET("/stats", h.GetStats)
	}
}

func (h *TrackingHandler) StartTracking(c *gin.Context) {
	var req startTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !h.store.StartTracking(c.Request.Context(), req.DeliveryID) {
		h.conflict(c, "Failed to start tracking")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Tracking started", h.connection())
}

func (h *TrackingHandler) StopTracking(c *gin.Context) {
	h.store.StopTracking(c.Request.Context())
	utils.SuccessResponse(c, http.StatusOK, "Tracking stopped", h.connection())
}

func (h *TrackingHandler) UpdatePosition(c *gin.Context) {
	var req tracking.PositionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if !h.store.UpdatePosition(c.Request.Context(), req) {
		h.conflict(c, "Position update was not accepted")
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Position update accepted", nil)
}

func (h *TrackingHandler) Reconnect(c *gin.Context) {
	if !h.store.Reconnect(c.Request.Context()) {
		h.conflict(c, "Nothing to reconnect")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Reconnected", h.connection())
}

func (h *TrackingHandler) RefreshState(c *gin.Context) {
	if !h.store.RefreshState(c.Request.Context()) {
		h.conflict(c, "Tracking state could not be refreshed")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Tracking state refreshed", h.connection())
}

func (h *TrackingHandler) SetOfflineMode(c *gin.Context) {
	var req setOfflineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.store.SetOfflineMode(c.Request.Context(), *req.Offline)
	utils.SuccessResponse(c, http.StatusOK, "Offline mode updated", h.connection())
}

func (h *TrackingHandler) ToggleOfflineMode(c *gin.Context) {
	h.store.ToggleOfflineMode(c.Request.Context())
	utils.SuccessResponse(c, http.StatusOK, "Offline mode updated", h.connection())
}

func (h *TrackingHandler) ReportIssue(c *gin.Context) {
	var req reportIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	issueType := utils.CleanToken(req.Type)
	severity := utils.CleanToken(req.Severity)
	description := utils.CleanText(req.Description)
	if issueType == "" || severity == "" || description == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "type, severity and description are required")
		return
	}

	if !h.store.ReportIssue(c.Request.Context(), issueType, severity, description) {
		h.conflict(c, "Issue could not be reported")
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Issue reported", h.store.Snapshot().Issues)
}

func (h *TrackingHandler) ResolveIssue(c *gin.Context) {
	var req resolveIssueRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if !h.store.ResolveIssue(c.Request.Context(), c.Param("id"), utils.CleanText(req.ResolutionNotes)) {
		h.conflict(c, "Issue could not be resolved")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Issue resolved", nil)
}

func (h *TrackingHandler) Reset(c *gin.Context) {
	h.store.Reset(c.Request.Context())
	utils.SuccessResponse(c, http.StatusOK, "Tracking state reset", h.connection())
}

func (h *TrackingHandler) GetMetrics(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Metrics retrieved", h.store.GetMetrics())
}

func (h *TrackingHandler) GetState(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Tracking state retrieved", h.store.Snapshot())
}

func (h *TrackingHandler) GetStats(c *gin.Context) {
	if h.stats == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Channel statistics are not available")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Channel statistics retrieved", h.stats.Stats())
}

func (h *TrackingHandler) connection() connectionResponse {
	state, connErr := h.store.ConnectionState()
	return connectionResponse{
		DeliveryID:      h.store.Snapshot().DeliveryID,
		ConnectionState: state,
		ConnectionError: connErr,
		Offline:         h.store.IsOffline(),
	}
}

// conflict reports a command the store declined, preferring the current
// connection error over the generic message.
func (h *TrackingHandler) conflict(c *gin.Context, fallback string) {
	_, connErr := h.store.ConnectionState()
	if connErr == "" {
		connErr = fallback
	}
	utils.ErrorResponse(c, http.StatusConflict, connErr)
}
