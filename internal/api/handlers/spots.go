package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/api/middleware"
	"github.com/langchou/ezpark/internal/models"
)

// CheckIn 签到
// POST /api/spots/:id/check-in
func (h *Handler) CheckIn(c *gin.Context) {
	spotID, ok := spotIDParam(c)
	if !ok {
		return
	}
	occupantID, ok := occupant(c)
	if !ok {
		return
	}

	var req sourceRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}
	source, err := models.ParseSource(req.Source)
	if err != nil {
		h.writeError(c, err, "check in")
		return
	}

	spot, err := h.Occupancy.CheckIn(c.Request.Context(), spotID, occupantID, source)
	if err != nil {
		h.writeError(c, err, "check in")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": spot.View()})
}

// CheckOut 签退
// POST /api/spots/:id/check-out
func (h *Handler) CheckOut(c *gin.Context) {
	spotID, ok := spotIDParam(c)
	if !ok {
		return
	}
	occupantID, ok := occupant(c)
	if !ok {
		return
	}

	spot, err := h.Occupancy.CheckOut(c.Request.Context(), spotID, occupantID)
	if err != nil {
		h.writeError(c, err, "check out")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": spot.View()})
}

// SwitchSpot 释放当前车位并签到新车位
// POST /api/spots/:id/switch
func (h *Handler) SwitchSpot(c *gin.Context) {
	spotID, ok := spotIDParam(c)
	if !ok {
		return
	}
	occupantID, ok := occupant(c)
	if !ok {
		return
	}

	var req sourceRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}
	source, err := models.ParseSource(req.Source)
	if err != nil {
		h.writeError(c, err, "switch spot")
		return
	}

	spot, err := h.Occupancy.SwitchSpot(c.Request.Context(), spotID, occupantID, source)
	if err != nil {
		h.writeError(c, err, "switch spot")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": spot.View()})
}

// ToggleSpot 管理员切换车位状态
// POST /api/spots/:id/toggle
func (h *Handler) ToggleSpot(c *gin.Context) {
	spotID, ok := spotIDParam(c)
	if !ok {
		return
	}

	spot, err := h.Occupancy.AdminToggle(c.Request.Context(), spotID)
	if err != nil {
		h.writeError(c, err, "toggle spot")
		return
	}

	adminID, _ := middleware.OccupantID(c)
	h.logger.Info("Spot toggled by admin",
		zap.String("spot_id", spotID.String()),
		zap.String("admin_id", adminID),
		zap.String("state", string(spot.State())),
	)

	c.JSON(http.StatusOK, gin.H{"data": spot.View()})
}

// GetSpot 获取车位详情
func (h *Handler) GetSpot(c *gin.Context) {
	spotID, ok := spotIDParam(c)
	if !ok {
		return
	}

	spot, err := h.Spots.GetByID(c.Request.Context(), spotID)
	if err != nil {
		h.writeError(c, err, "get spot")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": spot.View()})
}

// GetSpotHistory 车位状态变化历史
// GET /api/spots/:id/history?limit=
func (h *Handler) GetSpotHistory(c *gin.Context) {
	spotID, ok := spotIDParam(c)
	if !ok {
		return
	}
	limit := parseLimit(c, 50, 200)

	// 先检查车位是否存在
	if _, err := h.Spots.GetByID(c.Request.Context(), spotID); err != nil {
		h.writeError(c, err, "get spot history")
		return
	}

	entries, err := h.History.ListBySpot(c.Request.Context(), spotID, limit)
	if err != nil {
		h.writeError(c, err, "get spot history")
		return
	}
	if entries == nil {
		entries = []*models.StateHistoryEntry{}
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// GetSpotSessions 车位会话记录
// GET /api/spots/:id/sessions?limit=
func (h *Handler) GetSpotSessions(c *gin.Context) {
	spotID, ok := spotIDParam(c)
	if !ok {
		return
	}
	limit := parseLimit(c, 50, 200)

	if _, err := h.Spots.GetByID(c.Request.Context(), spotID); err != nil {
		h.writeError(c, err, "get spot sessions")
		return
	}

	sessions, err := h.Sessions.ListBySpot(c.Request.Context(), spotID, limit)
	if err != nil {
		h.writeError(c, err, "get spot sessions")
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}

	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

// ReportSpot 上报车位状态错误
// POST /api/spots/:id/report
func (h *Handler) ReportSpot(c *gin.Context) {
	spotID, ok := spotIDParam(c)
	if !ok {
		return
	}
	occupantID, ok := occupant(c)
	if !ok {
		return
	}

	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	if _, err := h.Spots.GetByID(c.Request.Context(), spotID); err != nil {
		h.writeError(c, err, "report spot")
		return
	}

	report := &models.SpotReport{
		SpotID:     spotID,
		OccupantID: &occupantID,
		ReportType: req.ReportType,
		Notes:      req.Notes,
		Status:     models.ReportPending,
	}
	if err := h.Reports.Create(c.Request.Context(), report); err != nil {
		h.writeError(c, err, "report spot")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": report})
}

// GetMySpot 当前用户占用的车位，没有时 data 为 null
// GET /api/me/spot
func (h *Handler) GetMySpot(c *gin.Context) {
	occupantID, ok := occupant(c)
	if !ok {
		return
	}

	active, err := h.Occupancy.Current(c.Request.Context(), occupantID)
	if err != nil {
		h.writeError(c, err, "get current spot")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": active})
}

// ListInconsistencies 占用字段与会话不一致的车位
// GET /api/admin/inconsistencies
func (h *Handler) ListInconsistencies(c *gin.Context) {
	items, err := h.Spots.FindInconsistent(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "list inconsistencies")
		return
	}
	if items == nil {
		items = []models.Inconsistency{}
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
