package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/langchou/ezpark/internal/models"
)

// ListChanges 轮询状态变化
// GET /api/changes?since=&limit=
// truncated 为 true 表示 since 之后的部分事件已被淘汰，客户端应全量刷新
func (h *Handler) ListChanges(c *gin.Context) {
	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since", "code": "invalid_request"})
		return
	}
	limit := parseLimit(c, 100, 500)

	events, latest, truncated := h.Changes.Since(since, limit)
	if events == nil {
		events = []models.SpotStateChanged{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events":    events,
		"latest":    latest,
		"truncated": truncated,
	})
}
