package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/occupancy"
)

// writeError 业务错误映射为 HTTP 状态码
func (h *Handler) writeError(c *gin.Context, err error, action string) {
	var hasSpot *occupancy.OccupantHasSpotError

	switch {
	case errors.As(err, &hasSpot):
		c.JSON(http.StatusConflict, gin.H{
			"error": "You already have a spot checked in",
			"code":  "occupant_has_spot",
			"conflict": gin.H{
				"spot_id": hasSpot.SpotID,
				"label":   hasSpot.Label,
			},
		})
	case errors.Is(err, occupancy.ErrInvalidIdentifier):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid identifier", "code": "invalid_identifier"})
	case errors.Is(err, occupancy.ErrInvalidSource):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid source", "code": "invalid_source"})
	case errors.Is(err, occupancy.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "code": "not_found"})
	case errors.Is(err, occupancy.ErrAlreadyOccupied):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Spot is already occupied", "code": "already_occupied"})
	case errors.Is(err, occupancy.ErrNoActiveSession):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No active session for this spot", "code": "no_active_session"})
	case errors.Is(err, occupancy.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "Spot is held by another user", "code": "not_owner"})
	case errors.Is(err, occupancy.ErrOccupantAlreadyHasSpot):
		c.JSON(http.StatusConflict, gin.H{"error": "You already have a spot checked in", "code": "occupant_has_spot"})
	case errors.Is(err, occupancy.ErrOccupantBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Another request is in progress", "code": "occupant_busy"})
	case errors.Is(err, occupancy.ErrStateChanged):
		c.JSON(http.StatusConflict, gin.H{"error": "Spot changed, please retry", "code": "state_changed"})
	case errors.Is(err, occupancy.ErrStorageUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.logger.Error("Storage unavailable", zap.String("action", action), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable", "code": "unavailable"})
	default:
		h.logger.Error("Failed to "+action, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
	}
}
