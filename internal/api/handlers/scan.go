package handlers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/langchou/ezpark/internal/models"
)

// qrPayload 车位二维码内容，例如 {"deck-id":"1001","level-id":1,"spot-id":1}
type qrPayload struct {
	DeckID  any `json:"deck-id"`
	LevelID any `json:"level-id"`
	SpotID  any `json:"spot-id"`
}

// Scan 扫码：空闲车位签到，已占用车位签退
// POST /api/scan
func (h *Handler) Scan(c *gin.Context) {
	occupantID, ok := occupant(c)
	if !ok {
		return
	}

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	spotID, err := h.resolveScan(ctx, req.Payload)
	if err != nil {
		h.writeError(c, err, "resolve QR code")
		return
	}

	spot, err := h.Spots.GetByID(ctx, spotID)
	if err != nil {
		h.writeError(c, err, "scan spot")
		return
	}

	action := "check-in"
	if spot.State() == models.SpotOccupied {
		action = "check-out"
		spot, err = h.Occupancy.CheckOut(ctx, spotID, occupantID)
	} else {
		spot, err = h.Occupancy.CheckIn(ctx, spotID, occupantID, models.SourceQRScan)
	}
	if err != nil {
		h.writeError(c, err, action)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": spot.View(), "action": action})
}

// resolveScan 二维码内容解析为车位 ID：JSON 按 楼栋/楼层/车位 编号查找，否则按车位标签查找
func (h *Handler) resolveScan(ctx context.Context, raw string) (models.SpotID, error) {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "{") {
		var p qrPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return "", fmt.Errorf("%w: malformed QR payload", models.ErrInvalidIdentifier)
		}
		deck, ok := payloadString(p.DeckID)
		if !ok {
			return "", fmt.Errorf("%w: QR payload deck-id", models.ErrInvalidIdentifier)
		}
		level, ok := payloadInt(p.LevelID)
		if !ok {
			return "", fmt.Errorf("%w: QR payload level-id", models.ErrInvalidIdentifier)
		}
		spot, ok := payloadInt(p.SpotID)
		if !ok {
			return "", fmt.Errorf("%w: QR payload spot-id", models.ErrInvalidIdentifier)
		}
		return h.Catalog.ResolveNumbered(ctx, deck, level, spot)
	}

	label, err := models.ParseScopeID(raw)
	if err != nil {
		return "", err
	}
	return h.Catalog.ResolveLabel(ctx, label)
}

func payloadString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s, err := models.ParseScopeID(t)
		return s, err == nil
	case float64:
		if t != math.Trunc(t) || t < 0 {
			return "", false
		}
		return strconv.FormatInt(int64(t), 10), true
	default:
		return "", false
	}
}

func payloadInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || t < 0 || t > math.MaxInt32 {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil && n >= 0
	default:
		return 0, false
	}
}
