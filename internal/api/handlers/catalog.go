package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/langchou/ezpark/internal/models"
)

// ListDecks 停车楼列表
func (h *Handler) ListDecks(c *gin.Context) {
	decks, err := h.Catalog.ListDecks(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "list decks")
		return
	}
	if decks == nil {
		decks = []*models.Deck{}
	}

	c.JSON(http.StatusOK, gin.H{"data": decks})
}

// GetDeck 停车楼详情（ID 或楼栋编号）
func (h *Handler) GetDeck(c *gin.Context) {
	id, ok := scopeIDParam(c)
	if !ok {
		return
	}

	deck, err := h.Catalog.GetDeck(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "get deck")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": deck})
}

// ListDeckLevels 停车楼的楼层
func (h *Handler) ListDeckLevels(c *gin.Context) {
	id, ok := scopeIDParam(c)
	if !ok {
		return
	}

	deck, err := h.Catalog.GetDeck(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "list levels")
		return
	}

	h.writeLevels(c, deck.ID)
}

// ListLevels 楼层列表，可按 deck_id 过滤
// GET /api/levels?deck_id=
func (h *Handler) ListLevels(c *gin.Context) {
	deckID := c.Query("deck_id")
	if deckID != "" {
		var err error
		if deckID, err = models.ParseScopeID(deckID); err != nil {
			h.writeError(c, err, "list levels")
			return
		}
	}

	h.writeLevels(c, deckID)
}

func (h *Handler) writeLevels(c *gin.Context, deckID string) {
	levels, err := h.Catalog.ListLevels(c.Request.Context(), deckID)
	if err != nil {
		h.writeError(c, err, "list levels")
		return
	}
	if levels == nil {
		levels = []*models.Level{}
	}

	c.JSON(http.StatusOK, gin.H{"data": levels})
}

// ListLevelSpots 楼层内车位及状态
// GET /api/levels/:id/spots
func (h *Handler) ListLevelSpots(c *gin.Context) {
	id, ok := scopeIDParam(c)
	if !ok {
		return
	}

	if _, err := h.Catalog.GetLevel(c.Request.Context(), id); err != nil {
		h.writeError(c, err, "list spots")
		return
	}

	spots, err := h.Spots.ListByLevel(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "list spots")
		return
	}

	views := make([]models.SpotView, 0, len(spots))
	for _, s := range spots {
		views = append(views, s.View())
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}

// GetLevelAvailability 楼层空闲统计
// GET /api/levels/:id/availability
func (h *Handler) GetLevelAvailability(c *gin.Context) {
	id, ok := scopeIDParam(c)
	if !ok {
		return
	}

	avail, err := h.Availability.ForLevel(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "get availability")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": avail})
}

// GetDeckAvailability 停车楼空闲统计（含各楼层）
// GET /api/decks/:id/availability
func (h *Handler) GetDeckAvailability(c *gin.Context) {
	id, ok := scopeIDParam(c)
	if !ok {
		return
	}

	avail, err := h.Availability.ForDeck(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "get availability")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": avail})
}
