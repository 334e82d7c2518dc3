package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/api/middleware"
	"github.com/langchou/ezpark/internal/models"
	"github.com/langchou/ezpark/internal/occupancy"
)

// Occupancy 车位占用操作
type Occupancy interface {
	CheckIn(ctx context.Context, spotID models.SpotID, occupantID string, source models.SessionSource) (*models.Spot, error)
	CheckOut(ctx context.Context, spotID models.SpotID, occupantID string) (*models.Spot, error)
	AdminToggle(ctx context.Context, spotID models.SpotID) (*models.Spot, error)
	SwitchSpot(ctx context.Context, toSpotID models.SpotID, occupantID string, source models.SessionSource) (*models.Spot, error)
	Current(ctx context.Context, occupantID string) (*models.ActiveSpot, error)
}

// Availability 空闲车位统计
type Availability interface {
	ForLevel(ctx context.Context, levelID string) (*occupancy.Availability, error)
	ForDeck(ctx context.Context, deckID string) (*occupancy.Availability, error)
}

// SpotReader 车位只读查询
type SpotReader interface {
	GetByID(ctx context.Context, id models.SpotID) (*models.Spot, error)
	ListByLevel(ctx context.Context, levelID string) ([]*models.Spot, error)
	FindInconsistent(ctx context.Context) ([]models.Inconsistency, error)
}

// SessionReader 会话只读查询
type SessionReader interface {
	ListBySpot(ctx context.Context, spotID models.SpotID, limit int) ([]*models.Session, error)
}

// HistoryReader 状态历史只读查询
type HistoryReader interface {
	ListBySpot(ctx context.Context, spotID models.SpotID, limit int) ([]*models.StateHistoryEntry, error)
}

// Catalog 停车楼 / 楼层目录
type Catalog interface {
	ListDecks(ctx context.Context) ([]*models.Deck, error)
	GetDeck(ctx context.Context, idOrCode string) (*models.Deck, error)
	ListLevels(ctx context.Context, deckID string) ([]*models.Level, error)
	GetLevel(ctx context.Context, id string) (*models.Level, error)
	ResolveNumbered(ctx context.Context, deck string, levelNumber, spotNumber int) (models.SpotID, error)
	ResolveLabel(ctx context.Context, label string) (models.SpotID, error)
}

// Reports 车位状态上报
type Reports interface {
	Create(ctx context.Context, report *models.SpotReport) error
}

// Changes 状态变化增量
type Changes interface {
	Since(since uint64, limit int) (events []models.SpotStateChanged, latest uint64, truncated bool)
}

// Pinger 健康检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 处理器依赖
type Deps struct {
	Occupancy    Occupancy
	Availability Availability
	Spots        SpotReader
	Sessions     SessionReader
	History      HistoryReader
	Catalog      Catalog
	Reports      Reports
	Changes      Changes
	DB           Pinger
}

// Handler HTTP 处理器
type Handler struct {
	logger *zap.Logger
	Deps
}

// NewHandler 创建处理器
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	registerValidators()
	return &Handler{logger: logger, Deps: deps}
}

// RegisterRoutes 注册路由，auth 为身份中间件
func (h *Handler) RegisterRoutes(r *gin.Engine, auth gin.HandlerFunc) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API 路由
	api := r.Group("/api")
	{
		// 车位（公开只读）
		api.GET("/spots/:id", h.GetSpot)
		api.GET("/spots/:id/history", h.GetSpotHistory)
		api.GET("/spots/:id/sessions", h.GetSpotSessions)

		// 停车楼 / 楼层
		api.GET("/decks", h.ListDecks)
		api.GET("/decks/:id", h.GetDeck)
		api.GET("/decks/:id/levels", h.ListDeckLevels)
		api.GET("/decks/:id/availability", h.GetDeckAvailability)
		api.GET("/levels", h.ListLevels)
		api.GET("/levels/:id/spots", h.ListLevelSpots)
		api.GET("/levels/:id/availability", h.GetLevelAvailability)

		// 状态变化轮询
		api.GET("/changes", h.ListChanges)

		// 需要登录
		user := api.Group("", auth)
		{
			user.POST("/spots/:id/check-in", h.CheckIn)
			user.POST("/spots/:id/check-out", h.CheckOut)
			user.POST("/spots/:id/switch", h.SwitchSpot)
			user.POST("/spots/:id/report", h.ReportSpot)
			user.POST("/scan", h.Scan)
			user.GET("/me/spot", h.GetMySpot)
		}

		// 管理员
		admin := api.Group("", auth, middleware.RequireAdmin())
		{
			admin.POST("/spots/:id/toggle", h.ToggleSpot)
			admin.GET("/admin/inconsistencies", h.ListInconsistencies)
		}
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
