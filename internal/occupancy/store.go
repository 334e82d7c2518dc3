package occupancy

import (
	"context"
	"time"

	"github.com/langchou/ezpark/internal/models"
)

// SpotStore 车位当前状态存储
//
// CompareAndSetOccupancy 是唯一的占用字段写入路径：仅当 occupant 仍等于 expected
// （expected 为 nil 表示仍空闲）时写入，返回是否生效。
type SpotStore interface {
	GetByID(ctx context.Context, id models.SpotID) (*models.Spot, error)
	CompareAndSetOccupancy(ctx context.Context, id models.SpotID, expected, next *string, at *time.Time) (bool, error)
	ListByLevel(ctx context.Context, levelID string) ([]*models.Spot, error)
	CountByLevels(ctx context.Context, levelIDs []string) ([]models.LevelCount, error)
}

// SessionLedger 占用会话记录
type SessionLedger interface {
	Open(ctx context.Context, spotID models.SpotID, occupantID string, source models.SessionSource, at time.Time) (*models.Session, error)
	CloseActive(ctx context.Context, spotID models.SpotID, occupantID string, at time.Time) (*models.Session, error)
	CloseAnyActive(ctx context.Context, spotID models.SpotID, at time.Time) (*models.Session, error)
	FindActive(ctx context.Context, spotID models.SpotID, occupantID string) (*models.Session, error)
	FindActiveForOccupant(ctx context.Context, occupantID string) (*models.Session, error)
}

// HistoryLog 状态变化审计日志（只追加）
type HistoryLog interface {
	Append(ctx context.Context, entry *models.StateHistoryEntry) error
}

// Stores 一组绑定到同一连接或事务的存储
type Stores struct {
	Spots    SpotStore
	Sessions SessionLedger
	History  HistoryLog
}

// Transactor 在单个事务内执行 fn，fn 返回错误时回滚
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// OccupantLocker 按用户串行化签到
type OccupantLocker interface {
	Lock(ctx context.Context, occupantID string) (unlock func(), err error)
}

// Publisher 状态变化事件发布
type Publisher interface {
	PublishStateChanged(ctx context.Context, ev models.SpotStateChanged) error
}

// ScopeResolver 楼层 / 楼栋存在性与层级查询
type ScopeResolver interface {
	LevelExists(ctx context.Context, levelID string) (bool, error)
	LevelIDsForDeck(ctx context.Context, deckID string) ([]string, bool, error)
}
