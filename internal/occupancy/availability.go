package occupancy

import (
	"context"
	"time"

	"github.com/langchou/ezpark/internal/models"
)

// Availability 某个范围内的空闲 / 总车位数
type Availability struct {
	Free   int                 `json:"free"`
	Total  int                 `json:"total"`
	Levels []models.LevelCount `json:"levels"`
}

// Aggregator 空闲车位统计
type Aggregator struct {
	spots   SpotStore
	scopes  ScopeResolver
	timeout time.Duration
}

// NewAggregator 创建统计器
func NewAggregator(spots SpotStore, scopes ScopeResolver, timeout time.Duration) *Aggregator {
	return &Aggregator{spots: spots, scopes: scopes, timeout: timeout}
}

// ForLevel 单个楼层
func (a *Aggregator) ForLevel(ctx context.Context, levelID string) (*Availability, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	ok, err := a.scopes.LevelExists(ctx, levelID)
	if err != nil {
		return nil, storageError("check level", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return a.count(ctx, []string{levelID})
}

// ForDeck 整栋停车楼，按楼层分组
func (a *Aggregator) ForDeck(ctx context.Context, deckID string) (*Availability, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	levelIDs, ok, err := a.scopes.LevelIDsForDeck(ctx, deckID)
	if err != nil {
		return nil, storageError("list deck levels", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return a.count(ctx, levelIDs)
}

// count 单次分组查询，楼层无车位时补零
func (a *Aggregator) count(ctx context.Context, levelIDs []string) (*Availability, error) {
	out := &Availability{Levels: make([]models.LevelCount, 0, len(levelIDs))}
	if len(levelIDs) == 0 {
		return out, nil
	}

	counts, err := a.spots.CountByLevels(ctx, levelIDs)
	if err != nil {
		return nil, storageError("count spots", err)
	}

	byLevel := make(map[string]models.LevelCount, len(counts))
	for _, c := range counts {
		byLevel[c.LevelID] = c
	}
	for _, id := range levelIDs {
		c, ok := byLevel[id]
		if !ok {
			c = models.LevelCount{LevelID: id}
		}
		out.Free += c.Free
		out.Total += c.Total
		out.Levels = append(out.Levels, c)
	}
	return out, nil
}

func (a *Aggregator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}
