package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/metrics"
	"github.com/langchou/ezpark/internal/occupancy"
)

// BreakerConfig 写路径熔断配置
type BreakerConfig struct {
	Failures uint32        // 连续失败多少次后熔断
	Timeout  time.Duration // 熔断后多久进入半开
}

// Store 占用存储：普通读写直接走连接池，签到 / 签出写入在单个事务内完成
type Store struct {
	db      TxBeginner
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *zap.Logger
}

// NewStore 创建存储
func NewStore(db TxBeginner, cfg BreakerConfig, logger *zap.Logger) *Store {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	s := &Store{db: db, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "occupancy-store",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			// 业务冲突说明存储工作正常
			return err == nil || occupancy.IsConflict(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Store circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.BreakerState.Set(float64(to))
		},
	})
	return s
}

// Stores 绑定到连接池的存储
func (s *Store) Stores() occupancy.Stores {
	return bind(s.db)
}

// InTx 在事务中执行 fn，fn 返回错误时回滚
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, st occupancy.Stores) error) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.inTx(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", occupancy.ErrStorageUnavailable, err)
	}
	return err
}

func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, st occupancy.Stores) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ctx, bind(tx)); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w: %w", occupancy.ErrCommitUnknown, err)
	}
	return nil
}

func bind(q Querier) occupancy.Stores {
	return occupancy.Stores{
		Spots:    NewSpotRepository(q),
		Sessions: NewSessionRepository(q),
		History:  NewHistoryRepository(q),
	}
}
