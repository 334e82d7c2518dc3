package occupancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/metrics"
	"github.com/langchou/ezpark/internal/models"
	"github.com/langchou/ezpark/internal/state"
)

// maxToggleAttempts 管理员切换在并发冲突时的重试次数
const maxToggleAttempts = 3

// ErrCommitUnknown 事务提交结果未知（连接在提交时断开）
var ErrCommitUnknown = errors.New("transaction commit outcome unknown")

// Manager 车位占用管理
type Manager struct {
	stores  Stores
	tx      Transactor
	locker  OccupantLocker
	pub     Publisher
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// Option 可选配置
type Option func(*Manager)

// WithLocker 设置用户锁
func WithLocker(l OccupantLocker) Option {
	return func(m *Manager) { m.locker = l }
}

// WithPublisher 设置事件发布
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.pub = p }
}

// WithTimeout 设置单次操作的存储超时
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 创建占用管理器
func NewManager(stores Stores, tx Transactor, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		stores: stores,
		tx:     tx,
		locker: nopLocker{},
		pub:    nopPublisher{},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckIn 用户占用车位
func (m *Manager) CheckIn(ctx context.Context, spotID models.SpotID, occupantID string, source models.SessionSource) (spot *models.Spot, err error) {
	defer m.observe("check_in", time.Now(), &err)

	if source != models.SourceManual && source != models.SourceQRScan {
		return nil, ErrInvalidSource
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	unlock, err := m.locker.Lock(ctx, occupantID)
	if err != nil {
		return nil, storageError("lock occupant", err)
	}
	defer unlock()

	spot, err = m.stores.Spots.GetByID(ctx, spotID)
	if err != nil {
		return nil, storageError("get spot", err)
	}

	machine := m.machine(spot)
	if !machine.Can(state.EventCheckIn) {
		m.conflict("already_occupied")
		return nil, ErrAlreadyOccupied
	}

	held, err := m.stores.Sessions.FindActiveForOccupant(ctx, occupantID)
	if err != nil {
		return nil, storageError("find occupant session", err)
	}
	var stale *models.Session
	if held != nil && held.SpotID != spot.ID {
		holds, err := m.holdsSessionSpot(ctx, held, occupantID)
		if err != nil {
			return nil, err
		}
		if holds {
			m.conflict("occupant_has_spot")
			return nil, &OccupantHasSpotError{SpotID: held.SpotID, Label: held.SpotLabel}
		}
		stale = held
	}

	now := m.now()
	err = m.tx.InTx(ctx, func(ctx context.Context, s Stores) error {
		if stale != nil {
			if err := m.closeStale(ctx, s, stale, occupantID, now); err != nil {
				return err
			}
		}
		return m.occupy(ctx, s, spot, occupantID, source, models.ReasonCheckIn, now)
	})
	if err != nil {
		return nil, m.checkInFailure(ctx, spot.ID, occupantID, err)
	}

	m.commit(ctx, machine, state.EventCheckIn, spot, &occupantID, models.ReasonCheckIn, now)
	return occupied(spot, occupantID, now), nil
}

// CheckOut 用户释放车位
func (m *Manager) CheckOut(ctx context.Context, spotID models.SpotID, occupantID string) (spot *models.Spot, err error) {
	defer m.observe("check_out", time.Now(), &err)

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	spot, err = m.stores.Spots.GetByID(ctx, spotID)
	if err != nil {
		return nil, storageError("get spot", err)
	}

	if spot.Occupant == nil {
		// 已空闲：重复签出无副作用
		m.conflict("no_active_session")
		return nil, ErrNoActiveSession
	}
	if !spot.IsHeldBy(occupantID) {
		m.conflict("not_owner")
		return nil, ErrNotOwner
	}

	session, err := m.stores.Sessions.FindActive(ctx, spot.ID, occupantID)
	if err != nil {
		return nil, storageError("find session", err)
	}
	if session == nil {
		m.logger.Error("Occupied spot has no open session",
			zap.String("spot_id", spot.ID.String()),
			zap.String("occupant_id", occupantID))
		metrics.RecordInconsistency()
		m.conflict("no_active_session")
		return nil, ErrNoActiveSession
	}

	machine := m.machine(spot)
	if !machine.Can(state.EventCheckOut) {
		return nil, ErrNoActiveSession
	}

	now := m.now()
	err = m.tx.InTx(ctx, func(ctx context.Context, s Stores) error {
		return m.release(ctx, s, spot, occupantID, models.ReasonCheckOut, now, false)
	})
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			m.conflict("not_owner")
			return nil, ErrNotOwner
		}
		return nil, m.writeFailure(spot.ID, "check out", err)
	}

	m.commit(ctx, machine, state.EventCheckOut, spot, &occupantID, models.ReasonCheckOut, now)
	return freed(spot), nil
}

// AdminToggle 管理员强制切换车位状态
//
// 不检查归属与单车位约束；占用时使用合成用户 models.AdminOccupant。
func (m *Manager) AdminToggle(ctx context.Context, spotID models.SpotID) (spot *models.Spot, err error) {
	defer m.observe("toggle", time.Now(), &err)

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	for attempt := 1; attempt <= maxToggleAttempts; attempt++ {
		spot, err = m.stores.Spots.GetByID(ctx, spotID)
		if err != nil {
			return nil, storageError("get spot", err)
		}

		machine := m.machine(spot)
		target, err := machine.Plan(state.EventToggle)
		if err != nil {
			return nil, fmt.Errorf("plan toggle: %w", err)
		}

		now := m.now()
		var freedOccupant *string
		err = m.tx.InTx(ctx, func(ctx context.Context, s Stores) error {
			if target == models.SpotOccupied {
				return m.occupy(ctx, s, spot, models.AdminOccupant, models.SourceAdminToggle, models.ReasonManualToggle, now)
			}
			freedOccupant = spot.Occupant
			return m.release(ctx, s, spot, *spot.Occupant, models.ReasonManualToggle, now, true)
		})
		if errors.Is(err, ErrAlreadyOccupied) || errors.Is(err, ErrStateChanged) {
			m.logger.Debug("Toggle lost a race, retrying",
				zap.String("spot_id", spot.ID.String()),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, m.writeFailure(spot.ID, "toggle", err)
		}

		if target == models.SpotOccupied {
			admin := models.AdminOccupant
			m.commit(ctx, machine, state.EventToggle, spot, &admin, models.ReasonManualToggle, now)
			return occupied(spot, admin, now), nil
		}
		m.commit(ctx, machine, state.EventToggle, spot, freedOccupant, models.ReasonManualToggle, now)
		return freed(spot), nil
	}

	m.conflict("state_changed")
	return nil, ErrStateChanged
}

// SwitchSpot 用户从当前车位换到另一个车位（单事务）
func (m *Manager) SwitchSpot(ctx context.Context, toSpotID models.SpotID, occupantID string, source models.SessionSource) (spot *models.Spot, err error) {
	defer m.observe("switch", time.Now(), &err)

	if source != models.SourceManual && source != models.SourceQRScan {
		return nil, ErrInvalidSource
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	unlock, err := m.locker.Lock(ctx, occupantID)
	if err != nil {
		return nil, storageError("lock occupant", err)
	}
	defer unlock()

	target, err := m.stores.Spots.GetByID(ctx, toSpotID)
	if err != nil {
		return nil, storageError("get spot", err)
	}
	if target.IsHeldBy(occupantID) {
		return target, nil
	}
	if target.Occupant != nil {
		m.conflict("already_occupied")
		return nil, ErrAlreadyOccupied
	}

	held, err := m.stores.Sessions.FindActiveForOccupant(ctx, occupantID)
	if err != nil {
		return nil, storageError("find occupant session", err)
	}
	if held == nil {
		m.conflict("no_active_session")
		return nil, ErrNoActiveSession
	}

	from, err := m.stores.Spots.GetByID(ctx, held.SpotID)
	if err != nil {
		return nil, storageError("get current spot", err)
	}
	// 会话残留在已不归该用户的车位上：关闭残留会话后按签到处理
	holds := from.IsHeldBy(occupantID)

	fromMachine, toMachine := m.machine(from), m.machine(target)
	now := m.now()
	err = m.tx.InTx(ctx, func(ctx context.Context, s Stores) error {
		if !holds {
			if err := m.closeStale(ctx, s, held, occupantID, now); err != nil {
				return err
			}
		} else if err := m.release(ctx, s, from, occupantID, models.ReasonCheckOut, now, false); err != nil {
			return err
		}
		return m.occupy(ctx, s, target, occupantID, source, models.ReasonCheckIn, now)
	})
	if err != nil {
		if errors.Is(err, ErrStateChanged) {
			m.conflict("not_owner")
			return nil, ErrNotOwner
		}
		return nil, m.checkInFailure(ctx, target.ID, occupantID, err)
	}

	if holds {
		m.commit(ctx, fromMachine, state.EventCheckOut, from, &occupantID, models.ReasonCheckOut, now)
	}
	m.commit(ctx, toMachine, state.EventCheckIn, target, &occupantID, models.ReasonCheckIn, now)
	return occupied(target, occupantID, now), nil
}

// Current 用户当前占用的车位，没有时返回 nil
func (m *Manager) Current(ctx context.Context, occupantID string) (*models.ActiveSpot, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	session, err := m.stores.Sessions.FindActiveForOccupant(ctx, occupantID)
	if err != nil {
		return nil, storageError("find occupant session", err)
	}
	if session == nil {
		return nil, nil
	}

	spot, err := m.stores.Spots.GetByID(ctx, session.SpotID)
	if err != nil {
		return nil, storageError("get spot", err)
	}
	return &models.ActiveSpot{Session: session, Spot: spot}, nil
}

// occupy 条件写入占用 + 打开会话 + 追加历史
func (m *Manager) occupy(ctx context.Context, s Stores, spot *models.Spot, occupantID string, source models.SessionSource, reason models.TransitionReason, now time.Time) error {
	ok, err := s.Spots.CompareAndSetOccupancy(ctx, spot.ID, nil, &occupantID, &now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyOccupied
	}

	// 车位刚从空闲写为占用，此时仍开着的会话都是残留
	stale, err := s.Sessions.CloseAnyActive(ctx, spot.ID, now)
	if err != nil {
		return err
	}
	if stale != nil {
		m.logger.Warn("Closed stale session on free spot",
			zap.String("spot_id", spot.ID.String()),
			zap.String("occupant_id", stale.OccupantID),
			zap.Int64("session_id", stale.ID))
		metrics.RecordInconsistency()
	}

	if _, err := s.Sessions.Open(ctx, spot.ID, occupantID, source, now); err != nil {
		return err
	}

	return s.History.Append(ctx, &models.StateHistoryEntry{
		SpotID:     spot.ID,
		State:      models.SpotOccupied,
		Reason:     reason,
		OccupantID: &occupantID,
		At:         now,
	})
}

// release 条件清除占用 + 关闭会话 + 追加历史
func (m *Manager) release(ctx context.Context, s Stores, spot *models.Spot, occupantID string, reason models.TransitionReason, now time.Time, anySession bool) error {
	ok, err := s.Spots.CompareAndSetOccupancy(ctx, spot.ID, &occupantID, nil, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateChanged
	}

	if anySession {
		if _, err := s.Sessions.CloseAnyActive(ctx, spot.ID, now); err != nil {
			return err
		}
	} else if _, err := s.Sessions.CloseActive(ctx, spot.ID, occupantID, now); err != nil {
		return err
	}

	return s.History.Append(ctx, &models.StateHistoryEntry{
		SpotID:     spot.ID,
		State:      models.SpotFree,
		Reason:     reason,
		OccupantID: &occupantID,
		At:         now,
	})
}

// holdsSessionSpot 用户的开放会话所在车位是否仍由该用户占用
func (m *Manager) holdsSessionSpot(ctx context.Context, held *models.Session, occupantID string) (bool, error) {
	spot, err := m.stores.Spots.GetByID(ctx, held.SpotID)
	if err != nil {
		return false, storageError("get current spot", err)
	}
	return spot.IsHeldBy(occupantID), nil
}

// closeStale 关闭用户在其他空闲车位上的残留会话
func (m *Manager) closeStale(ctx context.Context, s Stores, held *models.Session, occupantID string, now time.Time) error {
	if _, err := s.Sessions.CloseActive(ctx, held.SpotID, occupantID, now); err != nil && !errors.Is(err, ErrNoActiveSession) {
		return err
	}
	m.logger.Warn("Closed stale session of occupant",
		zap.String("spot_id", held.SpotID.String()),
		zap.String("occupant_id", occupantID),
		zap.Int64("session_id", held.ID))
	metrics.RecordInconsistency()
	return nil
}

// checkInFailure 将签到写入失败映射为领域错误
func (m *Manager) checkInFailure(ctx context.Context, spotID models.SpotID, occupantID string, err error) error {
	switch {
	case errors.Is(err, ErrAlreadyOccupied):
		m.conflict("already_occupied")
		return ErrAlreadyOccupied
	case errors.Is(err, ErrOccupantConstraint):
		m.conflict("occupant_has_spot")
		held, lookupErr := m.stores.Sessions.FindActiveForOccupant(ctx, occupantID)
		if lookupErr != nil || held == nil {
			return fmt.Errorf("%w: concurrent check-in", ErrOccupantAlreadyHasSpot)
		}
		return &OccupantHasSpotError{SpotID: held.SpotID, Label: held.SpotLabel}
	}
	return m.writeFailure(spotID, "check in", err)
}

// writeFailure 记录存储失败；提交结果未知时按不一致处理
func (m *Manager) writeFailure(spotID models.SpotID, op string, err error) error {
	if IsConflict(err) {
		return err
	}
	if errors.Is(err, ErrCommitUnknown) {
		m.logger.Error("Occupancy write outcome unknown, spot needs reconciliation",
			zap.String("spot_id", spotID.String()),
			zap.String("operation", op),
			zap.Error(err))
		metrics.RecordInconsistency()
	} else {
		m.logger.Warn("Occupancy write failed",
			zap.String("spot_id", spotID.String()),
			zap.String("operation", op),
			zap.Error(err))
	}
	return storageError(op, err)
}

// commit 写入成功后推进状态机、发布事件、记录指标
func (m *Manager) commit(ctx context.Context, machine *state.Machine, event string, spot *models.Spot, occupantID *string, reason models.TransitionReason, at time.Time) {
	if err := machine.Trigger(ctx, event); err != nil {
		m.logger.Warn("State machine rejected committed transition", zap.Error(err))
	}

	next := machine.Current()
	metrics.RecordTransition(string(reason), string(next))

	ev := models.SpotStateChanged{
		SpotID:     spot.ID,
		LevelID:    spot.LevelID,
		State:      next,
		Reason:     reason,
		OccupantID: occupantID,
		At:         at,
	}
	// 事件发布失败不影响已提交的状态
	err := m.pub.PublishStateChanged(context.WithoutCancel(ctx), ev)
	metrics.RecordPublish(err)
	if err != nil {
		m.logger.Warn("Failed to publish spot state change",
			zap.String("spot_id", spot.ID.String()),
			zap.Error(err))
	}
}

func (m *Manager) machine(spot *models.Spot) *state.Machine {
	return state.NewMachine(spot.ID, spot.State(), m.onTransition)
}

func (m *Manager) onTransition(t state.Transition) {
	m.logger.Info("Spot state changed",
		zap.String("spot_id", t.SpotID.String()),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("event", t.Event))
}

func (m *Manager) conflict(kind string) {
	metrics.RecordConflict(kind)
}

func (m *Manager) observe(op string, start time.Time, err *error) {
	metrics.ObserveOperation(op, start, *err)
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func occupied(spot *models.Spot, occupantID string, at time.Time) *models.Spot {
	out := *spot
	out.Occupant = &occupantID
	out.OccupiedAt = &at
	return &out
}

func freed(spot *models.Spot) *models.Spot {
	out := *spot
	out.Occupant = nil
	out.OccupiedAt = nil
	return &out
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type nopPublisher struct{}

func (nopPublisher) PublishStateChanged(context.Context, models.SpotStateChanged) error { return nil }
