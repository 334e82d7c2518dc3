package occupancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/langchou/ezpark/internal/models"
)

var (
	// 冲突类错误：可恢复，带足够信息给调用方决策
	ErrNotFound               = errors.New("not found")
	ErrAlreadyOccupied        = errors.New("spot is already occupied")
	ErrOccupantAlreadyHasSpot = errors.New("occupant already holds a spot")
	ErrNotOwner               = errors.New("spot is held by another occupant")
	ErrNoActiveSession        = errors.New("no active session for this spot")
	ErrStateChanged           = errors.New("spot state changed concurrently")
	ErrOccupantBusy           = errors.New("another check-in for this occupant is in progress")

	// 存储类错误：不可本地恢复
	ErrStorageUnavailable = errors.New("storage unavailable")

	// 校验类错误：在访问存储之前拒绝
	ErrInvalidIdentifier = models.ErrInvalidIdentifier
	ErrInvalidSource     = models.ErrInvalidSource

	// ErrOccupantConstraint 存储层唯一约束（用户同时只能占一个车位）被触发时返回
	ErrOccupantConstraint = errors.New("occupant uniqueness constraint violated")
)

// OccupantHasSpotError 用户已占用其他车位，携带当前车位信息供前端提供"换车位"
type OccupantHasSpotError struct {
	SpotID models.SpotID
	Label  string
}

func (e *OccupantHasSpotError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrOccupantAlreadyHasSpot, e.SpotID, e.Label)
}

func (e *OccupantHasSpotError) Unwrap() error {
	return ErrOccupantAlreadyHasSpot
}

// IsConflict 预期内的业务冲突（不计入熔断失败）
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrAlreadyOccupied,
		ErrOccupantAlreadyHasSpot,
		ErrNotOwner,
		ErrNoActiveSession,
		ErrStateChanged,
		ErrOccupantBusy,
		ErrOccupantConstraint,
		ErrInvalidIdentifier,
		ErrInvalidSource,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storageError 非业务错误统一包装为 ErrStorageUnavailable
func storageError(op string, err error) error {
	if err == nil || IsConflict(err) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
