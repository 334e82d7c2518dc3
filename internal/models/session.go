package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSource 未知或不允许的会话来源
var ErrInvalidSource = errors.New("invalid source")

// SessionSource 会话来源
type SessionSource string

const (
	SourceManual      SessionSource = "manual"
	SourceQRScan      SessionSource = "qr-scan"
	SourceAdminToggle SessionSource = "admin-toggle"
)

// ParseSource 校验用户可提交的来源，admin-toggle 只能由管理路径产生
func ParseSource(raw string) (SessionSource, error) {
	switch SessionSource(raw) {
	case "":
		return SourceManual, nil
	case SourceManual, SourceQRScan:
		return SessionSource(raw), nil
	default:
		return "", fmt.Errorf("%w %q", ErrInvalidSource, raw)
	}
}

// Session 一次连续的占用区间
type Session struct {
	ID         int64         `json:"id" db:"id"`
	SpotID     SpotID        `json:"spot_id" db:"spot_id"`
	OccupantID string        `json:"occupant_id" db:"occupant_id"`
	StartedAt  time.Time     `json:"started_at" db:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	Source     SessionSource `json:"source" db:"source"`

	// 非持久化字段，查询活跃会话时联表带出
	SpotLabel string `json:"spot_label,omitempty" db:"-"`
}

// Active 会话是否仍在进行
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// ActiveSpot 用户当前占用的车位
type ActiveSpot struct {
	Session *Session `json:"session"`
	Spot    *Spot    `json:"spot"`
}
