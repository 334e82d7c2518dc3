package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AdminOccupant 管理员手动切换时使用的虚拟占用者
const AdminOccupant = "<admin>"

// SpotState 车位占用状态
type SpotState string

const (
	SpotFree     SpotState = "free"
	SpotOccupied SpotState = "occupied"
)

// SpotCategory 车位类型
type SpotCategory string

const (
	CategoryStandard   SpotCategory = "standard"
	CategoryEV         SpotCategory = "ev"
	CategoryAccessible SpotCategory = "accessible"
)

// ParseCategory 兼容导入数据中的 "EV" / "ADA" 写法
func ParseCategory(raw string) SpotCategory {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ev", "electric", "electric-vehicle":
		return CategoryEV
	case "ada", "accessible", "handicap":
		return CategoryAccessible
	default:
		return CategoryStandard
	}
}

// Spot 车位
type Spot struct {
	ID         SpotID       `json:"id" db:"id"`
	LevelID    string       `json:"level_id" db:"level_id"`
	Label      string       `json:"label" db:"label"`
	Number     int          `json:"number" db:"number"` // 楼层内的数字编号（二维码使用）
	Category   SpotCategory `json:"category" db:"category"`
	Occupant   *string      `json:"occupant,omitempty" db:"occupant"`
	OccupiedAt *time.Time   `json:"occupied_at,omitempty" db:"occupied_at"`
}

// State 根据占用字段推导状态
func (s *Spot) State() SpotState {
	if s.Occupant != nil {
		return SpotOccupied
	}
	return SpotFree
}

// IsHeldBy 是否被指定用户占用
func (s *Spot) IsHeldBy(occupantID string) bool {
	return s.Occupant != nil && *s.Occupant == occupantID
}

// Validate 校验占用字段一致性：occupant 与 occupied_at 同时为空或同时非空
func (s *Spot) Validate() error {
	if (s.Occupant == nil) != (s.OccupiedAt == nil) {
		return fmt.Errorf("spot %s: occupant and occupied_at disagree", s.ID)
	}
	if s.Label == "" || s.LevelID == "" {
		return errors.New("spot: label and level are required")
	}
	return nil
}

// SpotView 返回给前端的车位视图
type SpotView struct {
	*Spot
	State SpotState `json:"state"`
}

// View 构造视图
func (s *Spot) View() SpotView {
	return SpotView{Spot: s, State: s.State()}
}

// LevelCount 单个楼层的空闲 / 总数统计
type LevelCount struct {
	LevelID string `json:"level_id"`
	Free    int    `json:"free"`
	Total   int    `json:"total"`
}

// Inconsistency 占用字段与会话不一致的车位
type Inconsistency struct {
	SpotID      SpotID  `json:"spot_id"`
	Occupant    *string `json:"occupant,omitempty"`
	OpenSession *int64  `json:"open_session,omitempty"`
	Kind        string  `json:"kind"`
}
