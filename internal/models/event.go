package models

import "time"

// SpotStateChanged 车位状态变化领域事件
type SpotStateChanged struct {
	Seq        uint64           `json:"seq,omitempty"` // 由变更订阅方分配
	SpotID     SpotID           `json:"spot_id"`
	LevelID    string           `json:"level_id"`
	State      SpotState        `json:"state"`
	Reason     TransitionReason `json:"reason"`
	OccupantID *string          `json:"occupant_id,omitempty"`
	At         time.Time        `json:"at"`
}
