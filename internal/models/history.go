package models

import "time"

// TransitionReason 状态变化原因
type TransitionReason string

const (
	ReasonCheckIn      TransitionReason = "check-in"
	ReasonCheckOut     TransitionReason = "check-out"
	ReasonManualToggle TransitionReason = "manual-toggle"
)

// StateHistoryEntry 状态变化审计记录（只追加）
type StateHistoryEntry struct {
	ID         int64            `json:"id" db:"id"`
	SpotID     SpotID           `json:"spot_id" db:"spot_id"`
	State      SpotState        `json:"state" db:"state"`
	Reason     TransitionReason `json:"reason" db:"reason"`
	OccupantID *string          `json:"occupant_id,omitempty" db:"occupant_id"`
	At         time.Time        `json:"at" db:"at"`
}
