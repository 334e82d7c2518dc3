package models

import "time"

// ReportStatus 上报处理状态
type ReportStatus string

const ReportPending ReportStatus = "pending"

// 上报类型
const (
	ReportOccupiedButFree = "occupied-to-available"
	ReportFreeButOccupied = "available-to-occupied"
)

// SpotReport 用户上报的车位状态错误
type SpotReport struct {
	ID         int64        `json:"id" db:"id"`
	SpotID     SpotID       `json:"spot_id" db:"spot_id"`
	OccupantID *string      `json:"occupant_id,omitempty" db:"occupant_id"`
	ReportType string       `json:"report_type" db:"report_type"`
	Notes      string       `json:"notes" db:"notes"`
	Status     ReportStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}
