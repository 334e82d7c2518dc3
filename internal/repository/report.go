package repository

import (
	"context"
	"fmt"

	"github.com/langchou/ezpark/internal/models"
)

// ReportRepository 车位状态上报仓库
type ReportRepository struct {
	db Querier
}

// NewReportRepository 创建上报仓库
func NewReportRepository(db Querier) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create 新建上报
func (r *ReportRepository) Create(ctx context.Context, report *models.SpotReport) error {
	query := `
		INSERT INTO spot_reports (spot_id, occupant_id, report_type, notes, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if report.Status == "" {
		report.Status = models.ReportPending
	}
	err := r.db.QueryRow(ctx, query,
		string(report.SpotID),
		report.OccupantID,
		report.ReportType,
		report.Notes,
		string(report.Status),
	).Scan(&report.ID, &report.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert spot report: %w", err)
	}
	return nil
}

// ListBySpot 车位的上报记录，最新在前
func (r *ReportRepository) ListBySpot(ctx context.Context, spotID models.SpotID, limit int) ([]*models.SpotReport, error) {
	query := `
		SELECT id, spot_id, occupant_id, report_type, notes, status, created_at
		FROM spot_reports
		WHERE spot_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, string(spotID), limit)
	if err != nil {
		return nil, fmt.Errorf("list spot reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.SpotReport
	for rows.Next() {
		var (
			rep        models.SpotReport
			id, status string
		)
		if err := rows.Scan(&rep.ID, &id, &rep.OccupantID, &rep.ReportType, &rep.Notes, &status, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan spot report: %w", err)
		}
		rep.SpotID = models.SpotID(id)
		rep.Status = models.ReportStatus(status)
		reports = append(reports, &rep)
	}
	return reports, rows.Err()
}
