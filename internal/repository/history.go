package repository

import (
	"context"
	"fmt"

	"github.com/langchou/ezpark/internal/models"
)

// HistoryRepository 状态变化历史仓库（只追加）
type HistoryRepository struct {
	db Querier
}

// NewHistoryRepository 创建历史仓库
func NewHistoryRepository(db Querier) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append 追加一条记录
func (r *HistoryRepository) Append(ctx context.Context, entry *models.StateHistoryEntry) error {
	query := `
		INSERT INTO spot_state_history (spot_id, state, reason, occupant_id, at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		string(entry.SpotID),
		string(entry.State),
		string(entry.Reason),
		entry.OccupantID,
		entry.At,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert state history: %w", err)
	}
	return nil
}

// ListBySpot 车位的状态历史，最新在前
func (r *HistoryRepository) ListBySpot(ctx context.Context, spotID models.SpotID, limit int) ([]*models.StateHistoryEntry, error) {
	query := `
		SELECT id, spot_id, state, reason, occupant_id, at
		FROM spot_state_history
		WHERE spot_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, string(spotID), limit)
	if err != nil {
		return nil, fmt.Errorf("list state history: %w", err)
	}
	defer rows.Close()

	var entries []*models.StateHistoryEntry
	for rows.Next() {
		var (
			e                 models.StateHistoryEntry
			id, state, reason string
		)
		if err := rows.Scan(&e.ID, &id, &state, &reason, &e.OccupantID, &e.At); err != nil {
			return nil, fmt.Errorf("scan state history: %w", err)
		}
		e.SpotID = models.SpotID(id)
		e.State = models.SpotState(state)
		e.Reason = models.TransitionReason(reason)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
