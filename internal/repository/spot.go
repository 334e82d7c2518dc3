package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/ezpark/internal/models"
	"github.com/langchou/ezpark/internal/occupancy"
)

const spotColumns = `id, level_id, label, number, category, occupant, occupied_at`

// SpotRepository 车位仓库
type SpotRepository struct {
	db Querier
}

// NewSpotRepository 创建车位仓库
func NewSpotRepository(db Querier) *SpotRepository {
	return &SpotRepository{db: db}
}

// GetByID 获取车位
func (r *SpotRepository) GetByID(ctx context.Context, id models.SpotID) (*models.Spot, error) {
	query := `SELECT ` + spotColumns + ` FROM spots WHERE id = $1`

	spot, err := scanSpot(r.db.QueryRow(ctx, query, string(id)))
	if err != nil {
		if notFound(err) {
			return nil, occupancy.ErrNotFound
		}
		return nil, fmt.Errorf("get spot by id: %w", err)
	}
	return spot, nil
}

// CompareAndSetOccupancy 仅当 occupant 仍等于 expected 时写入 next
func (r *SpotRepository) CompareAndSetOccupancy(ctx context.Context, id models.SpotID, expected, next *string, at *time.Time) (bool, error) {
	query := `
		UPDATE spots SET occupant = $2, occupied_at = $3
		WHERE id = $1 AND occupant IS NOT DISTINCT FROM $4
	`
	if next == nil {
		at = nil
	}

	tag, err := r.db.Exec(ctx, query, string(id), next, at, expected)
	if err != nil {
		if conflict := occupancyConflict(err); conflict != nil {
			return false, conflict
		}
		return false, fmt.Errorf("compare and set occupancy: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByLevel 楼层内全部车位
func (r *SpotRepository) ListByLevel(ctx context.Context, levelID string) ([]*models.Spot, error) {
	query := `SELECT ` + spotColumns + ` FROM spots WHERE level_id = $1 ORDER BY number, label`

	rows, err := r.db.Query(ctx, query, levelID)
	if err != nil {
		return nil, fmt.Errorf("list spots by level: %w", err)
	}
	defer rows.Close()

	var spots []*models.Spot
	for rows.Next() {
		spot, err := scanSpot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan spot: %w", err)
		}
		spots = append(spots, spot)
	}
	return spots, rows.Err()
}

// CountByLevels 单条分组查询统计各楼层空闲 / 总数
func (r *SpotRepository) CountByLevels(ctx context.Context, levelIDs []string) ([]models.LevelCount, error) {
	query := `
		SELECT level_id,
			COUNT(*) FILTER (WHERE occupant IS NULL) AS free,
			COUNT(*) AS total
		FROM spots
		WHERE level_id = ANY($1)
		GROUP BY level_id
		ORDER BY level_id
	`
	rows, err := r.db.Query(ctx, query, levelIDs)
	if err != nil {
		return nil, fmt.Errorf("count spots by level: %w", err)
	}
	defer rows.Close()

	var counts []models.LevelCount
	for rows.Next() {
		var c models.LevelCount
		if err := rows.Scan(&c.LevelID, &c.Free, &c.Total); err != nil {
			return nil, fmt.Errorf("scan level count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Upsert 导入车位，已存在时只更新描述字段，不触碰占用状态
func (r *SpotRepository) Upsert(ctx context.Context, spot *models.Spot) error {
	query := `
		INSERT INTO spots (id, level_id, label, number, category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			level_id = EXCLUDED.level_id,
			label = EXCLUDED.label,
			number = EXCLUDED.number,
			category = EXCLUDED.category
	`
	_, err := r.db.Exec(ctx, query, string(spot.ID), spot.LevelID, spot.Label, spot.Number, string(spot.Category))
	if err != nil {
		return fmt.Errorf("upsert spot: %w", err)
	}
	return nil
}

// FindInconsistent 查找"占用但无会话"与"空闲但有会话"的车位
func (r *SpotRepository) FindInconsistent(ctx context.Context) ([]models.Inconsistency, error) {
	query := `
		SELECT sp.id, sp.occupant, ss.id,
			CASE WHEN sp.occupant IS NULL THEN 'open_session_on_free_spot'
			     WHEN ss.id IS NULL THEN 'occupied_without_session'
			     ELSE 'session_occupant_mismatch' END AS kind
		FROM spots sp
		LEFT JOIN spot_sessions ss ON ss.spot_id = sp.id AND ss.ended_at IS NULL
		WHERE (sp.occupant IS NULL AND ss.id IS NOT NULL)
		   OR (sp.occupant IS NOT NULL AND ss.id IS NULL)
		   OR (sp.occupant IS NOT NULL AND ss.occupant_id <> sp.occupant)
		ORDER BY sp.id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find inconsistent spots: %w", err)
	}
	defer rows.Close()

	var out []models.Inconsistency
	for rows.Next() {
		var (
			inc models.Inconsistency
			id  string
		)
		if err := rows.Scan(&id, &inc.Occupant, &inc.OpenSession, &inc.Kind); err != nil {
			return nil, fmt.Errorf("scan inconsistency: %w", err)
		}
		inc.SpotID = models.SpotID(id)
		out = append(out, inc)
	}
	return out, rows.Err()
}

func scanSpot(row scanner) (*models.Spot, error) {
	var (
		spot     models.Spot
		id       string
		category string
	)
	if err := row.Scan(&id, &spot.LevelID, &spot.Label, &spot.Number, &category, &spot.Occupant, &spot.OccupiedAt); err != nil {
		return nil, err
	}
	spot.ID = models.SpotID(id)
	spot.Category = models.SpotCategory(category)
	return &spot, nil
}
