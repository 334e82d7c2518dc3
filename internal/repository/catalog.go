package repository

import (
	"context"
	"fmt"

	"github.com/langchou/ezpark/internal/models"
	"github.com/langchou/ezpark/internal/occupancy"
)

// CatalogRepository 停车楼 / 楼层目录
type CatalogRepository struct {
	db Querier
}

// NewCatalogRepository 创建目录仓库
func NewCatalogRepository(db Querier) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListDecks 全部停车楼
func (r *CatalogRepository) ListDecks(ctx context.Context) ([]*models.Deck, error) {
	query := `
		SELECT id, building_code, name, address, latitude, longitude, total_spaces
		FROM decks ORDER BY name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	defer rows.Close()

	var decks []*models.Deck
	for rows.Next() {
		deck, err := scanDeck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deck: %w", err)
		}
		decks = append(decks, deck)
	}
	return decks, rows.Err()
}

// GetDeck 按 ID 或楼栋编号获取停车楼
func (r *CatalogRepository) GetDeck(ctx context.Context, idOrCode string) (*models.Deck, error) {
	query := `
		SELECT id, building_code, name, address, latitude, longitude, total_spaces
		FROM decks WHERE id = $1 OR building_code = $1
		ORDER BY (id = $1) DESC
		LIMIT 1
	`
	deck, err := scanDeck(r.db.QueryRow(ctx, query, idOrCode))
	if err != nil {
		if notFound(err) {
			return nil, occupancy.ErrNotFound
		}
		return nil, fmt.Errorf("get deck: %w", err)
	}
	return deck, nil
}

// ListLevels 楼层列表，deckID 为空时返回全部
func (r *CatalogRepository) ListLevels(ctx context.Context, deckID string) ([]*models.Level, error) {
	query := `
		SELECT id, deck_id, number, idx, name
		FROM levels
		WHERE $1 = '' OR deck_id = $1
		ORDER BY deck_id, idx, number
	`
	rows, err := r.db.Query(ctx, query, deckID)
	if err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	defer rows.Close()

	var levels []*models.Level
	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// GetLevel 获取楼层
func (r *CatalogRepository) GetLevel(ctx context.Context, id string) (*models.Level, error) {
	query := `SELECT id, deck_id, number, idx, name FROM levels WHERE id = $1`

	level, err := scanLevel(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if notFound(err) {
			return nil, occupancy.ErrNotFound
		}
		return nil, fmt.Errorf("get level: %w", err)
	}
	return level, nil
}

// LevelExists 楼层是否存在
func (r *CatalogRepository) LevelExists(ctx context.Context, levelID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM levels WHERE id = $1)`, levelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check level: %w", err)
	}
	return exists, nil
}

// LevelIDsForDeck 停车楼的楼层 ID；第二个返回值表示停车楼是否存在
func (r *CatalogRepository) LevelIDsForDeck(ctx context.Context, deckID string) ([]string, bool, error) {
	query := `
		SELECT l.id
		FROM decks d
		LEFT JOIN levels l ON l.deck_id = d.id
		WHERE d.id = $1
		ORDER BY l.idx, l.number
	`
	rows, err := r.db.Query(ctx, query, deckID)
	if err != nil {
		return nil, false, fmt.Errorf("list deck levels: %w", err)
	}
	defer rows.Close()

	var (
		ids   []string
		found bool
	)
	for rows.Next() {
		found = true
		var id *string
		if err := rows.Scan(&id); err != nil {
			return nil, false, fmt.Errorf("scan level id: %w", err)
		}
		if id != nil {
			ids = append(ids, *id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return ids, found, nil
}

// ResolveNumbered 二维码中的 楼栋编号 / 楼层编号 / 车位编号 解析为车位 ID
func (r *CatalogRepository) ResolveNumbered(ctx context.Context, deck string, levelNumber, spotNumber int) (models.SpotID, error) {
	query := `
		SELECT sp.id
		FROM spots sp
		JOIN levels l ON l.id = sp.level_id
		JOIN decks d ON d.id = l.deck_id
		WHERE (d.building_code = $1 OR d.id = $1) AND l.number = $2 AND sp.number = $3
		LIMIT 1
	`
	var id string
	if err := r.db.QueryRow(ctx, query, deck, levelNumber, spotNumber).Scan(&id); err != nil {
		if notFound(err) {
			return "", occupancy.ErrNotFound
		}
		return "", fmt.Errorf("resolve numbered spot: %w", err)
	}
	return models.SpotID(id), nil
}

// ResolveLabel 旧版二维码（仅车位标签，如 L1-001）解析为车位 ID，大小写不敏感
func (r *CatalogRepository) ResolveLabel(ctx context.Context, label string) (models.SpotID, error) {
	query := `
		SELECT sp.id
		FROM spots sp
		JOIN levels l ON l.id = sp.level_id
		WHERE upper(sp.label) = upper($1)
		ORDER BY l.deck_id, l.idx, sp.number
		LIMIT 1
	`
	var id string
	if err := r.db.QueryRow(ctx, query, label).Scan(&id); err != nil {
		if notFound(err) {
			return "", occupancy.ErrNotFound
		}
		return "", fmt.Errorf("resolve spot label: %w", err)
	}
	return models.SpotID(id), nil
}

// UpsertDeck 导入停车楼
func (r *CatalogRepository) UpsertDeck(ctx context.Context, deck *models.Deck) error {
	query := `
		INSERT INTO decks (id, building_code, name, address, latitude, longitude, total_spaces)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			building_code = EXCLUDED.building_code,
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			total_spaces = EXCLUDED.total_spaces
	`
	_, err := r.db.Exec(ctx, query,
		deck.ID, deck.BuildingCode, deck.Name, deck.Address,
		deck.Latitude, deck.Longitude, deck.TotalSpaces,
	)
	if err != nil {
		return fmt.Errorf("upsert deck: %w", err)
	}
	return nil
}

// UpsertLevel 导入楼层
func (r *CatalogRepository) UpsertLevel(ctx context.Context, level *models.Level) error {
	query := `
		INSERT INTO levels (id, deck_id, number, idx, name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			deck_id = EXCLUDED.deck_id,
			number = EXCLUDED.number,
			idx = EXCLUDED.idx,
			name = EXCLUDED.name
	`
	_, err := r.db.Exec(ctx, query, level.ID, level.DeckID, level.Number, level.Index, level.Name)
	if err != nil {
		return fmt.Errorf("upsert level: %w", err)
	}
	return nil
}

func scanDeck(row scanner) (*models.Deck, error) {
	var d models.Deck
	if err := row.Scan(&d.ID, &d.BuildingCode, &d.Name, &d.Address, &d.Latitude, &d.Longitude, &d.TotalSpaces); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanLevel(row scanner) (*models.Level, error) {
	var l models.Level
	if err := row.Scan(&l.ID, &l.DeckID, &l.Number, &l.Index, &l.Name); err != nil {
		return nil, err
	}
	return &l, nil
}
