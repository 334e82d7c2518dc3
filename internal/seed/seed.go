// Package seed 从 JSON 文件导入停车楼、楼层和车位目录
package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/models"
)

// 导入文件名
const (
	DecksFile  = "decks.json"
	LevelsFile = "levels.json"
	SpotsFile  = "spots.json"
)

// Sink 导入目标
type Sink interface {
	UpsertDeck(ctx context.Context, deck *models.Deck) error
	UpsertLevel(ctx context.Context, level *models.Level) error
	UpsertSpot(ctx context.Context, spot *models.Spot) error
}

// Data 解析后的目录数据
type Data struct {
	Decks  []*models.Deck
	Levels []*models.Level
	Spots  []*models.Spot
}

// Result 导入统计
type Result struct {
	Decks   int
	Levels  int
	Spots   int
	Skipped int
}

// number 兼容字符串和数字两种写法
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*n = number(f)
	return nil
}

type deckRecord struct {
	ID           string `json:"_id"`
	BuildingCode string `json:"building-code"`
	Name         string `json:"name"`
	BuildingName string `json:"building-name"`
	Address      string `json:"address"`
	Address1     string `json:"ADDRESS1"`
	City         string `json:"CITY_ID"`
	State        string `json:"STATE_ID"`
	Zip          string `json:"ZIP"`
	Latitude     number `json:"latitude"`
	Longitude    number `json:"longitude"`
	TotalSpaces  number `json:"total-spaces"`
}

type levelRecord struct {
	ID     string  `json:"_id"`
	AltID  string  `json:"id"`
	DeckID string  `json:"deckId"`
	Index  int     `json:"index"`
	Number *number `json:"number"`
	Name   string  `json:"name"`
}

type spotRecord struct {
	ID      string  `json:"_id"`
	LevelID string  `json:"levelId"`
	Label   string  `json:"label"`
	Type    string  `json:"type"`
	Number  *number `json:"number"`
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// Load 读取目录下的 decks.json / levels.json / spots.json
func Load(dir string, logger *zap.Logger) (*Data, error) {
	var (
		decks  []deckRecord
		levels []levelRecord
		spots  []spotRecord
	)
	if err := readJSON(filepath.Join(dir, DecksFile), &decks); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, LevelsFile), &levels); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, SpotsFile), &spots); err != nil {
		return nil, err
	}

	data := &Data{}
	seenDecks := make(map[string]bool)
	for _, r := range decks {
		d, err := r.deck()
		if err != nil {
			return nil, err
		}
		// 同名停车楼只保留第一条
		if seenDecks[d.ID] || seenDecks["name:"+d.Name] {
			logger.Warn("Skipping duplicate deck", zap.String("deck_id", d.ID), zap.String("name", d.Name))
			continue
		}
		seenDecks[d.ID], seenDecks["name:"+d.Name] = true, true
		data.Decks = append(data.Decks, d)
	}

	for _, r := range levels {
		l, err := r.level()
		if err != nil {
			return nil, err
		}
		data.Levels = append(data.Levels, l)
	}

	seenSpots := make(map[models.SpotID]bool)
	for _, r := range spots {
		s, err := r.spot()
		if err != nil {
			return nil, err
		}
		if seenSpots[s.ID] {
			logger.Warn("Skipping duplicate spot", zap.String("spot_id", s.ID.String()))
			continue
		}
		seenSpots[s.ID] = true
		data.Spots = append(data.Spots, s)
	}

	return data, nil
}

// Import 按 停车楼 → 楼层 → 车位 顺序写入，引用不存在的上级时跳过
func Import(ctx context.Context, sink Sink, data *Data, logger *zap.Logger) (Result, error) {
	var res Result

	decks := make(map[string]bool, len(data.Decks))
	for _, d := range data.Decks {
		if err := sink.UpsertDeck(ctx, d); err != nil {
			return res, fmt.Errorf("import deck %s: %w", d.ID, err)
		}
		decks[d.ID] = true
		res.Decks++
	}

	levels := make(map[string]bool, len(data.Levels))
	for _, l := range data.Levels {
		if !decks[l.DeckID] {
			logger.Warn("Skipping level with unknown deck", zap.String("level_id", l.ID), zap.String("deck_id", l.DeckID))
			res.Skipped++
			continue
		}
		if err := sink.UpsertLevel(ctx, l); err != nil {
			return res, fmt.Errorf("import level %s: %w", l.ID, err)
		}
		levels[l.ID] = true
		res.Levels++
	}

	for _, s := range data.Spots {
		if !levels[s.LevelID] {
			logger.Warn("Skipping spot with unknown level", zap.String("spot_id", s.ID.String()), zap.String("level_id", s.LevelID))
			res.Skipped++
			continue
		}
		if err := sink.UpsertSpot(ctx, s); err != nil {
			return res, fmt.Errorf("import spot %s: %w", s.ID, err)
		}
		res.Spots++
	}

	return res, nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (r deckRecord) deck() (*models.Deck, error) {
	raw := r.ID
	if raw == "" {
		raw = r.BuildingCode
	}
	id, err := models.ParseScopeID(raw)
	if err != nil {
		return nil, fmt.Errorf("deck: %w", err)
	}

	code := r.BuildingCode
	if code == "" {
		code = id
	}
	name := r.Name
	if name == "" {
		name = r.BuildingName
	}
	if name == "" {
		name = "Unknown Deck"
	}
	address := r.Address
	if address == "" && r.Address1 != "" {
		address = strings.TrimSpace(fmt.Sprintf("%s, %s, %s %s", r.Address1, r.City, r.State, r.Zip))
	}

	return &models.Deck{
		ID:           id,
		BuildingCode: code,
		Name:         name,
		Address:      address,
		Latitude:     float64(r.Latitude),
		Longitude:    float64(r.Longitude),
		TotalSpaces:  int(r.TotalSpaces),
	}, nil
}

func (r levelRecord) level() (*models.Level, error) {
	raw := r.ID
	if raw == "" {
		raw = r.AltID
	}
	if raw == "" {
		raw = fmt.Sprintf("%s_%d", r.DeckID, r.Index)
	}
	id, err := models.ParseScopeID(raw)
	if err != nil {
		return nil, fmt.Errorf("level: %w", err)
	}

	// 二维码中的楼层编号从 1 开始
	num := r.Index + 1
	if r.Number != nil {
		num = int(*r.Number)
	}
	name := r.Name
	if name == "" {
		name = fmt.Sprintf("Level %d", num)
	}

	return &models.Level{ID: id, DeckID: r.DeckID, Number: num, Index: r.Index, Name: name}, nil
}

func (r spotRecord) spot() (*models.Spot, error) {
	id, err := models.ParseSpotID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("spot: %w", err)
	}

	num := 0
	if r.Number != nil {
		num = int(*r.Number)
	} else if m := trailingDigits.FindString(r.Label); m != "" {
		num, _ = strconv.Atoi(m)
	}

	s := &models.Spot{
		ID:       id,
		LevelID:  r.LevelID,
		Label:    r.Label,
		Number:   num,
		Category: models.ParseCategory(r.Type),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
