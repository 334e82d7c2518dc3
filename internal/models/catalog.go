package models

// Deck 停车楼
type Deck struct {
	ID           string  `json:"id" db:"id"`
	BuildingCode string  `json:"building_code" db:"building_code"`
	Name         string  `json:"name" db:"name"`
	Address      string  `json:"address" db:"address"`
	Latitude     float64 `json:"latitude" db:"latitude"`
	Longitude    float64 `json:"longitude" db:"longitude"`
	TotalSpaces  int     `json:"total_spaces" db:"total_spaces"`
}

// Level 楼层
type Level struct {
	ID     string `json:"id" db:"id"`
	DeckID string `json:"deck_id" db:"deck_id"`
	Number int    `json:"number" db:"number"` // 楼栋内的数字编号（二维码使用）
	Index  int    `json:"index" db:"idx"`
	Name   string `json:"name" db:"name"`
}
