package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier 仓库使用的最小数据库操作集合
// *pgxpool.Pool、pgx.Tx 与 pgxmock 都满足该接口
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner 可以开启事务的连接
type TxBeginner interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string, maxConns int32) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping 健康检查
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	return Migrate(ctx, db.Pool)
}

// Migrate 在给定连接上执行全部迁移（幂等）
func Migrate(ctx context.Context, q Querier) error {
	migrations := []string{
		migrationCreateDecks,
		migrationCreateLevels,
		migrationCreateSpots,
		migrationCreateSessions,
		migrationCreateHistory,
		migrationCreateReports,
	}

	for _, m := range migrations {
		if _, err := q.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 约束名，用于识别唯一冲突
const (
	constraintOnePerOccupant  = "spots_one_per_occupant"
	constraintOpenPerSpot     = "spot_sessions_open_per_spot"
	constraintOpenPerOccupant = "spot_sessions_open_per_occupant"
)

// 数据库迁移 SQL
const migrationCreateDecks = `
CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    building_code TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    address TEXT NOT NULL DEFAULT '',
    latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
    longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_spaces INTEGER NOT NULL DEFAULT 0
);
`

const migrationCreateLevels = `
CREATE TABLE IF NOT EXISTS levels (
    id TEXT PRIMARY KEY,
    deck_id TEXT NOT NULL REFERENCES decks(id),
    number INTEGER NOT NULL,
    idx INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL DEFAULT '',
    UNIQUE (deck_id, number)
);

CREATE INDEX IF NOT EXISTS idx_levels_deck_id ON levels(deck_id);
`

const migrationCreateSpots = `
CREATE TABLE IF NOT EXISTS spots (
    id TEXT PRIMARY KEY,
    level_id TEXT NOT NULL REFERENCES levels(id),
    label TEXT NOT NULL,
    number INTEGER NOT NULL DEFAULT 0,
    category TEXT NOT NULL DEFAULT 'standard',
    occupant TEXT,
    occupied_at TIMESTAMPTZ,
    CONSTRAINT spots_level_label_key UNIQUE (level_id, label),
    CONSTRAINT spots_occupancy_consistent CHECK ((occupant IS NULL) = (occupied_at IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_spots_level_id ON spots(level_id);
CREATE INDEX IF NOT EXISTS idx_spots_label ON spots(label);

-- 同一用户同时最多占用一个车位（管理员占位除外）
CREATE UNIQUE INDEX IF NOT EXISTS spots_one_per_occupant
    ON spots(occupant) WHERE occupant IS NOT NULL AND occupant <> '<admin>';
`

const migrationCreateSessions = `
CREATE TABLE IF NOT EXISTS spot_sessions (
    id BIGSERIAL PRIMARY KEY,
    spot_id TEXT NOT NULL REFERENCES spots(id),
    occupant_id TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at TIMESTAMPTZ,
    source TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spot_sessions_spot_id ON spot_sessions(spot_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_spot_sessions_occupant ON spot_sessions(occupant_id, ended_at);

CREATE UNIQUE INDEX IF NOT EXISTS spot_sessions_open_per_spot
    ON spot_sessions(spot_id) WHERE ended_at IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS spot_sessions_open_per_occupant
    ON spot_sessions(occupant_id) WHERE ended_at IS NULL AND occupant_id <> '<admin>';
`

const migrationCreateHistory = `
CREATE TABLE IF NOT EXISTS spot_state_history (
    id BIGSERIAL PRIMARY KEY,
    spot_id TEXT NOT NULL REFERENCES spots(id),
    state TEXT NOT NULL,
    reason TEXT NOT NULL,
    occupant_id TEXT,
    at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_spot_state_history_spot ON spot_state_history(spot_id, at DESC);
`

const migrationCreateReports = `
CREATE TABLE IF NOT EXISTS spot_reports (
    id BIGSERIAL PRIMARY KEY,
    spot_id TEXT NOT NULL REFERENCES spots(id),
    occupant_id TEXT,
    report_type TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_spot_reports_spot ON spot_reports(spot_id, created_at DESC);
`
