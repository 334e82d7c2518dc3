package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/langchou/ezpark/internal/occupancy"
)

const pgUniqueViolation = "23505"

// uniqueViolation 判断是否触发了指定的唯一约束
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

// occupancyConflict 将占用相关的唯一冲突转换为领域错误，其他错误返回 nil
func occupancyConflict(err error) error {
	switch {
	case uniqueViolation(err, constraintOnePerOccupant), uniqueViolation(err, constraintOpenPerOccupant):
		return occupancy.ErrOccupantConstraint
	case uniqueViolation(err, constraintOpenPerSpot):
		return occupancy.ErrAlreadyOccupied
	}
	return nil
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// scanner pgx.Row 与 pgx.Rows 的公共部分
type scanner interface {
	Scan(dest ...any) error
}
