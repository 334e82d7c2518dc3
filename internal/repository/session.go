package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/ezpark/internal/models"
	"github.com/langchou/ezpark/internal/occupancy"
)

const sessionColumns = `id, spot_id, occupant_id, started_at, ended_at, source`

// SessionRepository 占用会话仓库
type SessionRepository struct {
	db Querier
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db Querier) *SessionRepository {
	return &SessionRepository{db: db}
}

// Open 打开会话
func (r *SessionRepository) Open(ctx context.Context, spotID models.SpotID, occupantID string, source models.SessionSource, at time.Time) (*models.Session, error) {
	query := `
		INSERT INTO spot_sessions (spot_id, occupant_id, started_at, source)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	session := &models.Session{
		SpotID:     spotID,
		OccupantID: occupantID,
		StartedAt:  at,
		Source:     source,
	}
	err := r.db.QueryRow(ctx, query, string(spotID), occupantID, at, string(source)).Scan(&session.ID)
	if err != nil {
		if conflict := occupancyConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// CloseActive 关闭该用户在该车位上仍开着的会话（条件更新，重复调用返回 ErrNoActiveSession）
func (r *SessionRepository) CloseActive(ctx context.Context, spotID models.SpotID, occupantID string, at time.Time) (*models.Session, error) {
	query := `
		UPDATE spot_sessions SET ended_at = $3
		WHERE spot_id = $1 AND occupant_id = $2 AND ended_at IS NULL
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRow(ctx, query, string(spotID), occupantID, at))
	if err != nil {
		if notFound(err) {
			return nil, occupancy.ErrNoActiveSession
		}
		return nil, fmt.Errorf("close session: %w", err)
	}
	return session, nil
}

// CloseAnyActive 关闭车位上任意开着的会话，没有时返回 nil
func (r *SessionRepository) CloseAnyActive(ctx context.Context, spotID models.SpotID, at time.Time) (*models.Session, error) {
	query := `
		UPDATE spot_sessions SET ended_at = $2
		WHERE spot_id = $1 AND ended_at IS NULL
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRow(ctx, query, string(spotID), at))
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("close any session: %w", err)
	}
	return session, nil
}

// FindActive 该用户在该车位上的活跃会话
func (r *SessionRepository) FindActive(ctx context.Context, spotID models.SpotID, occupantID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM spot_sessions
		WHERE spot_id = $1 AND occupant_id = $2 AND ended_at IS NULL`

	session, err := scanSession(r.db.QueryRow(ctx, query, string(spotID), occupantID))
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return session, nil
}

// FindActiveForOccupant 用户当前的活跃会话（带车位标签）
func (r *SessionRepository) FindActiveForOccupant(ctx context.Context, occupantID string) (*models.Session, error) {
	query := `
		SELECT s.id, s.spot_id, s.occupant_id, s.started_at, s.ended_at, s.source, sp.label
		FROM spot_sessions s
		JOIN spots sp ON sp.id = s.spot_id
		WHERE s.occupant_id = $1 AND s.ended_at IS NULL
		ORDER BY s.started_at DESC
		LIMIT 1
	`
	var (
		session models.Session
		spotID  string
		source  string
	)
	err := r.db.QueryRow(ctx, query, occupantID).Scan(
		&session.ID,
		&spotID,
		&session.OccupantID,
		&session.StartedAt,
		&session.EndedAt,
		&source,
		&session.SpotLabel,
	)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find occupant session: %w", err)
	}
	session.SpotID = models.SpotID(spotID)
	session.Source = models.SessionSource(source)
	return &session, nil
}

// ListBySpot 车位的会话记录，最新在前
func (r *SessionRepository) ListBySpot(ctx context.Context, spotID models.SpotID, limit int) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM spot_sessions
		WHERE spot_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, string(spotID), limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(row scanner) (*models.Session, error) {
	var (
		session models.Session
		spotID  string
		source  string
	)
	if err := row.Scan(&session.ID, &spotID, &session.OccupantID, &session.StartedAt, &session.EndedAt, &source); err != nil {
		return nil, err
	}
	session.SpotID = models.SpotID(spotID)
	session.Source = models.SessionSource(source)
	return &session, nil
}
