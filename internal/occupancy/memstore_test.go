package occupancy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/langchou/ezpark/internal/models"
)

// memDB 内存实现，语义与 Postgres 存储一致（条件写 + 唯一约束 + 事务回滚）
type memDB struct {
	mu          sync.Mutex
	spots       map[models.SpotID]*models.Spot
	sessions    []*models.Session
	history     []*models.StateHistoryEntry
	nextSession int64
	levels      map[string]string // level -> deck
	decks       map[string]bool

	failAppend  error
	getDelay    time.Duration
	countCalls  int
	commitCalls int
}

func newMemDB() *memDB {
	return &memDB{
		spots:  make(map[models.SpotID]*models.Spot),
		levels: make(map[string]string),
		decks:  make(map[string]bool),
	}
}

func (db *memDB) addSpot(id, levelID, label string) {
	db.spots[models.SpotID(id)] = &models.Spot{
		ID:       models.SpotID(id),
		LevelID:  levelID,
		Label:    label,
		Category: models.CategoryStandard,
	}
}

// occupyRaw 绕过约束直接写入占用（构造异常数据）
func (db *memDB) occupyRaw(id, occupant string, at time.Time, withSession bool) {
	s := db.spots[models.SpotID(id)]
	s.Occupant = &occupant
	s.OccupiedAt = &at
	if withSession {
		db.nextSession++
		db.sessions = append(db.sessions, &models.Session{
			ID: db.nextSession, SpotID: s.ID, OccupantID: occupant, StartedAt: at, Source: models.SourceManual,
		})
	}
}

func (db *memDB) stores() Stores {
	s := &memStore{db: db}
	return Stores{Spots: s, Sessions: s, History: s}
}

func (db *memDB) InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	snap := db.snapshot()
	tx := &memStore{db: db, inTx: true}
	if err := fn(ctx, Stores{Spots: tx, Sessions: tx, History: tx}); err != nil {
		db.restore(snap)
		return err
	}
	db.commitCalls++
	return nil
}

type memSnapshot struct {
	spots       map[models.SpotID]models.Spot
	sessions    []models.Session
	history     int
	nextSession int64
}

func (db *memDB) snapshot() memSnapshot {
	snap := memSnapshot{
		spots:       make(map[models.SpotID]models.Spot, len(db.spots)),
		history:     len(db.history),
		nextSession: db.nextSession,
	}
	for id, s := range db.spots {
		snap.spots[id] = *s
	}
	for _, s := range db.sessions {
		snap.sessions = append(snap.sessions, *s)
	}
	return snap
}

func (db *memDB) restore(snap memSnapshot) {
	for id, s := range snap.spots {
		s := s
		db.spots[id] = &s
	}
	db.sessions = db.sessions[:0]
	for _, s := range snap.sessions {
		s := s
		db.sessions = append(db.sessions, &s)
	}
	db.history = db.history[:snap.history]
	db.nextSession = snap.nextSession
}

func (db *memDB) historyFor(id string) []models.StateHistoryEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.StateHistoryEntry
	for _, h := range db.history {
		if h.SpotID == models.SpotID(id) {
			out = append(out, *h)
		}
	}
	return out
}

func (db *memDB) sessionsFor(id string) []models.Session {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Session
	for _, s := range db.sessions {
		if s.SpotID == models.SpotID(id) {
			out = append(out, *s)
		}
	}
	return out
}

func (db *memDB) spot(id string) *models.Spot {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := *db.spots[models.SpotID(id)]
	return &c
}

type memStore struct {
	db   *memDB
	inTx bool
}

func (s *memStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.db.mu.Lock()
	return s.db.mu.Unlock
}

func (s *memStore) GetByID(ctx context.Context, id models.SpotID) (*models.Spot, error) {
	if s.db.getDelay > 0 {
		select {
		case <-time.After(s.db.getDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer s.lock()()
	spot, ok := s.db.spots[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *spot
	return &out, nil
}

func (s *memStore) CompareAndSetOccupancy(ctx context.Context, id models.SpotID, expected, next *string, at *time.Time) (bool, error) {
	defer s.lock()()
	spot, ok := s.db.spots[id]
	if !ok {
		return false, nil
	}
	if !sameOccupant(spot.Occupant, expected) {
		return false, nil
	}
	if next != nil && *next != models.AdminOccupant {
		for otherID, other := range s.db.spots {
			if otherID != id && other.IsHeldBy(*next) {
				return false, ErrOccupantConstraint
			}
		}
	}
	if next == nil {
		spot.Occupant, spot.OccupiedAt = nil, nil
		return true, nil
	}
	occupant, when := *next, *at
	spot.Occupant, spot.OccupiedAt = &occupant, &when
	return true, nil
}

func (s *memStore) ListByLevel(ctx context.Context, levelID string) ([]*models.Spot, error) {
	defer s.lock()()
	var out []*models.Spot
	for _, spot := range s.db.spots {
		if spot.LevelID == levelID {
			c := *spot
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *memStore) CountByLevels(ctx context.Context, levelIDs []string) ([]models.LevelCount, error) {
	defer s.lock()()
	s.db.countCalls++
	counts := make(map[string]*models.LevelCount)
	for _, spot := range s.db.spots {
		for _, id := range levelIDs {
			if spot.LevelID != id {
				continue
			}
			c, ok := counts[id]
			if !ok {
				c = &models.LevelCount{LevelID: id}
				counts[id] = c
			}
			c.Total++
			if spot.Occupant == nil {
				c.Free++
			}
		}
	}
	out := make([]models.LevelCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	return out, nil
}

func (s *memStore) Open(ctx context.Context, spotID models.SpotID, occupantID string, source models.SessionSource, at time.Time) (*models.Session, error) {
	defer s.lock()()
	for _, sess := range s.db.sessions {
		if !sess.Active() {
			continue
		}
		if sess.SpotID == spotID {
			return nil, errors.New("duplicate open session for spot")
		}
		if occupantID != models.AdminOccupant && sess.OccupantID == occupantID {
			return nil, ErrOccupantConstraint
		}
	}
	s.db.nextSession++
	sess := &models.Session{ID: s.db.nextSession, SpotID: spotID, OccupantID: occupantID, StartedAt: at, Source: source}
	s.db.sessions = append(s.db.sessions, sess)
	out := *sess
	return &out, nil
}

func (s *memStore) CloseActive(ctx context.Context, spotID models.SpotID, occupantID string, at time.Time) (*models.Session, error) {
	defer s.lock()()
	for _, sess := range s.db.sessions {
		if sess.Active() && sess.SpotID == spotID && sess.OccupantID == occupantID {
			ended := at
			sess.EndedAt = &ended
			out := *sess
			return &out, nil
		}
	}
	return nil, ErrNoActiveSession
}

func (s *memStore) CloseAnyActive(ctx context.Context, spotID models.SpotID, at time.Time) (*models.Session, error) {
	defer s.lock()()
	for _, sess := range s.db.sessions {
		if sess.Active() && sess.SpotID == spotID {
			ended := at
			sess.EndedAt = &ended
			out := *sess
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindActive(ctx context.Context, spotID models.SpotID, occupantID string) (*models.Session, error) {
	defer s.lock()()
	for _, sess := range s.db.sessions {
		if sess.Active() && sess.SpotID == spotID && sess.OccupantID == occupantID {
			out := *sess
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindActiveForOccupant(ctx context.Context, occupantID string) (*models.Session, error) {
	defer s.lock()()
	for _, sess := range s.db.sessions {
		if sess.Active() && sess.OccupantID == occupantID {
			out := *sess
			if spot, ok := s.db.spots[sess.SpotID]; ok {
				out.SpotLabel = spot.Label
			}
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) Append(ctx context.Context, entry *models.StateHistoryEntry) error {
	defer s.lock()()
	if s.db.failAppend != nil {
		return s.db.failAppend
	}
	e := *entry
	e.ID = int64(len(s.db.history) + 1)
	s.db.history = append(s.db.history, &e)
	return nil
}

func (db *memDB) LevelExists(ctx context.Context, levelID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.levels[levelID]
	return ok, nil
}

func (db *memDB) LevelIDsForDeck(ctx context.Context, deckID string) ([]string, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.decks[deckID] {
		return nil, false, nil
	}
	var ids []string
	for level, deck := range db.levels {
		if deck == deckID {
			ids = append(ids, level)
		}
	}
	sort.Strings(ids)
	return ids, true, nil
}

func sameOccupant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SpotStateChanged
}

func (p *recordingPublisher) PublishStateChanged(ctx context.Context, ev models.SpotStateChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) all() []models.SpotStateChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SpotStateChanged(nil), p.events...)
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (func(), error) {
	return nil, ErrOccupantBusy
}
