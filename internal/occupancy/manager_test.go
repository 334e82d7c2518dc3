package occupancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/ezpark/internal/models"
)

var testNow = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *memDB, *recordingPublisher) {
	t.Helper()
	db := newMemDB()
	db.addSpot("s1", "L1", "A-101")
	db.addSpot("s2", "L1", "A-102")
	db.addSpot("s3", "L2", "B-201")

	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub), WithClock(func() time.Time { return testNow })}, opts...)
	return NewManager(db.stores(), db, zap.NewNop(), opts...), db, pub
}

func TestCheckInFreeSpot(t *testing.T) {
	m, db, pub := newTestManager(t)

	spot, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)
	require.NotNil(t, spot.Occupant)
	assert.Equal(t, "u1", *spot.Occupant)
	assert.Equal(t, testNow, *spot.OccupiedAt)
	assert.Equal(t, models.SpotOccupied, spot.State())

	stored := db.spot("s1")
	assert.True(t, stored.IsHeldBy("u1"))

	sessions := db.sessionsFor("s1")
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Active())
	assert.Equal(t, models.SourceManual, sessions[0].Source)

	history := db.historyFor("s1")
	require.Len(t, history, 1)
	assert.Equal(t, models.SpotOccupied, history[0].State)
	assert.Equal(t, models.ReasonCheckIn, history[0].Reason)

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.SpotID("s1"), events[0].SpotID)
	assert.Equal(t, "L1", events[0].LevelID)
	assert.Equal(t, models.SpotOccupied, events[0].State)
}

func TestCheckInOccupiedSpot(t *testing.T) {
	m, db, pub := newTestManager(t)
	db.occupyRaw("s1", "u1", testNow, true)

	_, err := m.CheckIn(context.Background(), "s1", "u2", models.SourceManual)
	assert.ErrorIs(t, err, ErrAlreadyOccupied)
	assert.True(t, db.spot("s1").IsHeldBy("u1"))
	assert.Empty(t, db.historyFor("s1"))
	assert.Empty(t, pub.all())
}

func TestCheckInUnknownSpot(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.CheckIn(context.Background(), "missing", "u1", models.SourceManual)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckInRejectsAdminSource(t *testing.T) {
	m, db, _ := newTestManager(t)

	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceAdminToggle)
	assert.ErrorIs(t, err, ErrInvalidSource)
	assert.Nil(t, db.spot("s1").Occupant)
}

func TestCheckInOccupantHoldsAnotherSpot(t *testing.T) {
	m, db, _ := newTestManager(t)
	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)

	_, err = m.CheckIn(context.Background(), "s2", "u1", models.SourceQRScan)
	require.ErrorIs(t, err, ErrOccupantAlreadyHasSpot)

	var held *OccupantHasSpotError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, models.SpotID("s1"), held.SpotID)
	assert.Equal(t, "A-101", held.Label)
	assert.Nil(t, db.spot("s2").Occupant)
}

func TestCheckInSameSpotTwice(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)

	_, err = m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	assert.ErrorIs(t, err, ErrAlreadyOccupied)
}

func TestCheckInClosesStaleSessionOnSameSpot(t *testing.T) {
	m, db, _ := newTestManager(t)
	db.occupyRaw("s1", "u1", testNow.Add(-time.Hour), true)
	// 占用被清除但会话仍开着
	db.spots["s1"].Occupant, db.spots["s1"].OccupiedAt = nil, nil

	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)

	sessions := db.sessionsFor("s1")
	require.Len(t, sessions, 2)
	assert.False(t, sessions[0].Active())
	assert.True(t, sessions[1].Active())
}

func TestCheckInClosesStaleSessionOnOtherSpot(t *testing.T) {
	m, db, pub := newTestManager(t)
	db.occupyRaw("s1", "u1", testNow.Add(-time.Hour), true)
	db.spots["s1"].Occupant, db.spots["s1"].OccupiedAt = nil, nil

	spot, err := m.CheckIn(context.Background(), "s2", "u1", models.SourceManual)
	require.NoError(t, err)
	assert.True(t, spot.IsHeldBy("u1"))
	assert.True(t, db.spot("s2").IsHeldBy("u1"))

	stale := db.sessionsFor("s1")
	require.Len(t, stale, 1)
	assert.False(t, stale[0].Active())
	assert.True(t, db.sessionsFor("s2")[0].Active())

	// 残留会话不写历史
	assert.Empty(t, db.historyFor("s1"))
	assert.Len(t, pub.all(), 1)

	active, err := m.Current(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.SpotID("s2"), active.Spot.ID)
}

func TestConcurrentCheckInsOneWinner(t *testing.T) {
	m, db, pub := newTestManager(t)

	const n = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		occupied int
		other    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.CheckIn(context.Background(), "s1", fmt.Sprintf("u%d", i), models.SourceManual)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrAlreadyOccupied):
				occupied++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, occupied)
	assert.Empty(t, other)
	assert.Len(t, db.historyFor("s1"), 1)
	assert.Len(t, db.sessionsFor("s1"), 1)
	assert.Len(t, pub.all(), 1)
}

func TestConcurrentCheckInsSameOccupantTwoSpots(t *testing.T) {
	for round := 0; round < 20; round++ {
		m, db, _ := newTestManager(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, id := range []models.SpotID{"s1", "s2"} {
			wg.Add(1)
			go func(i int, id models.SpotID) {
				defer wg.Done()
				_, errs[i] = m.CheckIn(context.Background(), id, "u1", models.SourceManual)
			}(i, id)
		}
		wg.Wait()

		var won, lost int
		for _, err := range errs {
			if err == nil {
				won++
			} else if errors.Is(err, ErrOccupantAlreadyHasSpot) {
				lost++
			}
		}
		require.Equal(t, 1, won, "round %d: %v", round, errs)
		require.Equal(t, 1, lost, "round %d: %v", round, errs)

		held := 0
		for _, id := range []string{"s1", "s2"} {
			if db.spot(id).IsHeldBy("u1") {
				held++
			}
		}
		require.Equal(t, 1, held)
	}
}

func TestCheckOutByOwner(t *testing.T) {
	m, db, pub := newTestManager(t)
	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)

	spot, err := m.CheckOut(context.Background(), "s1", "u1")
	require.NoError(t, err)
	assert.Nil(t, spot.Occupant)
	assert.Nil(t, spot.OccupiedAt)
	assert.Nil(t, db.spot("s1").Occupant)

	events := pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, models.SpotFree, events[1].State)
	assert.Equal(t, models.ReasonCheckOut, events[1].Reason)
}

func TestCheckOutNotOwner(t *testing.T) {
	m, db, _ := newTestManager(t)
	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)

	_, err = m.CheckOut(context.Background(), "s1", "u2")
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.True(t, db.spot("s1").IsHeldBy("u1"))
}

func TestCheckOutTwiceIsIdempotent(t *testing.T) {
	m, db, _ := newTestManager(t)
	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)
	_, err = m.CheckOut(context.Background(), "s1", "u1")
	require.NoError(t, err)

	historyBefore := len(db.historyFor("s1"))
	for i := 0; i < 2; i++ {
		_, err = m.CheckOut(context.Background(), "s1", "u1")
		assert.ErrorIs(t, err, ErrNoActiveSession)
	}
	assert.Len(t, db.historyFor("s1"), historyBefore)
}

func TestCheckOutWithoutOpenSession(t *testing.T) {
	m, db, _ := newTestManager(t)
	db.occupyRaw("s1", "u1", testNow, false)

	_, err := m.CheckOut(context.Background(), "s1", "u1")
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.True(t, db.spot("s1").IsHeldBy("u1"))
}

func TestCheckOutIgnoresOtherHeldSpot(t *testing.T) {
	m, db, _ := newTestManager(t)
	db.occupyRaw("s1", "u1", testNow, true)
	db.occupyRaw("s2", "u1", testNow, true)

	_, err := m.CheckOut(context.Background(), "s1", "u1")
	require.NoError(t, err)
	assert.Nil(t, db.spot("s1").Occupant)
	assert.True(t, db.spot("s2").IsHeldBy("u1"))
	assert.True(t, db.sessionsFor("s2")[0].Active())
}

func TestCheckInCheckOutRoundTrip(t *testing.T) {
	m, db, _ := newTestManager(t)

	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceQRScan)
	require.NoError(t, err)
	_, err = m.CheckOut(context.Background(), "s1", "u1")
	require.NoError(t, err)

	stored := db.spot("s1")
	assert.Nil(t, stored.Occupant)
	assert.Nil(t, stored.OccupiedAt)

	history := db.historyFor("s1")
	require.Len(t, history, 2)
	assert.Equal(t, models.SpotOccupied, history[0].State)
	assert.Equal(t, models.ReasonCheckIn, history[0].Reason)
	assert.Equal(t, models.SpotFree, history[1].State)
	assert.Equal(t, models.ReasonCheckOut, history[1].Reason)

	sessions := db.sessionsFor("s1")
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndedAt)
	assert.Equal(t, models.SourceQRScan, sessions[0].Source)
}

func TestAdminToggleFreesOccupiedSpot(t *testing.T) {
	m, db, pub := newTestManager(t)
	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)

	spot, err := m.AdminToggle(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, spot.Occupant)

	history := db.historyFor("s1")
	require.Len(t, history, 2)
	assert.Equal(t, models.SpotFree, history[1].State)
	assert.Equal(t, models.ReasonManualToggle, history[1].Reason)
	require.NotNil(t, history[1].OccupantID)
	assert.Equal(t, "u1", *history[1].OccupantID)

	assert.False(t, db.sessionsFor("s1")[0].Active())

	events := pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, models.ReasonManualToggle, events[1].Reason)

	// 被释放的用户可以重新签到其他车位
	_, err = m.CheckIn(context.Background(), "s2", "u1", models.SourceManual)
	assert.NoError(t, err)
}

func TestAdminToggleOccupiesFreeSpot(t *testing.T) {
	m, db, _ := newTestManager(t)

	spot, err := m.AdminToggle(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, spot.Occupant)
	assert.Equal(t, models.AdminOccupant, *spot.Occupant)

	sessions := db.sessionsFor("s1")
	require.Len(t, sessions, 1)
	assert.Equal(t, models.SourceAdminToggle, sessions[0].Source)

	_, err = m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	assert.ErrorIs(t, err, ErrAlreadyOccupied)

	_, err = m.CheckOut(context.Background(), "s1", "u1")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestAdminToggleManySpots(t *testing.T) {
	m, db, _ := newTestManager(t)

	for _, id := range []models.SpotID{"s1", "s2", "s3"} {
		_, err := m.AdminToggle(context.Background(), id)
		require.NoError(t, err)
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		assert.True(t, db.spot(id).IsHeldBy(models.AdminOccupant))
	}

	for _, id := range []models.SpotID{"s1", "s2", "s3"} {
		spot, err := m.AdminToggle(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, spot.Occupant)
	}
}

func TestAdminToggleUnknownSpot(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.AdminToggle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSwitchSpot(t *testing.T) {
	m, db, pub := newTestManager(t)
	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)

	spot, err := m.SwitchSpot(context.Background(), "s2", "u1", models.SourceManual)
	require.NoError(t, err)
	assert.True(t, spot.IsHeldBy("u1"))

	assert.Nil(t, db.spot("s1").Occupant)
	assert.True(t, db.spot("s2").IsHeldBy("u1"))
	assert.False(t, db.sessionsFor("s1")[0].Active())
	assert.True(t, db.sessionsFor("s2")[0].Active())
	assert.Len(t, pub.all(), 3)
}

func TestSwitchSpotTargetTakenRollsBack(t *testing.T) {
	m, db, _ := newTestManager(t)
	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.NoError(t, err)
	_, err = m.CheckIn(context.Background(), "s2", "u2", models.SourceManual)
	require.NoError(t, err)

	_, err = m.SwitchSpot(context.Background(), "s2", "u1", models.SourceManual)
	assert.ErrorIs(t, err, ErrAlreadyOccupied)
	assert.True(t, db.spot("s1").IsHeldBy("u1"))
	assert.True(t, db.sessionsFor("s1")[0].Active())
}

func TestSwitchSpotWithoutSession(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.SwitchSpot(context.Background(), "s2", "u1", models.SourceManual)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestSwitchSpotFromStaleSession(t *testing.T) {
	m, db, pub := newTestManager(t)
	db.occupyRaw("s1", "u1", testNow.Add(-time.Hour), true)
	db.spots["s1"].Occupant, db.spots["s1"].OccupiedAt = nil, nil

	spot, err := m.SwitchSpot(context.Background(), "s2", "u1", models.SourceQRScan)
	require.NoError(t, err)
	assert.True(t, spot.IsHeldBy("u1"))

	assert.Nil(t, db.spot("s1").Occupant)
	assert.False(t, db.sessionsFor("s1")[0].Active())
	assert.True(t, db.sessionsFor("s2")[0].Active())
	assert.Empty(t, db.historyFor("s1"))

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.SpotID("s2"), events[0].SpotID)
}

func TestCurrent(t *testing.T) {
	m, _, _ := newTestManager(t)

	active, err := m.Current(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = m.CheckIn(context.Background(), "s3", "u1", models.SourceManual)
	require.NoError(t, err)

	active, err = m.Current(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.SpotID("s3"), active.Spot.ID)
	assert.Equal(t, "B-201", active.Session.SpotLabel)
}

func TestStorageFailureRollsBack(t *testing.T) {
	m, db, pub := newTestManager(t)
	db.failAppend = errors.New("connection reset by peer")

	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	require.ErrorIs(t, err, ErrStorageUnavailable)

	assert.Nil(t, db.spot("s1").Occupant)
	assert.Empty(t, db.sessionsFor("s1"))
	assert.Empty(t, pub.all())
}

func TestStoreTimeout(t *testing.T) {
	m, db, _ := newTestManager(t, WithTimeout(20*time.Millisecond))
	db.getDelay = time.Second

	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckInOccupantBusy(t *testing.T) {
	m, db, _ := newTestManager(t, WithLocker(busyLocker{}))

	_, err := m.CheckIn(context.Background(), "s1", "u1", models.SourceManual)
	assert.ErrorIs(t, err, ErrOccupantBusy)
	assert.Nil(t, db.spot("s1").Occupant)
}
