package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/ezpark/internal/models"
)

func TestHistoryAppend(t *testing.T) {
	mock := newMock(t)
	at := time.Now().UTC()
	occupant := strPtr("u1")

	mock.ExpectQuery(`INSERT INTO spot_state_history`).
		WithArgs("s1", "occupied", "check-in", occupant, at).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	entry := &models.StateHistoryEntry{
		SpotID:     "s1",
		State:      models.SpotOccupied,
		Reason:     models.ReasonCheckIn,
		OccupantID: occupant,
		At:         at,
	}
	require.NoError(t, NewHistoryRepository(mock).Append(context.Background(), entry))
	assert.Equal(t, int64(11), entry.ID)
}

func TestHistoryListBySpot(t *testing.T) {
	mock := newMock(t)
	at := time.Now().UTC()

	mock.ExpectQuery(`FROM spot_state_history\s+WHERE spot_id = \$1`).
		WithArgs("s1", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "spot_id", "state", "reason", "occupant_id", "at"}).
			AddRow(int64(2), "s1", "free", "manual-toggle", strPtr("u1"), at).
			AddRow(int64(1), "s1", "occupied", "check-in", strPtr("u1"), at.Add(-time.Minute)))

	entries, err := NewHistoryRepository(mock).ListBySpot(context.Background(), "s1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ReasonManualToggle, entries[0].Reason)
	assert.Equal(t, models.SpotOccupied, entries[1].State)
}

func TestReportCreate(t *testing.T) {
	mock := newMock(t)
	created := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO spot_reports`).
		WithArgs("s1", strPtr("u1"), "marked-occupied-but-free", "nobody here", "pending").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(5), created))

	report := &models.SpotReport{
		SpotID:     "s1",
		OccupantID: strPtr("u1"),
		ReportType: "marked-occupied-but-free",
		Notes:      "nobody here",
	}
	require.NoError(t, NewReportRepository(mock).Create(context.Background(), report))
	assert.Equal(t, int64(5), report.ID)
	assert.Equal(t, models.ReportPending, report.Status)
	assert.Equal(t, created, report.CreatedAt)
}
