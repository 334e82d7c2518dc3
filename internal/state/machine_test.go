package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/ezpark/internal/models"
)

func TestMachinePlan(t *testing.T) {
	tests := []struct {
		name    string
		current models.SpotState
		event   string
		want    models.SpotState
		wantErr bool
	}{
		{"check in free", models.SpotFree, EventCheckIn, models.SpotOccupied, false},
		{"check in occupied", models.SpotOccupied, EventCheckIn, "", true},
		{"check out occupied", models.SpotOccupied, EventCheckOut, models.SpotFree, false},
		{"check out free", models.SpotFree, EventCheckOut, "", true},
		{"toggle free", models.SpotFree, EventToggle, models.SpotOccupied, false},
		{"toggle occupied", models.SpotOccupied, EventToggle, models.SpotFree, false},
		{"empty state defaults to free", "", EventCheckIn, models.SpotOccupied, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine("s1", tt.current, nil)
			got, err := m.Plan(tt.event)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIllegalTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMachinePlanDoesNotMutate(t *testing.T) {
	m := NewMachine("s1", models.SpotFree, nil)
	_, err := m.Plan(EventCheckIn)
	require.NoError(t, err)
	assert.Equal(t, models.SpotFree, m.Current())
}

func TestMachineTrigger(t *testing.T) {
	var seen []Transition
	m := NewMachine("s1", models.SpotFree, func(tr Transition) { seen = append(seen, tr) })

	require.NoError(t, m.Trigger(context.Background(), EventCheckIn))
	assert.Equal(t, models.SpotOccupied, m.Current())

	require.NoError(t, m.Trigger(context.Background(), EventToggle))
	assert.Equal(t, models.SpotFree, m.Current())

	err := m.Trigger(context.Background(), EventCheckOut)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	require.Len(t, seen, 2)
	assert.Equal(t, Transition{SpotID: "s1", From: models.SpotFree, To: models.SpotOccupied, Event: EventCheckIn}, seen[0])
	assert.Equal(t, Transition{SpotID: "s1", From: models.SpotOccupied, To: models.SpotFree, Event: EventCheckOut}, seen[1])
}

func TestMachineCan(t *testing.T) {
	m := NewMachine("s1", models.SpotOccupied, nil)
	assert.False(t, m.Can(EventCheckIn))
	assert.True(t, m.Can(EventCheckOut))
	assert.True(t, m.Can(EventToggle))
}
