package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

func TestTransition(t *testing.T) {
	testCases := []struct {
		from    models.Phase
		trigger Trigger
		to      models.Phase
		ok      bool
	}{
		{models.PhaseVoting, TriggerReveal, models.PhaseRevealing, true},
		{models.PhaseRevealing, TriggerFinalize, models.PhaseFinished, true},
		{models.PhaseVoting, TriggerClear, models.PhaseVoting, true},
		{models.PhaseRevealing, TriggerClear, models.PhaseVoting, true},
		{models.PhaseFinished, TriggerClear, models.PhaseVoting, true},
		{models.PhaseVoting, TriggerFinalize, models.PhaseVoting, false},
		{models.PhaseRevealing, TriggerReveal, models.PhaseRevealing, false},
		{models.PhaseFinished, TriggerReveal, models.PhaseFinished, false},
		{models.PhaseFinished, TriggerFinalize, models.PhaseFinished, false},
	}
	for _, tc := range testCases {
		t.Run(string(tc.from)+"/"+string(tc.trigger), func(t *testing.T) {
			to, err := Transition(tc.from, tc.trigger)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tc.from, to)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.to, to)
		})
	}
}

func TestCanTransition(t *testing.T) {
	phases := []models.Phase{models.PhaseVoting, models.PhaseRevealing, models.PhaseFinished}
	allowed := map[[2]models.Phase]bool{
		{models.PhaseVoting, models.PhaseRevealing}:   true,
		{models.PhaseRevealing, models.PhaseFinished}: true,
	}
	for _, from := range phases {
		for _, to := range phases {
			assert.Equal(t, allowed[[2]models.Phase{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	// voting is only reachable through a clear
	assert.False(t, CanTransition(models.PhaseRevealing, models.PhaseVoting))
	assert.False(t, CanTransition(models.PhaseVoting, models.PhaseFinished))
}
