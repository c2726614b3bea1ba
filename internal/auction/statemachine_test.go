package auction

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from domain.RebalanceState
		ev   Event
		want domain.RebalanceState
	}{
		{domain.StateDefault, EventPropose, domain.StateProposal},
		{domain.StateProposal, EventStartRebalance, domain.StateRebalance},
		{domain.StateRebalance, EventSettle, domain.StateDefault},
		{domain.StateRebalance, EventEndFailedNoBids, domain.StateDefault},
		{domain.StateRebalance, EventEndFailedPartial, domain.StateDrawdown},
	}
	for _, tt := range tests {
		got, err := Transition(tt.from, tt.ev)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	illegal := []struct {
		from domain.RebalanceState
		ev   Event
	}{
		{domain.StateDefault, EventStartRebalance},
		{domain.StateProposal, EventPropose},
		{domain.StateRebalance, EventPropose},
		{domain.StateDrawdown, EventPropose},
		{domain.StateDrawdown, EventSettle},
		{domain.StateDefault, EventSettle},
	}
	for _, tt := range illegal {
		_, err := Transition(tt.from, tt.ev)
		assert.True(t, errors.Is(err, domain.ErrInvalidState), "%s in %s", tt.ev, tt.from)
	}
}

func TestRequiredState(t *testing.T) {
	assert.Equal(t, domain.StateDefault, RequiredState(EventPropose))
	assert.Equal(t, domain.StateRebalance, RequiredState(EventSettle))
}

func TestEndFailedEvent(t *testing.T) {
	a := domain.AuctionState{
		StartingCurrentSets:  uint256.NewInt(1000),
		RemainingCurrentSets: uint256.NewInt(1000),
	}
	assert.Equal(t, EventEndFailedNoBids, EndFailedEvent(a))

	a.RemainingCurrentSets = uint256.NewInt(400)
	assert.Equal(t, EventEndFailedPartial, EndFailedEvent(a))
}
