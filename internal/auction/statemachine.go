package auction

import (
	"fmt"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// Event is a caller action that moves a basket through its lifecycle.
type Event string

const (
	EventPropose          Event = "propose"
	EventStartRebalance   Event = "start_rebalance"
	EventSettle           Event = "settle"
	EventEndFailedNoBids  Event = "end_failed_no_bids"
	EventEndFailedPartial Event = "end_failed_partial"
)

// transitions is the one-way lifecycle graph.
var transitions = map[domain.RebalanceState]map[Event]domain.RebalanceState{
	domain.StateDefault: {
		EventPropose: domain.StateProposal,
	},
	domain.StateProposal: {
		EventStartRebalance: domain.StateRebalance,
	},
	domain.StateRebalance: {
		EventSettle:           domain.StateDefault,
		EventEndFailedNoBids:  domain.StateDefault,
		EventEndFailedPartial: domain.StateDrawdown,
	},
}

// Transition returns the state reached by applying ev in from, or
// ErrInvalidState when the lifecycle does not allow it.
func Transition(from domain.RebalanceState, ev Event) (domain.RebalanceState, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", fmt.Errorf("auction: %w: %s not allowed in %s", domain.ErrInvalidState, ev, from)
}

// RequiredState returns the state ev must be applied in.
func RequiredState(ev Event) domain.RebalanceState {
	for from, evs := range transitions {
		if _, ok := evs[ev]; ok {
			return from
		}
	}
	return ""
}

// EndFailedEvent picks which failed-auction event applies: an auction that
// never received a bid returns to Default, a partially filled one draws down.
func EndFailedEvent(a domain.AuctionState) Event {
	if a.StartingCurrentSets != nil && a.RemainingCurrentSets != nil && a.RemainingCurrentSets.Eq(a.StartingCurrentSets) {
		return EventEndFailedNoBids
	}
	return EventEndFailedPartial
}
