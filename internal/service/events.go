package service

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

func newEvent(t domain.EventType, basket common.Address, data any, at time.Time) (domain.Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{Type: t, Basket: basket, Data: raw, At: at.UTC()}, nil
}

func eventBasket(data any) common.Address {
	switch d := data.(type) {
	case domain.Submission:
		return d.Target
	case refusal:
		return d.Target
	case AuctionView:
		return d.Basket
	}
	return common.Address{}
}
