package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

var (
	basketA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	basketB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type fakeBus struct {
	ch     chan []byte
	stream []domain.StreamMessage
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return b.stream, nil
}

func newTestClient(h *Hub, baskets ...string) *client {
	c := &client{hub: h, send: make(chan []byte, 8), subs: map[string]bool{}}
	c.subscribe(baskets)
	return c
}

func recv(t *testing.T, c *client) envelope {
	t.Helper()
	select {
	case raw := <-c.send:
		var env struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		return envelope{Type: env.Type, Payload: env.Payload}
	case <-time.After(time.Second):
		t.Fatal("no message")
		return envelope{}
	}
}

func TestClientFilters(t *testing.T) {
	h := NewHub(&fakeBus{}, slog.New(slog.DiscardHandler), Config{})
	c := newTestClient(h, basketA.Hex(), "not-an-address")

	assert.True(t, c.wants(basketA))
	assert.False(t, c.wants(basketB))
	assert.Equal(t, []string{normalise(basketA.Hex())}, c.subscriptions())

	c.handle(controlMsg{Action: "subscribe", Baskets: []string{"*"}})
	assert.True(t, c.wants(basketB))
	assert.Equal(t, "subscribed", recv(t, c).Type)

	c.handle(controlMsg{Action: "unsubscribe", Baskets: []string{"*", basketA.Hex()}})
	assert.False(t, c.wants(basketA))
	recv(t, c)

	c.handle(controlMsg{Action: "bogus"})
	assert.Equal(t, "error", recv(t, c).Type)
}

func TestReplayFiltersByBasket(t *testing.T) {
	evA, _ := json.Marshal(domain.Event{Type: domain.EventSubmissionMined, Basket: basketA})
	evB, _ := json.Marshal(domain.Event{Type: domain.EventSubmissionMined, Basket: basketB})
	bus := &fakeBus{stream: []domain.StreamMessage{{ID: "1-0", Payload: evA}, {ID: "2-0", Payload: evB}}}
	h := NewHub(bus, slog.New(slog.DiscardHandler), Config{})
	c := newTestClient(h, basketB.Hex())

	c.handle(controlMsg{Action: "replay"})
	env := recv(t, c)
	require.Equal(t, "replay", env.Type)
	var entries []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Payload.(json.RawMessage), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "2-0", entries[0].ID)
}

func TestRunRoutesEvents(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 4)}
	h := NewHub(bus, slog.New(slog.DiscardHandler), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	onlyA := newTestClient(h, basketA.Hex())
	all := newTestClient(h, allBaskets)
	h.register <- onlyA
	h.register <- all

	raw, _ := json.Marshal(domain.Event{Type: domain.EventAuctionTick, Basket: basketB})
	bus.ch <- raw
	bus.ch <- []byte("garbage")
	raw, _ = json.Marshal(domain.Event{Type: domain.EventAuctionTick, Basket: basketA})
	bus.ch <- raw

	assert.Equal(t, "event", recv(t, all).Type)
	assert.Equal(t, "event", recv(t, all).Type)
	assert.Equal(t, "event", recv(t, onlyA).Type)
	select {
	case <-onlyA.send:
		t.Fatal("client received an event for a basket it did not subscribe to")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, onlyA.queue([]byte("late")))
}
