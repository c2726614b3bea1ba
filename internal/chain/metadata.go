package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/contracts"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// Metadata reads immutable contract metadata through an injected cache.
// Only values fixed at deployment are cached here.
type Metadata struct {
	c      caller
	cache  domain.MetadataCache
	logger *slog.Logger
}

var _ domain.MetadataReader = (*Metadata)(nil)

// NewMetadata creates a Metadata reader. A nil cache disables memoisation.
func NewMetadata(backend Reader, cache domain.MetadataCache, logger *slog.Logger) *Metadata {
	return &Metadata{
		c:      caller{backend: backend},
		cache:  cache,
		logger: logger.With(slog.String("component", "metadata")),
	}
}

type compositionJSON struct {
	Components  []common.Address `json:"components"`
	Units       []string         `json:"units"`
	NaturalUnit string           `json:"natural_unit"`
}

// BasketComposition implements domain.MetadataReader.
func (m *Metadata) BasketComposition(ctx context.Context, basket common.Address) (domain.BasketComposition, error) {
	key := domain.MetadataKey{Kind: domain.MetadataComposition, Address: basket}
	if raw, ok := m.lookup(ctx, key); ok {
		if comp, err := decodeComposition(basket, raw); err == nil {
			return comp, nil
		}
	}

	components, err := m.c.callAddresses(ctx, nil, basket, contracts.SetToken, "getComponents")
	if err != nil {
		return domain.BasketComposition{}, err
	}
	units, err := m.c.callUints(ctx, nil, basket, contracts.SetToken, "getUnits")
	if err != nil {
		return domain.BasketComposition{}, err
	}
	nu, err := m.c.callUint(ctx, nil, basket, contracts.SetToken, "naturalUnit")
	if err != nil {
		return domain.BasketComposition{}, err
	}
	if len(components) != len(units) {
		return domain.BasketComposition{}, fmt.Errorf("chain: %w: basket %s has %d components and %d units",
			domain.ErrMalformedAuctionState, basket.Hex(), len(components), len(units))
	}
	comp := domain.BasketComposition{Address: basket, Components: components, Units: units, NaturalUnit: nu}

	wire := compositionJSON{Components: components, NaturalUnit: nu.Dec()}
	for _, u := range units {
		wire.Units = append(wire.Units, u.Dec())
	}
	if raw, err := json.Marshal(wire); err == nil {
		m.store(ctx, key, raw)
	}
	return comp, nil
}

func decodeComposition(basket common.Address, raw []byte) (domain.BasketComposition, error) {
	var wire compositionJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return domain.BasketComposition{}, err
	}
	nu, err := uint256.FromDecimal(wire.NaturalUnit)
	if err != nil {
		return domain.BasketComposition{}, err
	}
	units := make([]*uint256.Int, len(wire.Units))
	for i, s := range wire.Units {
		if units[i], err = uint256.FromDecimal(s); err != nil {
			return domain.BasketComposition{}, err
		}
	}
	return domain.BasketComposition{Address: basket, Components: wire.Components, Units: units, NaturalUnit: nu}, nil
}

// CTokenUnderlying implements domain.MetadataReader.
func (m *Metadata) CTokenUnderlying(ctx context.Context, cToken common.Address) (common.Address, error) {
	key := domain.MetadataKey{Kind: domain.MetadataUnderlying, Address: cToken}
	if raw, ok := m.lookup(ctx, key); ok && common.IsHexAddress(string(raw)) {
		return common.HexToAddress(string(raw)), nil
	}
	underlying, err := m.c.callAddress(ctx, nil, cToken, contracts.CToken, "underlying")
	if err != nil {
		return common.Address{}, err
	}
	m.store(ctx, key, []byte(underlying.Hex()))
	return underlying, nil
}

// lookup treats cache errors as misses.
func (m *Metadata) lookup(ctx context.Context, key domain.MetadataKey) ([]byte, bool) {
	if m.cache == nil {
		return nil, false
	}
	raw, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		m.logger.WarnContext(ctx, "metadata cache get failed", slog.String("key", key.String()), slog.String("error", err.Error()))
		return nil, false
	}
	return raw, ok
}

func (m *Metadata) store(ctx context.Context, key domain.MetadataKey, raw []byte) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, key, raw); err != nil {
		m.logger.WarnContext(ctx, "metadata cache set failed", slog.String("key", key.String()), slog.String("error", err.Error()))
	}
}
