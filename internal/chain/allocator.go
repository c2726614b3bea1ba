package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/setrebalancer/internal/contracts"
)

// AllocatorPlanner simulates an allocator's determineNewAllocation with
// eth_call to learn which basket an allocation change would propose.
type AllocatorPlanner struct {
	backend ethereum.ContractCaller
}

// NewAllocatorPlanner creates an AllocatorPlanner.
func NewAllocatorPlanner(backend ethereum.ContractCaller) *AllocatorPlanner {
	return &AllocatorPlanner{backend: backend}
}

// PlanNextBasket returns the basket the allocator would create or reuse for
// targetPercent of the risk asset.
func (p *AllocatorPlanner) PlanNextBasket(ctx context.Context, allocator common.Address, targetPercent uint64, currentBasket common.Address) (common.Address, error) {
	data, err := contracts.EncodeDetermineNewAllocation(targetPercent, currentBasket)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: encode allocation: %w", err)
	}
	raw, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &allocator, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: simulate allocation on %s: %w", allocator.Hex(), err)
	}
	out, err := contracts.Allocator.Unpack("determineNewAllocation", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: unpack allocation: %w", err)
	}
	next, ok := out[0].(common.Address)
	if !ok || next == (common.Address{}) {
		return common.Address{}, fmt.Errorf("chain: allocator %s returned no basket", allocator.Hex())
	}
	return next, nil
}
