package contracts

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

func TestEncodeAdjustFee_HashIsKeccakOfCallData(t *testing.T) {
	pool := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	data, hash, err := EncodeAdjustFee(pool, domain.FeeProfit, domain.BasisPoints(1500))
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(data), hash)
	assert.Equal(t, TradingManager.Methods["adjustFee"].ID, data[:4])

	// Same request, same hash; different fee type, different hash.
	_, again, err := EncodeAdjustFee(pool, domain.FeeProfit, domain.BasisPoints(1500))
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	_, other, err := EncodeAdjustFee(pool, domain.FeeStreaming, domain.BasisPoints(1500))
	require.NoError(t, err)
	assert.NotEqual(t, hash, other)
}

func TestEncodeFeeCallData_Layout(t *testing.T) {
	data, err := EncodeFeeCallData(domain.FeeProfit, uint256.NewInt(7))
	require.NoError(t, err)
	require.Len(t, data, 64)
	assert.Equal(t, byte(1), data[31])
	assert.Equal(t, byte(7), data[63])
}

func TestEncodeBid_SelectorPerKind(t *testing.T) {
	basket := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	q := uint256.NewInt(300)

	tests := []struct {
		kind     domain.BidderKind
		selector []byte
	}{
		{domain.BidderPlain, AuctionModule.Methods["bidAndWithdraw"].ID},
		{domain.BidderEther, EtherBidder.Methods["bidAndWithdrawWithEther"].ID},
		{domain.BidderCToken, CTokenBidder.Methods["bidAndWithdraw"].ID},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			data, err := EncodeBid(tc.kind, basket, q, true)
			require.NoError(t, err)
			assert.Equal(t, tc.selector, data[:4])
		})
	}

	_, err := EncodeBid("bogus", basket, q, false)
	assert.ErrorIs(t, err, domain.ErrInvalidParams)
}

func TestStateFromOrdinal(t *testing.T) {
	for i, want := range []domain.RebalanceState{
		domain.StateDefault, domain.StateProposal, domain.StateRebalance, domain.StateDrawdown,
	} {
		got, err := StateFromOrdinal(uint8(i))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := StateFromOrdinal(9)
	assert.ErrorIs(t, err, domain.ErrMalformedAuctionState)
}
