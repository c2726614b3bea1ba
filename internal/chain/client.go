// Package chain implements the ledger-facing domain interfaces on top of a
// go-ethereum JSON-RPC client: state reads, transaction submission, mining
// waits and the block clock.
package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/contracts"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// Backend is the subset of ethclient.Client this package uses.
type Backend interface {
	ethereum.ContractCaller
	ethereum.TransactionReader
	ethereum.GasEstimator
	ethereum.TransactionSender
	ethereum.GasPricer
	ethereum.GasPricer1559
	ethereum.PendingStateReader
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// ClientConfig holds connection parameters for the RPC client.
type ClientConfig struct {
	RPCURL      string
	ChainID     int64
	DialTimeout time.Duration
}

// Client wraps an ethclient connection.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to the RPC endpoint and checks it serves the configured
// chain.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	eth, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	id, err := eth.ChainID(dialCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if cfg.ChainID != 0 && id.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: rpc serves chain %s, configured %d", id, cfg.ChainID)
	}
	return &Client{eth: eth}, nil
}

// Ping checks the connection by reading the head block number.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.eth.BlockNumber(ctx); err != nil {
		return fmt.Errorf("chain: ping: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Underlying returns the raw client.
func (c *Client) Underlying() *ethclient.Client {
	return c.eth
}

// caller performs typed eth_calls against a pinned block.
type caller struct {
	backend ethereum.ContractCaller
}

// call packs method, executes it at block (nil for latest) and unpacks the
// outputs.
func (c caller) call(ctx context.Context, block *big.Int, to common.Address, a abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s on %s: %w", method, to.Hex(), err)
	}
	out, err := a.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s from %s: %w", method, to.Hex(), err)
	}
	return out, nil
}

func (c caller) callUint(ctx context.Context, block *big.Int, to common.Address, a abi.ABI, method string, args ...interface{}) (*uint256.Int, error) {
	out, err := c.call(ctx, block, to, a, method, args...)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

func (c caller) callAddress(ctx context.Context, block *big.Int, to common.Address, a abi.ABI, method string, args ...interface{}) (common.Address, error) {
	out, err := c.call(ctx, block, to, a, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: %s: unexpected %T", method, out[0])
	}
	return v, nil
}

func (c caller) callBool(ctx context.Context, block *big.Int, to common.Address, a abi.ABI, method string, args ...interface{}) (bool, error) {
	out, err := c.call(ctx, block, to, a, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: %s: unexpected %T", method, out[0])
	}
	return v, nil
}

func (c caller) callAddresses(ctx context.Context, block *big.Int, to common.Address, a abi.ABI, method string) ([]common.Address, error) {
	out, err := c.call(ctx, block, to, a, method)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("chain: %s: unexpected %T", method, out[0])
	}
	return v, nil
}

func (c caller) callUints(ctx context.Context, block *big.Int, to common.Address, a abi.ABI, method string, args ...interface{}) ([]*uint256.Int, error) {
	out, err := c.call(ctx, block, to, a, method, args...)
	if err != nil {
		return nil, err
	}
	return bigsAt(out, 0)
}

func bigAt(out []interface{}, i int) (*uint256.Int, error) {
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: output %d: unexpected %T", i, out[i])
	}
	return contracts.Uint256(v)
}

func bigsAt(out []interface{}, i int) ([]*uint256.Int, error) {
	vs, ok := out[i].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: output %d: unexpected %T", i, out[i])
	}
	res := make([]*uint256.Int, len(vs))
	for j, v := range vs {
		u, err := contracts.Uint256(v)
		if err != nil {
			return nil, err
		}
		res[j] = u
	}
	return res, nil
}

// unixTime converts a ledger timestamp. Zero stays the zero time.
func unixTime(v *uint256.Int) (time.Time, error) {
	if v == nil || v.IsZero() {
		return time.Time{}, nil
	}
	if !v.IsUint64() || v.Uint64() > math.MaxInt64 {
		return time.Time{}, fmt.Errorf("chain: timestamp %s: %w", v.Dec(), domain.ErrMalformedAuctionState)
	}
	return time.Unix(int64(v.Uint64()), 0).UTC(), nil
}

// seconds converts a ledger duration, rejecting values past time.Duration.
func seconds(v *uint256.Int) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsUint64() || v.Uint64() > uint64(math.MaxInt64/int64(time.Second)) {
		return 0, fmt.Errorf("chain: duration %s seconds: %w", v.Dec(), domain.ErrMalformedAuctionState)
	}
	return time.Duration(v.Uint64()) * time.Second, nil
}
