package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/setrebalancer/internal/contracts"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// TxSigner signs transactions for one account.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// SenderBackend is what Submitter needs from the RPC client.
type SenderBackend interface {
	ethereum.GasEstimator
	ethereum.GasPricer1559
	ethereum.TransactionSender
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// SubmitterConfig tunes gas selection.
type SubmitterConfig struct {
	// GasBufferPercent is added on top of the node's estimate.
	GasBufferPercent uint64
	// MaxGasLimit caps the gas limit of any transaction. Zero disables it.
	MaxGasLimit uint64
}

// Submitter signs and broadcasts EIP-1559 transactions. Submissions from
// this process are serialised so nonces are assigned in order.
type Submitter struct {
	backend SenderBackend
	signer  TxSigner
	cfg     SubmitterConfig
	logger  *slog.Logger

	mu sync.Mutex
}

var _ domain.Submitter = (*Submitter)(nil)

// NewSubmitter creates a Submitter.
func NewSubmitter(backend SenderBackend, signer TxSigner, cfg SubmitterConfig, logger *slog.Logger) *Submitter {
	return &Submitter{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "submitter")),
	}
}

// From implements domain.Submitter.
func (s *Submitter) From() common.Address {
	return s.signer.Address()
}

// Submit implements domain.Submitter. A gas estimate the node rejects with
// an execution error means the ledger would revert the call, so nothing is
// sent. Other estimate failures are returned as they are.
func (s *Submitter) Submit(ctx context.Context, req domain.TxRequest) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.signer.Address()
	value := contracts.Big(req.Value)
	to := req.To

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: req.Data, Value: value})
	if err != nil {
		if isExecutionError(err) {
			return common.Hash{}, fmt.Errorf("chain: estimate gas: %w: %v", domain.ErrTransactionReverted, err)
		}
		return common.Hash{}, fmt.Errorf("chain: estimate gas: %w", err)
	}
	gas += gas * s.cfg.GasBufferPercent / 100
	if s.cfg.MaxGasLimit > 0 && gas > s.cfg.MaxGasLimit {
		gas = s.cfg.MaxGasLimit
	}

	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pending nonce: %w", err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: suggest tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: head header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := s.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "transaction sent",
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return signed.Hash(), nil
}

// isExecutionError reports whether err is the node refusing the call because
// the EVM reverted, as opposed to a transport or context failure.
func isExecutionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Every JSON-RPC error implements DataError; only reverts carry data.
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
