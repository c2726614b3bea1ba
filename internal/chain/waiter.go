package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// ReceiptBackend is what Waiter needs from the RPC client.
type ReceiptBackend interface {
	ethereum.TransactionReader
	ethereum.ContractCaller
}

// WaiterConfig bounds a mining wait.
type WaiterConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Waiter polls for transaction receipts.
type Waiter struct {
	backend ReceiptBackend
	cfg     WaiterConfig
	logger  *slog.Logger
}

var _ domain.MiningWaiter = (*Waiter)(nil)

// NewWaiter creates a Waiter. Zero config values fall back to a 2s poll and
// a 5 minute timeout.
func NewWaiter(backend ReceiptBackend, cfg WaiterConfig, logger *slog.Logger) *Waiter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Waiter{backend: backend, cfg: cfg, logger: logger.With(slog.String("component", "waiter"))}
}

// WaitMined implements domain.MiningWaiter. It returns ErrTimeout when the
// deadline passes, ctx.Err() when the caller cancels, and a *RevertError
// alongside the receipt when the transaction failed. The deadline also
// bounds each receipt RPC, so a stalled node cannot hold the wait open.
func (w *Waiter) WaitMined(ctx context.Context, txHash common.Hash) (domain.Receipt, error) {
	pctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	expired := func() (domain.Receipt, error) {
		if err := ctx.Err(); err != nil {
			return domain.Receipt{}, err
		}
		return domain.Receipt{}, fmt.Errorf("chain: %w: %s after %s", domain.ErrTimeout, txHash.Hex(), w.cfg.Timeout)
	}

	for {
		r, err := w.backend.TransactionReceipt(pctx, txHash)
		switch {
		case err == nil:
			return w.finish(pctx, r)
		case pctx.Err() != nil:
			return expired()
		case errors.Is(err, ethereum.NotFound):
		default:
			w.logger.WarnContext(ctx, "receipt poll failed",
				slog.String("tx_hash", txHash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-pctx.Done():
			return expired()
		case <-ticker.C:
		}
	}
}

func (w *Waiter) finish(ctx context.Context, r *types.Receipt) (domain.Receipt, error) {
	out := domain.Receipt{
		TxHash:  r.TxHash,
		GasUsed: r.GasUsed,
		Success: r.Status == types.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if out.Success {
		return out, nil
	}
	return out, &domain.RevertError{TxHash: r.TxHash.Hex(), Reason: w.revertReason(ctx, r)}
}

// revertReason replays the transaction at its block to recover the revert
// message. An empty string means it could not be recovered.
func (w *Waiter) revertReason(ctx context.Context, r *types.Receipt) string {
	tx, _, err := w.backend.TransactionByHash(ctx, r.TxHash)
	if err != nil || tx.To() == nil {
		return ""
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return ""
	}
	_, err = w.backend.CallContract(ctx, ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, r.BlockNumber)
	if err == nil {
		return ""
	}
	return err.Error()
}
