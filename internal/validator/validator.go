// Package validator runs the pre-submission checks for every caller action.
// Each validator re-reads mutable ledger state on every call and returns a
// *domain.ValidationError describing the first check that failed, so a
// transaction that passes here is one the ledger is expected to accept.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/setrebalancer/internal/auction"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// Deps are the collaborators shared by all validators.
type Deps struct {
	Ledger   domain.LedgerReader
	Registry domain.Registry
	Metadata domain.MetadataReader
	Clock    domain.Clock
	// Curves maps approved curve addresses whose arithmetic is evaluated
	// locally. Approved curves missing here are priced by the ledger.
	Curves map[common.Address]auction.PriceCurve
	Logger *slog.Logger
}

func (d Deps) logger(component string) *slog.Logger {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", component))
}

func (d Deps) now(ctx context.Context) (time.Time, error) {
	if d.Clock == nil {
		return time.Now(), nil
	}
	now, err := d.Clock.Now(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("validator: read clock: %w", err)
	}
	return now, nil
}

// checkCurveApproved fails with ErrInvalidPriceCurve unless the registry
// approves curve.
func (d Deps) checkCurveApproved(ctx context.Context, op string, curve common.Address) error {
	ok, err := d.Registry.IsApprovedPriceCurve(ctx, curve)
	if err != nil {
		return fmt.Errorf("validator: %s: check price curve: %w", op, err)
	}
	if !ok {
		return domain.NewValidationError(op, domain.ErrInvalidPriceCurve,
			fmt.Sprintf("price curve %s is not approved", curve.Hex()))
	}
	return nil
}

// checkBasketRegistered fails with ErrInvalidBasket unless the core knows
// basket.
func (d Deps) checkBasketRegistered(ctx context.Context, op string, basket common.Address) error {
	ok, err := d.Registry.IsValidBasket(ctx, basket)
	if err != nil {
		return fmt.Errorf("validator: %s: check basket: %w", op, err)
	}
	if !ok {
		return domain.NewValidationError(op, domain.ErrInvalidBasket,
			fmt.Sprintf("basket %s is not registered", basket.Hex()))
	}
	return nil
}

func readErr(op, what string, err error) error {
	return fmt.Errorf("validator: %s: read %s: %w", op, what, err)
}
