package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/aarnya/checkout/internal/domain"
)

// ErrPromotionCatalogMissing is returned when the engine is constructed
// without a catalog.
var ErrPromotionCatalogMissing = errors.New("promotion engine: catalog is required")

// ErrPromotionLedgerMissing is returned when the engine is constructed
// without a usage ledger.
var ErrPromotionLedgerMissing = errors.New("promotion engine: usage ledger is required")

// PromotionEngineDeps bundles dependencies for NewPromotionEngine.
type PromotionEngineDeps struct {
	Catalog PromotionCatalog
	Ledger  UsageLedger
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type promotionEngine struct {
	catalog PromotionCatalog
	ledger  UsageLedger
	clock   func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewPromotionEngine wires a PromotionEngine over the catalog and ledger.
func NewPromotionEngine(deps PromotionEngineDeps) (PromotionEngine, error) {
	if deps.Catalog == nil {
		return nil, ErrPromotionCatalogMissing
	}
	if deps.Ledger == nil {
		return nil, ErrPromotionLedgerMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &promotionEngine{
		catalog: deps.Catalog,
		ledger:  deps.Ledger,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Validate judges the code against the checkout context. Checks run in a
// fixed order so the surfaced reason is deterministic: existence, lifecycle,
// prior use, conditions, then discount computation.
func (e *promotionEngine) Validate(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidation, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return rejection(domain.RejectionInvalidCode), nil
	}

	promo, ok := e.catalog.FindByCode(code)
	if !ok {
		return rejection(domain.RejectionInvalidCode), nil
	}

	now := e.clock()
	if !promo.Active || !promo.InWindow(now) {
		return rejection(domain.RejectionExpired), nil
	}

	used, err := e.ledger.HasUsed(ctx, cmd.UserID, code)
	if err != nil {
		return PromotionValidation{}, err
	}
	if used {
		return rejection(domain.RejectionAlreadyUsed), nil
	}

	if promo.Conditions.FirstOrderOnly && !cmd.IsFirstOrder {
		return rejection(domain.RejectionNotFirstOrder), nil
	}
	if required := promo.Conditions.RequiredSpeedTier; required != nil && *required != cmd.SpeedTier {
		return rejection(domain.RejectionWrongShippingType), nil
	}
	if promo.Conditions.MinCartValue > 0 && cmd.CartSubtotal < promo.Conditions.MinCartValue {
		return rejection(domain.RejectionBelowMinimum), nil
	}

	application := computeApplication(promo, cmd)
	e.logger(ctx, "promo.validated", map[string]any{
		"code":             application.Code,
		"userId":           strings.TrimSpace(cmd.UserID),
		"discount":         application.Discount,
		"shippingDiscount": application.ShippingDiscount,
	})

	return PromotionValidation{Eligible: true, Application: application}, nil
}

// computeApplication resolves the discount amounts. Shipping-facing kinds use
// the live fee for the selected tier. Amounts are reported as configured;
// clamping against the priced components happens only when totals are summed.
func computeApplication(promo domain.PromotionDefinition, cmd ValidatePromotionCommand) domain.PromotionApplication {
	application := domain.PromotionApplication{Code: promo.Code}

	switch promo.Kind {
	case domain.PromotionFixedAmount:
		application.Discount = promo.Value
	case domain.PromotionPercentageShipping:
		application.ShippingDiscount = int64(math.Round(float64(cmd.CurrentShippingFee) * float64(promo.Value) / 100))
	case domain.PromotionFreeShipping:
		application.ShippingDiscount = cmd.CurrentShippingFee
	}
	return application
}

func rejection(reason domain.RejectionReason) PromotionValidation {
	return PromotionValidation{Eligible: false, Reason: reason}
}
