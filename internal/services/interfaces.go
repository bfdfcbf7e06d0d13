package services

import (
	"context"
	"time"

	"github.com/aarnya/checkout/internal/domain"
	"github.com/aarnya/checkout/internal/repositories"
)

// EstimateRequest identifies the shipment a delivery quote is computed for.
type EstimateRequest struct {
	Lines   []domain.CartLine
	Address domain.Address
	Tier    domain.SpeedTier
}

// DeliveryEstimator produces shipping quotes. Estimation never fails: when
// the carrier lookup errors the estimator answers from the local heuristic
// and the quote's Source reports which path produced it.
type DeliveryEstimator interface {
	Estimate(ctx context.Context, req EstimateRequest) domain.DeliveryQuote
	// EstimateBoth quotes the standard and express tiers for the same
	// shipment, issuing the lookups concurrently.
	EstimateBoth(ctx context.Context, lines []domain.CartLine, address domain.Address) (standard, express domain.DeliveryQuote)
}

// PromotionCatalog is the read-only set of configured promotions.
type PromotionCatalog interface {
	// FindByCode looks up a promotion by its normalized (trimmed, upper-cased)
	// code. The second return reports whether the code exists at all,
	// regardless of active state or window.
	FindByCode(code string) (domain.PromotionDefinition, bool)
	// VisibleTo lists the banner-visible promotions currently open to the
	// user, excluding codes the user has already redeemed.
	VisibleTo(ctx context.Context, userID string, now time.Time) ([]domain.PromotionDefinition, error)
	// CheckoutCodes lists the active, in-window promotions surfaced on the
	// checkout screen, hidden codes excluded.
	CheckoutCodes(now time.Time) []domain.PromotionDefinition
}

// UsageLedger tracks which promotion codes a user has redeemed.
type UsageLedger interface {
	HasUsed(ctx context.Context, userID, code string) (bool, error)
	// MarkUsed records a redemption. Passes through
	// repositories.ErrUsageAlreadyMarked on a duplicate mark.
	MarkUsed(ctx context.Context, userID, code string, usage repositories.UsageContext) error
	History(ctx context.Context, userID string) ([]domain.UsageEntry, error)
}

// ValidatePromotionCommand carries the full checkout context a promotion is
// judged against.
type ValidatePromotionCommand struct {
	Code               string
	UserID             string
	CartSubtotal       int64
	SpeedTier          domain.SpeedTier
	CurrentShippingFee int64
	IsFirstOrder       bool
}

// PromotionValidation is the outcome of validating one code. Ineligibility is
// a value, not an error; the error return of Validate is reserved for
// infrastructure failures.
type PromotionValidation struct {
	Eligible    bool
	Reason      domain.RejectionReason
	Application domain.PromotionApplication
}

// PromotionEngine validates promotion codes against a checkout context.
// Validation is read-only; redemption is recorded only at finalization.
type PromotionEngine interface {
	Validate(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidation, error)
}
