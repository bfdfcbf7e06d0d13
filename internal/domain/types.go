package domain

import (
	"strings"
	"time"
)

// SpeedTier is the delivery service level selected by the buyer. It drives
// both the shipping fee and promotion eligibility.
type SpeedTier string

const (
	// SpeedStandard is the default 5-7 day delivery tier.
	SpeedStandard SpeedTier = "standard"
	// SpeedExpress is the premium 2-3 day delivery tier.
	SpeedExpress SpeedTier = "express"
)

// ParseSpeedTier normalises a raw tier string into a SpeedTier.
func ParseSpeedTier(raw string) (SpeedTier, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(SpeedStandard):
		return SpeedStandard, true
	case string(SpeedExpress):
		return SpeedExpress, true
	default:
		return "", false
	}
}

// Valid reports whether the tier is one of the supported values.
func (t SpeedTier) Valid() bool {
	return t == SpeedStandard || t == SpeedExpress
}

// CartLine is an immutable snapshot of one cart entry taken at checkout start.
// Prices are in currency minor units; dimensions feed the package aggregate
// used for carrier rate lookups.
type CartLine struct {
	ProductID string
	UnitPrice int64
	Quantity  int
	WeightKg  float64
	LengthCm  float64
	BreadthCm float64
	HeightCm  float64
}

// Subtotal returns the line subtotal in minor units.
func (l CartLine) Subtotal() int64 {
	if l.Quantity <= 0 || l.UnitPrice <= 0 {
		return 0
	}
	return l.UnitPrice * int64(l.Quantity)
}

// CartSubtotal sums the line subtotals of the snapshot.
func CartSubtotal(lines []CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.Subtotal()
	}
	return total
}

// Address carries the buyer's selected shipping address. Pricing logic only
// consumes the postal code; the display fields travel along for the frozen
// order snapshot.
type Address struct {
	ID         string
	FullName   string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	IsDefault  bool
}

// QuoteSource identifies which path produced a delivery quote.
type QuoteSource string

const (
	// QuoteSourceCarrier marks quotes returned by the remote rate lookup.
	QuoteSourceCarrier QuoteSource = "carrier"
	// QuoteSourceHeuristic marks quotes computed by the local fallback formula.
	QuoteSourceHeuristic QuoteSource = "heuristic"
)

// DeliveryQuote is an ephemeral per-request shipping estimate. Quotes are
// recomputed per (address, cart, tier) combination and never persisted.
type DeliveryQuote struct {
	Fee          int64
	CarrierLabel string
	ETA          string
	Tier         SpeedTier
	Source       QuoteSource
}

// PromotionKind enumerates the supported discount mechanics.
type PromotionKind string

const (
	// PromotionFixedAmount subtracts a fixed amount from the cart subtotal.
	PromotionFixedAmount PromotionKind = "fixed_amount"
	// PromotionPercentageShipping discounts a percentage of the live shipping fee.
	PromotionPercentageShipping PromotionKind = "percentage_shipping"
	// PromotionFreeShipping waives the full currently quoted shipping fee.
	PromotionFreeShipping PromotionKind = "free_shipping"
)

// PromotionAppliesTo names the pricing component a promotion targets.
type PromotionAppliesTo string

const (
	// AppliesToSubtotal targets the cart subtotal.
	AppliesToSubtotal PromotionAppliesTo = "subtotal"
	// AppliesToStandardShipping targets the standard-tier shipping fee.
	AppliesToStandardShipping PromotionAppliesTo = "standard_shipping"
	// AppliesToExpressShipping targets the express-tier shipping fee.
	AppliesToExpressShipping PromotionAppliesTo = "express_shipping"
)

// PromotionConditions gate a promotion's eligibility against the checkout context.
type PromotionConditions struct {
	FirstOrderOnly    bool
	RequiredSpeedTier *SpeedTier
	MinCartValue      int64
}

// PromotionDefinition is a configured, read-only promotion. Codes are unique
// case-insensitively; lookups operate on the upper-cased form.
type PromotionDefinition struct {
	Code        string
	Name        string
	Description string
	Kind        PromotionKind
	Value       int64
	AppliesTo   PromotionAppliesTo
	Conditions  PromotionConditions
	ValidFrom   time.Time
	ValidUntil  time.Time
	Active      bool
	// ShowInBanner exposes the promotion on marketing banners.
	ShowInBanner bool
	// ShowInCheckout lists the code on the checkout promo picker. A code
	// hidden from both surfaces stays redeemable by direct entry.
	ShowInCheckout bool
	BannerText     string
}

// InWindow reports whether now falls inside the promotion's validity window.
// Zero bounds are treated as open.
func (p PromotionDefinition) InWindow(now time.Time) bool {
	if !p.ValidFrom.IsZero() && now.Before(p.ValidFrom) {
		return false
	}
	if !p.ValidUntil.IsZero() && now.After(p.ValidUntil) {
		return false
	}
	return true
}

// PromotionApplication is the transient, session-scoped result of a successful
// validation. It is not persisted until the order commits.
type PromotionApplication struct {
	Code             string
	Discount         int64
	ShippingDiscount int64
}

// RejectionReason is a user-facing, expected validation outcome. Reasons are
// values surfaced verbatim to the checkout UI, never logged as errors.
type RejectionReason string

const (
	// RejectionInvalidCode means the code is unknown.
	RejectionInvalidCode RejectionReason = "invalid_code"
	// RejectionExpired means the promotion is inactive or outside its window.
	RejectionExpired RejectionReason = "expired"
	// RejectionAlreadyUsed means the user already redeemed the code.
	RejectionAlreadyUsed RejectionReason = "already_used"
	// RejectionNotFirstOrder means the code is restricted to first orders.
	RejectionNotFirstOrder RejectionReason = "not_first_order"
	// RejectionWrongShippingType means the selected tier does not match.
	RejectionWrongShippingType RejectionReason = "wrong_shipping_type"
	// RejectionBelowMinimum means the cart subtotal is under the threshold.
	RejectionBelowMinimum RejectionReason = "below_minimum"
)

// UsageEntry is one redemption in a user's promo history.
type UsageEntry struct {
	Code             string
	UsedAt           time.Time
	OrderID          string
	Discount         int64
	ShippingDiscount int64
}

// UsageRecord is the durable per-user ledger of redeemed promotion codes.
// A code appears in UsedCodes iff it was applied to a finalized order.
type UsageRecord struct {
	UserID    string
	UsedCodes []string
	History   []UsageEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCode reports whether the record already contains the given code.
func (r UsageRecord) HasCode(code string) bool {
	for _, used := range r.UsedCodes {
		if used == code {
			return true
		}
	}
	return false
}

// Order is the frozen pricing snapshot persisted at payment confirmation.
// Immutable after creation except for fulfillment status, which is out of
// this core's scope.
type Order struct {
	ID               string
	UserID           string
	Lines            []CartLine
	Subtotal         int64
	Discount         int64
	ShippingFee      int64
	ShippingDiscount int64
	Total            int64
	SpeedTier        SpeedTier
	ShippingAddress  Address
	DeliveryETA      string
	CarrierLabel     string
	PromoCode        string
	PaymentRef       string
	CreatedAt        time.Time
}

// PaymentConfirmation is the authoritative proof of payment delivered by the
// external payment provider. The orchestrator trusts it as-is.
type PaymentConfirmation struct {
	TransactionRef string
	AmountCharged  int64
}

// CheckoutProfile is the slice of the user document the pricing core consumes.
type CheckoutProfile struct {
	UserID     string
	OrderCount int64
}

// IsFirstOrder reports whether the user has no completed orders yet.
func (p CheckoutProfile) IsFirstOrder() bool {
	return p.OrderCount == 0
}
