package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/aarnya/checkout/internal/domain"
)

// ErrUsageLedgerMissing is returned when an operation needs the usage ledger
// and none was wired.
var ErrUsageLedgerMissing = errors.New("promotion catalog: usage ledger is required")

// ErrDuplicatePromotionCode is returned when two definitions normalise to the
// same code.
var ErrDuplicatePromotionCode = errors.New("promotion catalog: duplicate promotion code")

// PromotionCatalogDeps bundles dependencies for NewPromotionCatalog.
type PromotionCatalogDeps struct {
	// Definitions defaults to DefaultPromotions when empty.
	Definitions []domain.PromotionDefinition
	// Ledger is needed for VisibleTo; the lookup paths work without it.
	Ledger UsageLedger
}

type promotionCatalog struct {
	byCode  map[string]domain.PromotionDefinition
	ordered []domain.PromotionDefinition
	ledger  UsageLedger
}

// NewPromotionCatalog builds the read-only promotion set. Codes are unique
// case-insensitively.
func NewPromotionCatalog(deps PromotionCatalogDeps) (PromotionCatalog, error) {
	definitions := deps.Definitions
	if len(definitions) == 0 {
		definitions = DefaultPromotions()
	}

	byCode := make(map[string]domain.PromotionDefinition, len(definitions))
	ordered := make([]domain.PromotionDefinition, 0, len(definitions))
	for _, def := range definitions {
		code := strings.ToUpper(strings.TrimSpace(def.Code))
		if code == "" {
			return nil, errors.New("promotion catalog: promotion code is required")
		}
		if _, exists := byCode[code]; exists {
			return nil, ErrDuplicatePromotionCode
		}
		def.Code = code
		byCode[code] = def
		ordered = append(ordered, def)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Code < ordered[j].Code })

	return &promotionCatalog{
		byCode:  byCode,
		ordered: ordered,
		ledger:  deps.Ledger,
	}, nil
}

func (c *promotionCatalog) FindByCode(code string) (domain.PromotionDefinition, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.PromotionDefinition{}, false
	}
	def, ok := c.byCode[normalized]
	return def, ok
}

func (c *promotionCatalog) VisibleTo(ctx context.Context, userID string, now time.Time) ([]domain.PromotionDefinition, error) {
	if c.ledger == nil {
		return nil, ErrUsageLedgerMissing
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("promotion catalog: user id is required")
	}

	var visible []domain.PromotionDefinition
	for _, def := range c.ordered {
		if !def.Active || !def.ShowInBanner || !def.InWindow(now) {
			continue
		}
		used, err := c.ledger.HasUsed(ctx, userID, def.Code)
		if err != nil {
			return nil, err
		}
		if used {
			continue
		}
		visible = append(visible, def)
	}
	return visible, nil
}

func (c *promotionCatalog) CheckoutCodes(now time.Time) []domain.PromotionDefinition {
	var codes []domain.PromotionDefinition
	for _, def := range c.ordered {
		if !def.Active || !def.ShowInCheckout || !def.InWindow(now) {
			continue
		}
		codes = append(codes, def)
	}
	return codes
}

// DefaultPromotions returns the stock promotion set shipped with the store.
func DefaultPromotions() []domain.PromotionDefinition {
	standard := domain.SpeedStandard
	express := domain.SpeedExpress
	validFrom := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	validUntil := time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC)

	return []domain.PromotionDefinition{
		{
			Code:        "FREEDELIVERY",
			Name:        "Free Delivery",
			Description: "Free standard shipping on your first order",
			Kind:        domain.PromotionFreeShipping,
			AppliesTo:   domain.AppliesToStandardShipping,
			Conditions: domain.PromotionConditions{
				FirstOrderOnly:    true,
				RequiredSpeedTier: &standard,
			},
			ValidFrom:      validFrom,
			ValidUntil:     validUntil,
			Active:         true,
			ShowInBanner:   true,
			ShowInCheckout: true,
			BannerText:     "First order? Standard delivery is on us with FREEDELIVERY",
		},
		{
			Code:        "EXPRESS50",
			Name:        "Express 50",
			Description: "50% off express shipping on carts over 499",
			Kind:        domain.PromotionPercentageShipping,
			Value:       50,
			AppliesTo:   domain.AppliesToExpressShipping,
			Conditions: domain.PromotionConditions{
				RequiredSpeedTier: &express,
				MinCartValue:      499,
			},
			ValidFrom:      validFrom,
			ValidUntil:     validUntil,
			Active:         true,
			ShowInBanner:   true,
			ShowInCheckout: true,
			BannerText:     "Half-price express shipping with EXPRESS50",
		},
		{
			Code:        "ABHI100",
			Name:        "Flat 100 Off",
			Description: "100 off carts over 799",
			Kind:        domain.PromotionFixedAmount,
			Value:       100,
			AppliesTo:   domain.AppliesToSubtotal,
			Conditions: domain.PromotionConditions{
				MinCartValue: 799,
			},
			ValidFrom:      validFrom,
			ValidUntil:     validUntil,
			Active:         true,
			ShowInCheckout: true,
		},
	}
}
