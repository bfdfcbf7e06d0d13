package repositories

import (
	"context"
	"errors"

	"github.com/aarnya/checkout/internal/domain"
)

// RepositoryError classifies persistence failures so services can react
// without knowing the backing store.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err represents a missing document.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err represents a conflicting write.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err represents a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// UsageContext carries the redemption details recorded alongside a mark.
type UsageContext struct {
	OrderID          string
	Discount         int64
	ShippingDiscount int64
}

// ErrUsageAlreadyMarked is returned by MarkUsed when the code is already part
// of the user's redemption set. Callers treat it as a benign outcome.
var ErrUsageAlreadyMarked = errors.New("promo usage: code already marked for user")

// ErrInsufficientStock is returned by RecordPurchase when the decrement would
// push the stock level negative.
var ErrInsufficientStock = errors.New("product: insufficient stock")

// OrderRepository persists frozen order snapshots. Insert is create-only and
// conflicts on a duplicate order id.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
}

// PromoUsageRepository stores the per-user promotion redemption ledger.
type PromoUsageRepository interface {
	// Get loads the usage record. A user with no redemptions yet returns a
	// zero record, not an error.
	Get(ctx context.Context, userID string) (domain.UsageRecord, error)
	// MarkUsed atomically adds the code to the user's redemption set and
	// appends the history entry. Returns ErrUsageAlreadyMarked when the code
	// is already present; the record is left unchanged in that case.
	MarkUsed(ctx context.Context, userID, code string, usage UsageContext) error
}

// ProductRepository updates per-product counters at order finalization.
type ProductRepository interface {
	// RecordPurchase decrements stock by quantity and increments the purchase
	// counter, atomically. Returns ErrInsufficientStock when stock would go
	// negative.
	RecordPurchase(ctx context.Context, productID string, quantity int) error
}

// UserRepository exposes the slice of the user document the pricing core needs.
type UserRepository interface {
	CheckoutProfile(ctx context.Context, userID string) (domain.CheckoutProfile, error)
	IncrementOrderCount(ctx context.Context, userID string) error
}
