package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/aarnya/checkout/internal/platform/firestore"
	"github.com/aarnya/checkout/internal/repositories"
)

const defaultProductCollection = "products"

// ProductRepository maintains per-product stock and purchase counters.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider, collection string) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultProductCollection
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, collection, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

// RecordPurchase decrements stock and increments the purchase counter in one
// transaction. The decrement is conditional: a write that would push stock
// negative fails with ErrInsufficientStock and leaves the document unchanged.
func (r *ProductRepository) RecordPurchase(ctx context.Context, productID string, quantity int) error {
	if r == nil || r.base == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product id is required")
	}
	if quantity <= 0 {
		return errors.New("quantity must be positive")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}

		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		doc, err := r.base.Decode(snap)
		if err != nil {
			return err
		}

		if doc.Stock < int64(quantity) {
			return repositories.ErrInsufficientStock
		}

		return tx.Update(docRef, []firestore.Update{
			{Path: "stock", Value: doc.Stock - int64(quantity)},
			{Path: "purchaseCount", Value: firestore.Increment(int64(quantity))},
		})
	})
	if errors.Is(err, repositories.ErrInsufficientStock) {
		return repositories.ErrInsufficientStock
	}
	return err
}

type productDocument struct {
	Stock         int64 `firestore:"stock"`
	PurchaseCount int64 `firestore:"purchaseCount"`
}

// Ensure the concrete type satisfies the repository interface.
var _ repositories.ProductRepository = (*ProductRepository)(nil)
