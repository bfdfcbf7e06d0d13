package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aarnya/checkout/internal/domain"
	pfirestore "github.com/aarnya/checkout/internal/platform/firestore"
	"github.com/aarnya/checkout/internal/repositories"
)

const defaultUserCollection = "users"

// UserRepository reads and updates the slice of the user document consumed by
// the pricing core: the completed order counter.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider, collection string) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultUserCollection
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, collection, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

// CheckoutProfile loads the user's order counter. A user document without the
// counter field counts as zero orders.
func (r *UserRepository) CheckoutProfile(ctx context.Context, userID string) (domain.CheckoutProfile, error) {
	if r == nil || r.base == nil {
		return domain.CheckoutProfile{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CheckoutProfile{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.CheckoutProfile{}, err
	}

	return domain.CheckoutProfile{
		UserID:     userID,
		OrderCount: doc.Data.OrderCount,
	}, nil
}

// IncrementOrderCount bumps the completed order counter by one, creating the
// counter field when the document predates it.
func (r *UserRepository) IncrementOrderCount(ctx context.Context, userID string) error {
	if r == nil || r.base == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}

		snap, err := tx.Get(docRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap == nil || !snap.Exists() {
			return tx.Set(docRef, map[string]any{"orderCount": int64(1)}, firestore.MergeAll)
		}
		return tx.Update(docRef, []firestore.Update{
			{Path: "orderCount", Value: firestore.Increment(int64(1))},
		})
	})
}

type userDocument struct {
	OrderCount int64 `firestore:"orderCount"`
}

// Ensure the concrete type satisfies the repository interface.
var _ repositories.UserRepository = (*UserRepository)(nil)
