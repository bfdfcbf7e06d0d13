package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aarnya/checkout/internal/domain"
	pfirestore "github.com/aarnya/checkout/internal/platform/firestore"
	"github.com/aarnya/checkout/internal/repositories"
)

const defaultUsageCollection = "userPromoUsage"

// PromoUsageRepository persists per-user promotion redemption ledgers.
// Documents are keyed by user id.
type PromoUsageRepository struct {
	base     *pfirestore.BaseRepository[usageDocument]
	provider *pfirestore.Provider
	clock    func() time.Time
}

// NewPromoUsageRepository constructs a Firestore-backed usage repository.
// An empty collection name falls back to the default.
func NewPromoUsageRepository(provider *pfirestore.Provider, collection string, clock func() time.Time) (*PromoUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("promo usage repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultUsageCollection
	}
	if clock == nil {
		clock = time.Now
	}

	base := pfirestore.NewBaseRepository[usageDocument](provider, collection, nil)
	return &PromoUsageRepository{base: base, provider: provider, clock: clock}, nil
}

// Get loads the redemption record for the user. A missing document yields an
// empty record rather than an error.
func (r *PromoUsageRepository) Get(ctx context.Context, userID string) (domain.UsageRecord, error) {
	if r == nil || r.base == nil {
		return domain.UsageRecord{}, errors.New("promo usage repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UsageRecord{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.UsageRecord{UserID: userID}, nil
		}
		return domain.UsageRecord{}, err
	}

	record := toDomainUsage(doc.Data)
	record.UserID = userID
	return record, nil
}

// MarkUsed records a redemption with a transactional conditional write. The
// code is appended only when absent; a duplicate mark leaves the record
// untouched and returns ErrUsageAlreadyMarked.
func (r *PromoUsageRepository) MarkUsed(ctx context.Context, userID, code string, usage repositories.UsageContext) error {
	if r == nil || r.base == nil || r.provider == nil {
		return errors.New("promo usage repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	code = strings.ToUpper(strings.TrimSpace(code))
	if userID == "" {
		return errors.New("user id is required")
	}
	if code == "" {
		return errors.New("promo code is required")
	}

	now := r.clock().UTC()
	entry := usageEntryDocument{
		Code:             code,
		UsedAt:           now,
		OrderID:          strings.TrimSpace(usage.OrderID),
		Discount:         usage.Discount,
		ShippingDiscount: usage.ShippingDiscount,
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}

		snap, err := tx.Get(docRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		doc := usageDocument{UserID: userID, CreatedAt: now}
		if snap != nil && snap.Exists() {
			doc, err = r.base.Decode(snap)
			if err != nil {
				return err
			}
			doc.UserID = userID
		}

		for _, used := range doc.UsedCodes {
			if used == code {
				return repositories.ErrUsageAlreadyMarked
			}
		}

		doc.UsedCodes = append(doc.UsedCodes, code)
		doc.UsageHistory = append(doc.UsageHistory, entry)
		doc.UpdatedAt = now
		return tx.Set(docRef, doc)
	})
	if errors.Is(err, repositories.ErrUsageAlreadyMarked) {
		return repositories.ErrUsageAlreadyMarked
	}
	return err
}

type usageDocument struct {
	UserID       string               `firestore:"userId"`
	UsedCodes    []string             `firestore:"usedCodes"`
	UsageHistory []usageEntryDocument `firestore:"usageHistory"`
	CreatedAt    time.Time            `firestore:"createdAt"`
	UpdatedAt    time.Time            `firestore:"updatedAt"`
}

type usageEntryDocument struct {
	Code             string    `firestore:"code"`
	UsedAt           time.Time `firestore:"usedAt"`
	OrderID          string    `firestore:"orderId,omitempty"`
	Discount         int64     `firestore:"discount"`
	ShippingDiscount int64     `firestore:"shippingDiscount"`
}

func toDomainUsage(doc usageDocument) domain.UsageRecord {
	record := domain.UsageRecord{
		UserID:    doc.UserID,
		UsedCodes: append([]string(nil), doc.UsedCodes...),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if len(doc.UsageHistory) > 0 {
		record.History = make([]domain.UsageEntry, 0, len(doc.UsageHistory))
		for _, entry := range doc.UsageHistory {
			record.History = append(record.History, domain.UsageEntry{
				Code:             entry.Code,
				UsedAt:           entry.UsedAt,
				OrderID:          entry.OrderID,
				Discount:         entry.Discount,
				ShippingDiscount: entry.ShippingDiscount,
			})
		}
	}
	return record
}

// Ensure the concrete type satisfies the repository interface.
var _ repositories.PromoUsageRepository = (*PromoUsageRepository)(nil)
