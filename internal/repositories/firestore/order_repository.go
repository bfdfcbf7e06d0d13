package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aarnya/checkout/internal/domain"
	pfirestore "github.com/aarnya/checkout/internal/platform/firestore"
	"github.com/aarnya/checkout/internal/repositories"
)

const defaultOrderCollection = "orders"

// OrderRepository persists frozen order snapshots. Orders are create-only;
// a duplicate id surfaces as a conflict.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, collection string) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultOrderCollection
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, collection, nil)
	return &OrderRepository{base: base}, nil
}

// Insert writes the order document, failing when the id already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	if strings.TrimSpace(order.UserID) == "" {
		return errors.New("order user id is required")
	}

	_, err := r.base.Create(ctx, order.ID, fromDomainOrder(order))
	return err
}

type orderDocument struct {
	UserID           string              `firestore:"userId"`
	Lines            []orderLineDocument `firestore:"lines"`
	Subtotal         int64               `firestore:"subtotal"`
	Discount         int64               `firestore:"discount"`
	ShippingFee      int64               `firestore:"shippingFee"`
	ShippingDiscount int64               `firestore:"shippingDiscount"`
	Total            int64               `firestore:"total"`
	SpeedTier        string              `firestore:"speedTier"`
	ShippingAddress  addressDocument     `firestore:"shippingAddress"`
	DeliveryETA      string              `firestore:"deliveryEta,omitempty"`
	CarrierLabel     string              `firestore:"carrierLabel,omitempty"`
	PromoCode        string              `firestore:"promoCode,omitempty"`
	PaymentRef       string              `firestore:"paymentRef"`
	CreatedAt        time.Time           `firestore:"createdAt"`
}

type orderLineDocument struct {
	ProductID string  `firestore:"productId"`
	UnitPrice int64   `firestore:"unitPrice"`
	Quantity  int     `firestore:"quantity"`
	WeightKg  float64 `firestore:"weightKg,omitempty"`
}

type addressDocument struct {
	FullName   string `firestore:"fullName,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		UserID:           strings.TrimSpace(order.UserID),
		Subtotal:         order.Subtotal,
		Discount:         order.Discount,
		ShippingFee:      order.ShippingFee,
		ShippingDiscount: order.ShippingDiscount,
		Total:            order.Total,
		SpeedTier:        string(order.SpeedTier),
		DeliveryETA:      strings.TrimSpace(order.DeliveryETA),
		CarrierLabel:     strings.TrimSpace(order.CarrierLabel),
		PromoCode:        strings.TrimSpace(order.PromoCode),
		PaymentRef:       strings.TrimSpace(order.PaymentRef),
		CreatedAt:        order.CreatedAt,
		ShippingAddress: addressDocument{
			FullName:   strings.TrimSpace(order.ShippingAddress.FullName),
			Phone:      strings.TrimSpace(order.ShippingAddress.Phone),
			Line1:      strings.TrimSpace(order.ShippingAddress.Line1),
			Line2:      strings.TrimSpace(order.ShippingAddress.Line2),
			City:       strings.TrimSpace(order.ShippingAddress.City),
			State:      strings.TrimSpace(order.ShippingAddress.State),
			PostalCode: strings.TrimSpace(order.ShippingAddress.PostalCode),
		},
	}
	if len(order.Lines) > 0 {
		doc.Lines = make([]orderLineDocument, 0, len(order.Lines))
		for _, line := range order.Lines {
			doc.Lines = append(doc.Lines, orderLineDocument{
				ProductID: strings.TrimSpace(line.ProductID),
				UnitPrice: line.UnitPrice,
				Quantity:  line.Quantity,
				WeightKg:  line.WeightKg,
			})
		}
	}
	return doc
}

// Ensure the concrete type satisfies the repository interface.
var _ repositories.OrderRepository = (*OrderRepository)(nil)
