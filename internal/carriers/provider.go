package carriers

import (
	"context"
	"errors"
)

// RateRequest describes the shipment the caller wants priced. Postal codes
// are the warehouse origin and the buyer's destination; the package fields
// are the aggregate of the cart lines.
type RateRequest struct {
	PickupPostalCode   string
	DeliveryPostalCode string
	WeightKg           float64
	LengthCm           float64
	BreadthCm          float64
	HeightCm           float64
}

// RateOption is a single courier offering returned by a rate lookup.
type RateOption struct {
	Label string
	// Fee in currency minor units.
	Fee int64
	ETA string
}

// ErrNoRates is returned when the carrier answers but offers no couriers for
// the route.
var ErrNoRates = errors.New("carriers: no rates available for route")

// RateProvider fetches courier rate options for a shipment. Implementations
// must honour the context deadline; callers treat any error as a signal to
// fall back to local estimation.
type RateProvider interface {
	FetchRates(ctx context.Context, req RateRequest) ([]RateOption, error)
}

// RateProviderFunc adapts ordinary functions to RateProvider.
type RateProviderFunc func(ctx context.Context, req RateRequest) ([]RateOption, error)

// FetchRates invokes the wrapped function.
func (f RateProviderFunc) FetchRates(ctx context.Context, req RateRequest) ([]RateOption, error) {
	return f(ctx, req)
}
