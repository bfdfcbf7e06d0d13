package services

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aarnya/checkout/internal/carriers"
	"github.com/aarnya/checkout/internal/domain"
	"github.com/aarnya/checkout/internal/platform/config"
	"github.com/aarnya/checkout/internal/platform/observability"
)

const (
	minPackageWeightKg = 0.1
	minDimensionCm     = 1.0
	defaultDistanceKm  = 50.0
	kmPerPrefixStep    = 10.0
)

// ErrDeliveryConfigInvalid is returned when the estimator is constructed with
// an unusable delivery configuration.
var ErrDeliveryConfigInvalid = errors.New("delivery estimator: invalid delivery config")

// DeliveryEstimatorDeps bundles dependencies for NewDeliveryEstimator.
type DeliveryEstimatorDeps struct {
	// Carrier is optional; a nil provider means every quote is heuristic.
	Carrier carriers.RateProvider
	Config  config.DeliveryConfig
	// Timeout bounds each carrier lookup. Zero disables the extra deadline.
	Timeout     time.Duration
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Instruments observability.Instruments
}

type deliveryEstimator struct {
	carrier     carriers.RateProvider
	cfg         config.DeliveryConfig
	timeout     time.Duration
	logger      func(ctx context.Context, event string, fields map[string]any)
	instruments observability.Instruments
	tracer      trace.Tracer
}

// NewDeliveryEstimator wires a DeliveryEstimator from configuration and an
// optional carrier provider.
func NewDeliveryEstimator(deps DeliveryEstimatorDeps) (DeliveryEstimator, error) {
	if strings.TrimSpace(deps.Config.OriginPostalCode) == "" {
		return nil, ErrDeliveryConfigInvalid
	}
	if deps.Config.StandardBaseFee < 0 || deps.Config.ExpressBaseFee < 0 {
		return nil, ErrDeliveryConfigInvalid
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &deliveryEstimator{
		carrier:     deps.Carrier,
		cfg:         deps.Config,
		timeout:     deps.Timeout,
		logger:      logger,
		instruments: deps.Instruments,
		tracer:      observability.Tracer(),
	}, nil
}

// Estimate returns the shipping quote for one tier. The carrier path is tried
// first when configured; any failure degrades to the heuristic.
func (e *deliveryEstimator) Estimate(ctx context.Context, req EstimateRequest) domain.DeliveryQuote {
	tier := req.Tier
	if !tier.Valid() {
		tier = domain.SpeedStandard
	}

	if e.carrier != nil {
		if quote, ok := e.estimateViaCarrier(ctx, req, tier); ok {
			return quote
		}
		e.recordFallback(ctx, tier)
	}

	return e.estimateHeuristic(req, tier)
}

// EstimateBoth quotes standard and express concurrently for the same shipment.
func (e *deliveryEstimator) EstimateBoth(ctx context.Context, lines []domain.CartLine, address domain.Address) (domain.DeliveryQuote, domain.DeliveryQuote) {
	var standard, express domain.DeliveryQuote

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		standard = e.Estimate(ctx, EstimateRequest{Lines: lines, Address: address, Tier: domain.SpeedStandard})
	}()
	go func() {
		defer wg.Done()
		express = e.Estimate(ctx, EstimateRequest{Lines: lines, Address: address, Tier: domain.SpeedExpress})
	}()
	wg.Wait()

	return standard, express
}

func (e *deliveryEstimator) estimateViaCarrier(ctx context.Context, req EstimateRequest, tier domain.SpeedTier) (domain.DeliveryQuote, bool) {
	ctx, span := e.tracer.Start(ctx, "delivery.carrier_lookup",
		trace.WithAttributes(attribute.String("tier", string(tier))))
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	pkg := aggregatePackage(req.Lines)
	start := time.Now()
	options, err := e.carrier.FetchRates(ctx, carriers.RateRequest{
		PickupPostalCode:   e.cfg.OriginPostalCode,
		DeliveryPostalCode: strings.TrimSpace(req.Address.PostalCode),
		WeightKg:           pkg.weightKg,
		LengthCm:           pkg.lengthCm,
		BreadthCm:          pkg.breadthCm,
		HeightCm:           pkg.heightCm,
	})
	if e.instruments.CarrierLatency != nil {
		e.instruments.CarrierLatency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("tier", string(tier))))
	}
	if err != nil {
		span.RecordError(err)
		e.logger(ctx, "delivery.carrier_lookup_failed", map[string]any{
			"tier":  string(tier),
			"error": err.Error(),
		})
		return domain.DeliveryQuote{}, false
	}

	option, ok := selectRate(options, tier)
	if !ok {
		return domain.DeliveryQuote{}, false
	}

	eta := option.ETA
	if strings.TrimSpace(eta) == "" {
		eta = e.defaultETA(tier)
	}
	return domain.DeliveryQuote{
		Fee:          option.Fee,
		CarrierLabel: option.Label,
		ETA:          eta,
		Tier:         tier,
		Source:       domain.QuoteSourceCarrier,
	}, true
}

// estimateHeuristic is the pure fallback formula:
// fee = base(tier) + perKm surcharge over the postal distance + weight charge.
func (e *deliveryEstimator) estimateHeuristic(req EstimateRequest, tier domain.SpeedTier) domain.DeliveryQuote {
	pkg := aggregatePackage(req.Lines)

	distanceKm := postalDistanceKm(e.cfg.OriginPostalCode, req.Address.PostalCode)
	distanceCharge := int64(math.Round(e.cfg.PerKmSurcharge * distanceKm))

	chargeableKg := pkg.weightKg - e.cfg.FreeWeightKg
	if chargeableKg < 0 {
		chargeableKg = 0
	}
	weightCharge := int64(math.Round(e.cfg.PerKgCharge * chargeableKg))

	return domain.DeliveryQuote{
		Fee:    e.cfg.BaseFee(tier) + distanceCharge + weightCharge,
		ETA:    e.defaultETA(tier),
		Tier:   tier,
		Source: domain.QuoteSourceHeuristic,
	}
}

func (e *deliveryEstimator) defaultETA(tier domain.SpeedTier) string {
	if tier == domain.SpeedExpress {
		return e.cfg.ExpressETA
	}
	return e.cfg.StandardETA
}

func (e *deliveryEstimator) recordFallback(ctx context.Context, tier domain.SpeedTier) {
	if e.instruments.HeuristicFallbacks == nil {
		return
	}
	e.instruments.HeuristicFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", string(tier))))
}

type packageAggregate struct {
	weightKg  float64
	lengthCm  float64
	breadthCm float64
	heightCm  float64
}

// aggregatePackage collapses the cart lines into one shippable package:
// summed weight and height, max footprint, with floor values so degenerate
// carts still produce a rateable parcel.
func aggregatePackage(lines []domain.CartLine) packageAggregate {
	pkg := packageAggregate{}
	for _, line := range lines {
		qty := line.Quantity
		if qty <= 0 {
			continue
		}
		pkg.weightKg += line.WeightKg * float64(qty)
		pkg.heightCm += line.HeightCm * float64(qty)
		if line.LengthCm > pkg.lengthCm {
			pkg.lengthCm = line.LengthCm
		}
		if line.BreadthCm > pkg.breadthCm {
			pkg.breadthCm = line.BreadthCm
		}
	}
	if pkg.weightKg < minPackageWeightKg {
		pkg.weightKg = minPackageWeightKg
	}
	if pkg.lengthCm < minDimensionCm {
		pkg.lengthCm = minDimensionCm
	}
	if pkg.breadthCm < minDimensionCm {
		pkg.breadthCm = minDimensionCm
	}
	if pkg.heightCm < minDimensionCm {
		pkg.heightCm = minDimensionCm
	}
	return pkg
}

// postalDistanceKm approximates route distance from the difference of the
// 3-digit postal prefixes. Unparsable codes use the default distance.
func postalDistanceKm(origin, destination string) float64 {
	originPrefix, okOrigin := postalPrefix(origin)
	destPrefix, okDest := postalPrefix(destination)
	if !okOrigin || !okDest {
		return defaultDistanceKm
	}
	diff := originPrefix - destPrefix
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) * kmPerPrefixStep
}

func postalPrefix(code string) (int, bool) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) < 3 {
		return 0, false
	}
	prefix, err := strconv.Atoi(trimmed[:3])
	if err != nil {
		return 0, false
	}
	return prefix, true
}

// selectRate picks the courier option for the tier: express prefers premium
// sounding labels, standard takes the cheapest offer.
func selectRate(options []carriers.RateOption, tier domain.SpeedTier) (carriers.RateOption, bool) {
	if len(options) == 0 {
		return carriers.RateOption{}, false
	}

	if tier == domain.SpeedExpress {
		for _, option := range options {
			label := strings.ToLower(option.Label)
			if strings.Contains(label, "express") || strings.Contains(label, "air") {
				return option, true
			}
		}
		return options[0], true
	}

	cheapest := options[0]
	for _, option := range options[1:] {
		if option.Fee < cheapest.Fee {
			cheapest = option
		}
	}
	return cheapest, true
}
