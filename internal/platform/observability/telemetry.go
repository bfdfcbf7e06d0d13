package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/aarnya/checkout"

// Tracer returns the module-wide tracer used for carrier lookups and
// finalization spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the module-wide meter.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Instruments bundles the metric instruments the pricing core records.
type Instruments struct {
	// HeuristicFallbacks counts delivery quotes served by the local formula
	// because the carrier lookup failed or was disabled.
	HeuristicFallbacks metric.Int64Counter
	// CarrierLatency measures remote rate lookup duration in milliseconds.
	CarrierLatency metric.Float64Histogram
	// FinalizationFailures counts orders finalized with at least one failed step.
	FinalizationFailures metric.Int64Counter
}

// NewInstruments registers the pricing core instruments on the given meter.
// A nil meter falls back to the global one.
func NewInstruments(meter metric.Meter) (Instruments, error) {
	if meter == nil {
		meter = Meter()
	}

	fallbacks, err := meter.Int64Counter(
		"checkout.delivery.heuristic_fallbacks",
		metric.WithDescription("Delivery quotes produced by the heuristic instead of the carrier"),
	)
	if err != nil {
		return Instruments{}, err
	}

	latency, err := meter.Float64Histogram(
		"checkout.carrier.latency",
		metric.WithDescription("Carrier rate lookup latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return Instruments{}, err
	}

	failures, err := meter.Int64Counter(
		"checkout.finalization.partial_failures",
		metric.WithDescription("Finalizations completing with failed post-payment steps"),
	)
	if err != nil {
		return Instruments{}, err
	}

	return Instruments{
		HeuristicFallbacks:   fallbacks,
		CarrierLatency:       latency,
		FinalizationFailures: failures,
	}, nil
}
