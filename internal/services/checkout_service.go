package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/aarnya/checkout/internal/alerts"
	"github.com/aarnya/checkout/internal/domain"
	"github.com/aarnya/checkout/internal/platform/observability"
	"github.com/aarnya/checkout/internal/repositories"
)

// CheckoutState is the lifecycle phase of a checkout session.
type CheckoutState string

const (
	// StateSelectingAddress is the initial phase; no address chosen yet.
	StateSelectingAddress CheckoutState = "selecting_address"
	// StateSpeedSelected means address and delivery tier are locked in.
	StateSpeedSelected CheckoutState = "speed_selected"
	// StatePromoApplied means a promotion is held on top of the selection.
	StatePromoApplied CheckoutState = "promo_applied"
	// StateAwaitingPayment means totals are frozen pending confirmation.
	StateAwaitingPayment CheckoutState = "awaiting_payment"
	// StateFinalizing means post-payment persistence is running.
	StateFinalizing CheckoutState = "finalizing"
	// StateCompleted means every finalization step succeeded.
	StateCompleted CheckoutState = "completed"
	// StateFinalizationFailed means payment succeeded but at least one
	// post-payment step failed and needs reconciliation.
	StateFinalizationFailed CheckoutState = "finalization_failed"
)

var (
	// ErrCheckoutEstimatorMissing indicates the delivery estimator was not wired.
	ErrCheckoutEstimatorMissing = errors.New("checkout: delivery estimator is required")
	// ErrCheckoutEngineMissing indicates the promotion engine was not wired.
	ErrCheckoutEngineMissing = errors.New("checkout: promotion engine is required")
	// ErrCheckoutLedgerMissing indicates the usage ledger was not wired.
	ErrCheckoutLedgerMissing = errors.New("checkout: usage ledger is required")
	// ErrCheckoutRepositoriesMissing indicates one of the persistence
	// repositories was not wired.
	ErrCheckoutRepositoriesMissing = errors.New("checkout: order, product, and user repositories are required")

	// ErrCartEmpty indicates the session was started without purchasable lines.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrUserIDRequired indicates the session was started without a user.
	ErrUserIDRequired = errors.New("checkout: user id is required")
	// ErrPostalCodeRequired indicates the selected address has no postal code.
	ErrPostalCodeRequired = errors.New("checkout: address postal code is required")
	// ErrAddressNotSelected indicates a step ran before address selection.
	ErrAddressNotSelected = errors.New("checkout: no address selected")
	// ErrInvalidSpeedTier indicates an unknown delivery tier.
	ErrInvalidSpeedTier = errors.New("checkout: invalid speed tier")
	// ErrInvalidSessionState indicates the operation is not legal in the
	// session's current state.
	ErrInvalidSessionState = errors.New("checkout: operation not allowed in current state")
	// ErrPaymentRefRequired indicates Finalize was called without a
	// transaction reference.
	ErrPaymentRefRequired = errors.New("checkout: payment transaction ref is required")
)

// CheckoutServiceDeps bundles dependencies for NewCheckoutService.
type CheckoutServiceDeps struct {
	Estimator DeliveryEstimator
	Engine    PromotionEngine
	Ledger    UsageLedger
	Orders    repositories.OrderRepository
	Products  repositories.ProductRepository
	Users     repositories.UserRepository
	// Alerts is optional; without it partial failures are only logged.
	Alerts alerts.Publisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
	// NewOrderID defaults to "ord_" + ULID.
	NewOrderID  func() string
	Instruments observability.Instruments
}

// CheckoutService opens checkout sessions for users.
type CheckoutService struct {
	estimator   DeliveryEstimator
	engine      PromotionEngine
	ledger      UsageLedger
	orders      repositories.OrderRepository
	products    repositories.ProductRepository
	users       repositories.UserRepository
	alerts      alerts.Publisher
	clock       func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newOrderID  func() string
	instruments observability.Instruments
	tracer      trace.Tracer
}

// NewCheckoutService validates and wires the orchestrator dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (*CheckoutService, error) {
	if deps.Estimator == nil {
		return nil, ErrCheckoutEstimatorMissing
	}
	if deps.Engine == nil {
		return nil, ErrCheckoutEngineMissing
	}
	if deps.Ledger == nil {
		return nil, ErrCheckoutLedgerMissing
	}
	if deps.Orders == nil || deps.Products == nil || deps.Users == nil {
		return nil, ErrCheckoutRepositoriesMissing
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newOrderID := deps.NewOrderID
	if newOrderID == nil {
		newOrderID = func() string { return "ord_" + ulid.Make().String() }
	}

	return &CheckoutService{
		estimator:   deps.Estimator,
		engine:      deps.Engine,
		ledger:      deps.Ledger,
		orders:      deps.Orders,
		products:    deps.Products,
		users:       deps.Users,
		alerts:      deps.Alerts,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
		newOrderID:  newOrderID,
		instruments: deps.Instruments,
		tracer:      observability.Tracer(),
	}, nil
}

// NewSession snapshots the cart and opens a session in the address selection
// phase. An empty cart or blank user id is a caller bug and fails fast.
func (s *CheckoutService) NewSession(ctx context.Context, userID string, lines []domain.CartLine) (*CheckoutSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	snapshot := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0 {
			continue
		}
		snapshot = append(snapshot, line)
	}
	if len(snapshot) == 0 {
		return nil, ErrCartEmpty
	}

	profile, err := s.users.CheckoutProfile(ctx, userID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			return nil, err
		}
		profile = domain.CheckoutProfile{UserID: userID}
	}

	return &CheckoutSession{
		service:      s,
		userID:       userID,
		lines:        snapshot,
		subtotal:     domain.CartSubtotal(snapshot),
		isFirstOrder: profile.IsFirstOrder(),
		state:        StateSelectingAddress,
	}, nil
}

// CheckoutSession is a single user's in-flight checkout. Methods are safe for
// concurrent use; the session serialises its own state transitions.
type CheckoutSession struct {
	service *CheckoutService

	mu           sync.Mutex
	userID       string
	lines        []domain.CartLine
	subtotal     int64
	isFirstOrder bool
	state        CheckoutState

	address       domain.Address
	tier          domain.SpeedTier
	standardQuote domain.DeliveryQuote
	expressQuote  domain.DeliveryQuote
	promo         *domain.PromotionApplication
}

// State returns the current lifecycle phase.
func (cs *CheckoutSession) State() CheckoutState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// Subtotal returns the immutable cart subtotal.
func (cs *CheckoutSession) Subtotal() int64 {
	return cs.subtotal
}

// AppliedPromotion returns the held application, if any.
func (cs *CheckoutSession) AppliedPromotion() (domain.PromotionApplication, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.promo == nil {
		return domain.PromotionApplication{}, false
	}
	return *cs.promo, true
}

// SelectAddress sets the shipping destination. Re-selecting resets the tier,
// quotes, and any applied promotion since all of them depend on the address.
func (cs *CheckoutSession) SelectAddress(address domain.Address) error {
	if strings.TrimSpace(address.PostalCode) == "" {
		return ErrPostalCodeRequired
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case StateSelectingAddress, StateSpeedSelected, StatePromoApplied:
	default:
		return ErrInvalidSessionState
	}

	cs.address = address
	cs.tier = ""
	cs.standardQuote = domain.DeliveryQuote{}
	cs.expressQuote = domain.DeliveryQuote{}
	cs.promo = nil
	cs.state = StateSelectingAddress
	return nil
}

// SpeedSelection reports the outcome of a tier change, including whether a
// previously applied promotion survived revalidation.
type SpeedSelection struct {
	Quote         domain.DeliveryQuote
	PromoCleared  bool
	ClearedReason domain.RejectionReason
}

// SelectSpeed locks in the delivery tier. Both tier quotes are fetched
// concurrently so a later tier switch reprices without another lookup. An
// applied promotion is revalidated against the staged tier before anything
// is committed, so a revalidation error leaves the previous tier, quotes,
// and promotion untouched.
func (cs *CheckoutSession) SelectSpeed(ctx context.Context, tier domain.SpeedTier) (SpeedSelection, error) {
	if !tier.Valid() {
		return SpeedSelection{}, ErrInvalidSpeedTier
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case StateSelectingAddress, StateSpeedSelected, StatePromoApplied:
	default:
		return SpeedSelection{}, ErrInvalidSessionState
	}
	if strings.TrimSpace(cs.address.PostalCode) == "" {
		return SpeedSelection{}, ErrAddressNotSelected
	}

	standard, express := cs.service.estimator.EstimateBoth(ctx, cs.lines, cs.address)
	quote := standard
	if tier == domain.SpeedExpress {
		quote = express
	}

	selection := SpeedSelection{Quote: quote}
	promo := cs.promo

	if promo != nil {
		validation, err := cs.service.engine.Validate(ctx, ValidatePromotionCommand{
			Code:               promo.Code,
			UserID:             cs.userID,
			CartSubtotal:       cs.subtotal,
			SpeedTier:          tier,
			CurrentShippingFee: quote.Fee,
			IsFirstOrder:       cs.isFirstOrder,
		})
		if err != nil {
			return SpeedSelection{}, err
		}
		if validation.Eligible {
			application := validation.Application
			promo = &application
		} else {
			cs.service.logger(ctx, "checkout.promo_cleared_on_tier_change", map[string]any{
				"userId": cs.userID,
				"code":   promo.Code,
				"tier":   string(tier),
				"reason": string(validation.Reason),
			})
			promo = nil
			selection.PromoCleared = true
			selection.ClearedReason = validation.Reason
		}
	}

	cs.standardQuote = standard
	cs.expressQuote = express
	cs.tier = tier
	cs.promo = promo
	if promo != nil {
		cs.state = StatePromoApplied
	} else {
		cs.state = StateSpeedSelected
	}
	return selection, nil
}

// ApplyPromotion validates the code against the live session context and
// holds the application when eligible. A rejection leaves any previously
// applied promotion in place.
func (cs *CheckoutSession) ApplyPromotion(ctx context.Context, code string) (PromotionValidation, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case StateSpeedSelected, StatePromoApplied:
	default:
		return PromotionValidation{}, ErrInvalidSessionState
	}

	validation, err := cs.service.engine.Validate(ctx, ValidatePromotionCommand{
		Code:               code,
		UserID:             cs.userID,
		CartSubtotal:       cs.subtotal,
		SpeedTier:          cs.tier,
		CurrentShippingFee: cs.currentQuoteLocked().Fee,
		IsFirstOrder:       cs.isFirstOrder,
	})
	if err != nil {
		return PromotionValidation{}, err
	}
	if validation.Eligible {
		application := validation.Application
		cs.promo = &application
		cs.state = StatePromoApplied
	}
	return validation, nil
}

// RemovePromotion drops the held application, if any.
func (cs *CheckoutSession) RemovePromotion() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.promo = nil
	if cs.state == StatePromoApplied {
		cs.state = StateSpeedSelected
	}
}

// CheckoutTotals is the priced breakdown for the current selection.
type CheckoutTotals struct {
	Subtotal         int64
	Discount         int64
	ShippingFee      int64
	ShippingDiscount int64
	Total            int64
}

// Totals prices the session. Each component is clamped at zero before
// summing so an oversized discount never bleeds into the other component.
func (cs *CheckoutSession) Totals() (CheckoutTotals, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case StateSpeedSelected, StatePromoApplied, StateAwaitingPayment, StateFinalizing, StateCompleted, StateFinalizationFailed:
	default:
		return CheckoutTotals{}, ErrInvalidSessionState
	}
	return cs.totalsLocked(), nil
}

func (cs *CheckoutSession) totalsLocked() CheckoutTotals {
	totals := CheckoutTotals{
		Subtotal:    cs.subtotal,
		ShippingFee: cs.currentQuoteLocked().Fee,
	}
	if cs.promo != nil {
		totals.Discount = cs.promo.Discount
		totals.ShippingDiscount = cs.promo.ShippingDiscount
	}

	goods := totals.Subtotal - totals.Discount
	if goods < 0 {
		goods = 0
	}
	shipping := totals.ShippingFee - totals.ShippingDiscount
	if shipping < 0 {
		shipping = 0
	}
	totals.Total = goods + shipping
	return totals
}

// BeginPayment freezes the selection and hands the amount due to the payment
// collaborator.
func (cs *CheckoutSession) BeginPayment() (CheckoutTotals, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case StateSpeedSelected, StatePromoApplied:
	default:
		return CheckoutTotals{}, ErrInvalidSessionState
	}
	cs.state = StateAwaitingPayment
	return cs.totalsLocked(), nil
}

// FinalizationReport summarises the post-payment persistence pass. Err
// aggregates every failed step; PromoAlreadyUsed notes a benign duplicate
// redemption detected at mark time.
type FinalizationReport struct {
	OrderID          string
	Order            domain.Order
	FailedSteps      []string
	PromoAlreadyUsed bool
	Err              error
}

// Finalize runs the post-payment steps: persist the order, bump the user's
// order counter, mark the promotion used, and record per-line purchases.
// Payment already happened, so every step is attempted regardless of earlier
// failures and the failures are aggregated for reconciliation. Payment is
// never rolled back here.
func (cs *CheckoutSession) Finalize(ctx context.Context, payment domain.PaymentConfirmation) (FinalizationReport, error) {
	if strings.TrimSpace(payment.TransactionRef) == "" {
		return FinalizationReport{}, ErrPaymentRefRequired
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch cs.state {
	case StateSpeedSelected, StatePromoApplied, StateAwaitingPayment:
	default:
		return FinalizationReport{}, ErrInvalidSessionState
	}
	cs.state = StateFinalizing

	svc := cs.service
	ctx, span := svc.tracer.Start(ctx, "checkout.finalize",
		trace.WithAttributes(attribute.String("user.id", cs.userID)))
	defer span.End()

	now := svc.clock()
	totals := cs.totalsLocked()
	quote := cs.currentQuoteLocked()

	order := domain.Order{
		ID:               svc.newOrderID(),
		UserID:           cs.userID,
		Lines:            append([]domain.CartLine(nil), cs.lines...),
		Subtotal:         totals.Subtotal,
		Discount:         totals.Discount,
		ShippingFee:      totals.ShippingFee,
		ShippingDiscount: totals.ShippingDiscount,
		Total:            totals.Total,
		SpeedTier:        cs.tier,
		ShippingAddress:  cs.address,
		DeliveryETA:      quote.ETA,
		CarrierLabel:     quote.CarrierLabel,
		PaymentRef:       strings.TrimSpace(payment.TransactionRef),
		CreatedAt:        now,
	}
	if cs.promo != nil {
		order.PromoCode = cs.promo.Code
	}

	report := FinalizationReport{OrderID: order.ID, Order: order}

	if err := svc.orders.Insert(ctx, order); err != nil {
		report.FailedSteps = append(report.FailedSteps, "persist_order")
		report.Err = multierr.Append(report.Err, fmt.Errorf("persist order %s: %w", order.ID, err))
	}

	if err := svc.users.IncrementOrderCount(ctx, cs.userID); err != nil {
		report.FailedSteps = append(report.FailedSteps, "increment_order_count")
		report.Err = multierr.Append(report.Err, fmt.Errorf("increment order count for %s: %w", cs.userID, err))
	}

	if cs.promo != nil {
		err := svc.ledger.MarkUsed(ctx, cs.userID, cs.promo.Code, repositories.UsageContext{
			OrderID:          order.ID,
			Discount:         cs.promo.Discount,
			ShippingDiscount: cs.promo.ShippingDiscount,
		})
		switch {
		case errors.Is(err, repositories.ErrUsageAlreadyMarked):
			// A concurrent checkout won the redemption race; the price stands.
			report.PromoAlreadyUsed = true
		case err != nil:
			report.FailedSteps = append(report.FailedSteps, "mark_promo_used")
			report.Err = multierr.Append(report.Err, fmt.Errorf("mark promo %s used: %w", cs.promo.Code, err))
		}
	}

	for _, line := range cs.lines {
		if err := svc.products.RecordPurchase(ctx, line.ProductID, line.Quantity); err != nil {
			report.FailedSteps = append(report.FailedSteps, "record_purchase:"+line.ProductID)
			report.Err = multierr.Append(report.Err, fmt.Errorf("record purchase for %s: %w", line.ProductID, err))
		}
	}

	if report.Err == nil {
		cs.state = StateCompleted
		svc.logger(ctx, "checkout.finalized", map[string]any{
			"orderId": order.ID,
			"userId":  cs.userID,
			"total":   order.Total,
		})
		return report, nil
	}

	cs.state = StateFinalizationFailed
	span.RecordError(report.Err)
	if svc.instruments.FinalizationFailures != nil {
		svc.instruments.FinalizationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.Int("failed_steps", len(report.FailedSteps))))
	}
	svc.logger(ctx, "checkout.finalization_partial_failure", map[string]any{
		"orderId":     order.ID,
		"userId":      cs.userID,
		"failedSteps": report.FailedSteps,
		"error":       report.Err.Error(),
	})
	svc.publishReconciliationAlert(ctx, order, report)

	return report, nil
}

func (cs *CheckoutSession) currentQuoteLocked() domain.DeliveryQuote {
	if cs.tier == domain.SpeedExpress {
		return cs.expressQuote
	}
	return cs.standardQuote
}

func (s *CheckoutService) publishReconciliationAlert(ctx context.Context, order domain.Order, report FinalizationReport) {
	if s.alerts == nil {
		return
	}
	alert := alerts.ReconciliationAlert{
		OrderID:     order.ID,
		UserID:      order.UserID,
		PaymentRef:  order.PaymentRef,
		FailedSteps: append([]string(nil), report.FailedSteps...),
		Detail:      report.Err.Error(),
		OccurredAt:  s.clock(),
	}
	if _, err := s.alerts.PublishReconciliationAlert(ctx, alert); err != nil {
		s.logger(ctx, "checkout.reconciliation_alert_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}
