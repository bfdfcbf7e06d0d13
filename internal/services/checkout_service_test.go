package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aarnya/checkout/internal/domain"
)

type checkoutFixture struct {
	service  *CheckoutService
	usage    *stubUsageRepo
	orders   *stubOrderRepo
	products *stubProductRepo
	users    *stubUserRepo
	alerts   *stubAlertPublisher
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	return newCheckoutFixtureWithPromotions(t, nil)
}

func newCheckoutFixtureWithPromotions(t *testing.T, definitions []domain.PromotionDefinition) *checkoutFixture {
	t.Helper()

	fixture := &checkoutFixture{
		usage:    newStubUsageRepo(),
		orders:   &stubOrderRepo{},
		products: newStubProductRepo(),
		users:    &stubUserRepo{},
		alerts:   &stubAlertPublisher{},
	}

	estimator, err := NewDeliveryEstimator(DeliveryEstimatorDeps{Config: testDeliveryConfig()})
	if err != nil {
		t.Fatalf("NewDeliveryEstimator: %v", err)
	}
	ledger, err := NewUsageLedger(UsageLedgerDeps{Usage: fixture.usage})
	if err != nil {
		t.Fatalf("NewUsageLedger: %v", err)
	}
	catalog, err := NewPromotionCatalog(PromotionCatalogDeps{Definitions: definitions, Ledger: ledger})
	if err != nil {
		t.Fatalf("NewPromotionCatalog: %v", err)
	}
	engine, err := NewPromotionEngine(PromotionEngineDeps{Catalog: catalog, Ledger: ledger, Clock: testClock()})
	if err != nil {
		t.Fatalf("NewPromotionEngine: %v", err)
	}

	var orderSeq int
	service, err := NewCheckoutService(CheckoutServiceDeps{
		Estimator: estimator,
		Engine:    engine,
		Ledger:    ledger,
		Orders:    fixture.orders,
		Products:  fixture.products,
		Users:     fixture.users,
		Alerts:    fixture.alerts,
		Clock:     testClock(),
		NewOrderID: func() string {
			orderSeq++
			return fmt.Sprintf("ord_TEST%04d", orderSeq)
		},
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	fixture.service = service
	return fixture
}

func testCartLines() []domain.CartLine {
	return []domain.CartLine{
		{ProductID: "p1", UnitPrice: 300, Quantity: 1},
		{ProductID: "p2", UnitPrice: 250, Quantity: 2},
	}
}

func testAddress() domain.Address {
	return domain.Address{ID: "addr1", FullName: "Asha Rao", PostalCode: "110001", City: "New Delhi"}
}

// Heuristic fees for pin 110001 against the 201206 origin: base + 0.2*910km.
const (
	testStandardFee = 242
	testExpressFee  = 302
)

func startSession(t *testing.T, fixture *checkoutFixture) *CheckoutSession {
	t.Helper()
	session, err := fixture.service.NewSession(context.Background(), "u1", testCartLines())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return session
}

func TestCheckout_FirstOrderFreeDeliveryFlow(t *testing.T) {
	fixture := newCheckoutFixture(t)
	session := startSession(t, fixture)

	if session.State() != StateSelectingAddress {
		t.Fatalf("initial state = %s", session.State())
	}
	if session.Subtotal() != 800 {
		t.Fatalf("subtotal = %d, want 800", session.Subtotal())
	}

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	selection, err := session.SelectSpeed(context.Background(), domain.SpeedStandard)
	if err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}
	if selection.Quote.Fee != testStandardFee {
		t.Fatalf("standard fee = %d, want %d", selection.Quote.Fee, testStandardFee)
	}

	validation, err := session.ApplyPromotion(context.Background(), "freedelivery")
	if err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}
	if !validation.Eligible {
		t.Fatalf("expected FREEDELIVERY eligible for first order, got %s", validation.Reason)
	}
	if session.State() != StatePromoApplied {
		t.Fatalf("state = %s, want promo_applied", session.State())
	}

	totals, err := session.BeginPayment()
	if err != nil {
		t.Fatalf("BeginPayment: %v", err)
	}
	want := CheckoutTotals{Subtotal: 800, ShippingFee: testStandardFee, ShippingDiscount: testStandardFee, Total: 800}
	if totals != want {
		t.Fatalf("totals = %+v, want %+v", totals, want)
	}
	if session.State() != StateAwaitingPayment {
		t.Fatalf("state = %s, want awaiting_payment", session.State())
	}

	report, err := session.Finalize(context.Background(), domain.PaymentConfirmation{TransactionRef: "pay_123", AmountCharged: 800})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if report.Err != nil {
		t.Fatalf("finalization failed: %v", report.Err)
	}
	if session.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", session.State())
	}
	if report.OrderID != "ord_TEST0001" {
		t.Fatalf("order id = %s", report.OrderID)
	}

	if len(fixture.orders.orders) != 1 {
		t.Fatalf("orders persisted = %d, want 1", len(fixture.orders.orders))
	}
	order := fixture.orders.orders[0]
	if order.Total != 800 || order.ShippingDiscount != testStandardFee || order.PromoCode != "FREEDELIVERY" {
		t.Fatalf("unexpected order snapshot %+v", order)
	}
	if order.PaymentRef != "pay_123" {
		t.Fatalf("payment ref = %q", order.PaymentRef)
	}
	if fixture.users.increments != 1 {
		t.Fatalf("order count increments = %d, want 1", fixture.users.increments)
	}
	if len(fixture.usage.marks) != 1 || fixture.usage.marks[0] != "u1:FREEDELIVERY:ord_TEST0001" {
		t.Fatalf("usage marks = %v", fixture.usage.marks)
	}
	if fixture.products.purchases["p1"] != 1 || fixture.products.purchases["p2"] != 2 {
		t.Fatalf("purchases = %v", fixture.products.purchases)
	}
	if len(fixture.alerts.alerts) != 0 {
		t.Fatalf("no alert expected on clean finalization, got %v", fixture.alerts.alerts)
	}
}

func TestCheckout_TierSwitchClearsIncompatiblePromo(t *testing.T) {
	fixture := newCheckoutFixture(t)
	session := startSession(t, fixture)

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}
	if _, err := session.ApplyPromotion(context.Background(), "FREEDELIVERY"); err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}

	selection, err := session.SelectSpeed(context.Background(), domain.SpeedExpress)
	if err != nil {
		t.Fatalf("SelectSpeed express: %v", err)
	}
	if !selection.PromoCleared {
		t.Fatalf("expected promo cleared on tier switch")
	}
	if selection.ClearedReason != domain.RejectionWrongShippingType {
		t.Fatalf("cleared reason = %s, want wrong_shipping_type", selection.ClearedReason)
	}
	if _, held := session.AppliedPromotion(); held {
		t.Fatalf("promotion should be dropped")
	}
	if session.State() != StateSpeedSelected {
		t.Fatalf("state = %s, want speed_selected", session.State())
	}

	totals, err := session.Totals()
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.ShippingFee != testExpressFee || totals.ShippingDiscount != 0 {
		t.Fatalf("totals after clear = %+v", totals)
	}
}

func TestCheckout_TierSwitchRepricesSurvivingPromo(t *testing.T) {
	fixture := newCheckoutFixture(t)
	session := startSession(t, fixture)

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedExpress); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}

	validation, err := session.ApplyPromotion(context.Background(), "EXPRESS50")
	if err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}
	if !validation.Eligible {
		t.Fatalf("expected EXPRESS50 eligible, got %s", validation.Reason)
	}
	// round(302 * 0.5)
	if validation.Application.ShippingDiscount != 151 {
		t.Fatalf("shipping discount = %d, want 151", validation.Application.ShippingDiscount)
	}

	totals, err := session.Totals()
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Total != 800+testExpressFee-151 {
		t.Fatalf("total = %d, want %d", totals.Total, 800+testExpressFee-151)
	}
}

func TestCheckout_TierSwitchLedgerErrorKeepsSelection(t *testing.T) {
	fixture := newCheckoutFixture(t)
	session := startSession(t, fixture)

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}
	if _, err := session.ApplyPromotion(context.Background(), "FREEDELIVERY"); err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}

	ledgerErr := &stubRepoError{msg: "ledger down", unavailable: true}
	fixture.usage.getErr = ledgerErr

	if _, err := session.SelectSpeed(context.Background(), domain.SpeedExpress); !errors.Is(err, ledgerErr) {
		t.Fatalf("expected ledger error passthrough, got %v", err)
	}

	// The failed switch must not leave a standard-tier promo priced
	// against the express fee.
	applied, held := session.AppliedPromotion()
	if !held || applied.Code != "FREEDELIVERY" {
		t.Fatalf("promotion lost after failed tier switch: %+v held=%v", applied, held)
	}
	if session.State() != StatePromoApplied {
		t.Fatalf("state = %s, want promo_applied", session.State())
	}
	totals, err := session.Totals()
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	want := CheckoutTotals{Subtotal: 800, ShippingFee: testStandardFee, ShippingDiscount: testStandardFee, Total: 800}
	if totals != want {
		t.Fatalf("totals after failed switch = %+v, want %+v", totals, want)
	}

	// The switch goes through once the ledger recovers.
	fixture.usage.getErr = nil
	selection, err := session.SelectSpeed(context.Background(), domain.SpeedExpress)
	if err != nil {
		t.Fatalf("SelectSpeed retry: %v", err)
	}
	if !selection.PromoCleared {
		t.Fatalf("expected promo cleared on the retried switch")
	}
}

func TestCheckout_TotalsClampOversizedDiscount(t *testing.T) {
	fixture := newCheckoutFixtureWithPromotions(t, []domain.PromotionDefinition{{
		Code:      "BIG1000",
		Kind:      domain.PromotionFixedAmount,
		Value:     1000,
		AppliesTo: domain.AppliesToSubtotal,
		Active:    true,
	}})
	session := startSession(t, fixture)

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}

	validation, err := session.ApplyPromotion(context.Background(), "BIG1000")
	if err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}
	if !validation.Eligible {
		t.Fatalf("expected eligible, got %s", validation.Reason)
	}
	if validation.Application.Discount != 1000 {
		t.Fatalf("discount = %d, want the raw configured 1000", validation.Application.Discount)
	}

	// The goods component floors at zero; the discount never bleeds into
	// the shipping fee.
	totals, err := session.Totals()
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	want := CheckoutTotals{Subtotal: 800, Discount: 1000, ShippingFee: testStandardFee, Total: testStandardFee}
	if totals != want {
		t.Fatalf("totals = %+v, want %+v", totals, want)
	}

	report, err := session.Finalize(context.Background(), domain.PaymentConfirmation{TransactionRef: "pay_big"})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if report.Err != nil {
		t.Fatalf("finalization failed: %v", report.Err)
	}
	order := fixture.orders.orders[0]
	if order.Discount != 1000 || order.Total != testStandardFee {
		t.Fatalf("order snapshot = %+v, want raw discount 1000 and total %d", order, testStandardFee)
	}
}

func TestCheckout_RejectionLeavesPriorPromoIntact(t *testing.T) {
	fixture := newCheckoutFixture(t)
	session := startSession(t, fixture)

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}
	if _, err := session.ApplyPromotion(context.Background(), "FREEDELIVERY"); err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}

	validation, err := session.ApplyPromotion(context.Background(), "EXPRESS50")
	if err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}
	if validation.Eligible {
		t.Fatalf("EXPRESS50 must be rejected on the standard tier")
	}

	applied, held := session.AppliedPromotion()
	if !held || applied.Code != "FREEDELIVERY" {
		t.Fatalf("prior promotion lost after rejection: %+v held=%v", applied, held)
	}
	if session.State() != StatePromoApplied {
		t.Fatalf("state = %s, want promo_applied", session.State())
	}
}

func TestCheckout_BelowMinimumRejectionKeepsState(t *testing.T) {
	fixture := newCheckoutFixture(t)
	session, err := fixture.service.NewSession(context.Background(), "u1", []domain.CartLine{
		{ProductID: "p1", UnitPrice: 500, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}

	validation, err := session.ApplyPromotion(context.Background(), "ABHI100")
	if err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}
	if validation.Eligible {
		t.Fatalf("expected rejection for 500 cart")
	}
	if validation.Reason != domain.RejectionBelowMinimum {
		t.Fatalf("reason = %s, want below_minimum", validation.Reason)
	}
	if session.State() != StateSpeedSelected {
		t.Fatalf("state = %s, want speed_selected", session.State())
	}
	if _, held := session.AppliedPromotion(); held {
		t.Fatalf("no promotion should be held after rejection")
	}
}

func TestCheckout_FinalizationAggregatesFailures(t *testing.T) {
	fixture := newCheckoutFixture(t)
	fixture.orders.err = &stubRepoError{msg: "firestore down", unavailable: true}
	fixture.products.failFor["p2"] = &stubRepoError{msg: "stock gone", conflict: true}

	session := startSession(t, fixture)
	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}
	if _, err := session.ApplyPromotion(context.Background(), "FREEDELIVERY"); err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}

	report, err := session.Finalize(context.Background(), domain.PaymentConfirmation{TransactionRef: "pay_456"})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if report.Err == nil {
		t.Fatalf("expected aggregated failure")
	}
	if session.State() != StateFinalizationFailed {
		t.Fatalf("state = %s, want finalization_failed", session.State())
	}

	wantSteps := []string{"persist_order", "record_purchase:p2"}
	if len(report.FailedSteps) != len(wantSteps) {
		t.Fatalf("failed steps = %v, want %v", report.FailedSteps, wantSteps)
	}
	for i, step := range wantSteps {
		if report.FailedSteps[i] != step {
			t.Fatalf("failed steps = %v, want %v", report.FailedSteps, wantSteps)
		}
	}

	// A failed step never short-circuits the remaining ones.
	if fixture.users.increments != 1 {
		t.Fatalf("order count increments = %d, want 1", fixture.users.increments)
	}
	if len(fixture.usage.marks) != 1 {
		t.Fatalf("usage marks = %v, want the promo marked", fixture.usage.marks)
	}
	if fixture.products.purchases["p1"] != 1 {
		t.Fatalf("p1 purchase should still be recorded, got %v", fixture.products.purchases)
	}

	if len(fixture.alerts.alerts) != 1 {
		t.Fatalf("alerts published = %d, want 1", len(fixture.alerts.alerts))
	}
	alert := fixture.alerts.alerts[0]
	if alert.OrderID != report.OrderID || alert.PaymentRef != "pay_456" {
		t.Fatalf("alert = %+v", alert)
	}
	if len(alert.FailedSteps) != 2 {
		t.Fatalf("alert failed steps = %v", alert.FailedSteps)
	}
}

func TestCheckout_AlertPublishFailureDoesNotMaskReport(t *testing.T) {
	fixture := newCheckoutFixture(t)
	fixture.orders.err = &stubRepoError{msg: "firestore down", unavailable: true}
	fixture.alerts.err = errors.New("pubsub unavailable")

	session := startSession(t, fixture)
	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}

	report, err := session.Finalize(context.Background(), domain.PaymentConfirmation{TransactionRef: "pay_9"})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if report.Err == nil {
		t.Fatalf("expected aggregated failure")
	}
	if session.State() != StateFinalizationFailed {
		t.Fatalf("state = %s, want finalization_failed", session.State())
	}
}

func TestCheckout_DuplicateMarkDemotedToNote(t *testing.T) {
	fixture := newCheckoutFixture(t)
	session := startSession(t, fixture)

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}
	if _, err := session.ApplyPromotion(context.Background(), "FREEDELIVERY"); err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}

	// A concurrent checkout redeems the code between validation and finalize.
	fixture.usage.records["u1"] = domain.UsageRecord{UserID: "u1", UsedCodes: []string{"FREEDELIVERY"}}

	report, err := session.Finalize(context.Background(), domain.PaymentConfirmation{TransactionRef: "pay_789"})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if report.Err != nil {
		t.Fatalf("duplicate mark must not fail finalization: %v", report.Err)
	}
	if !report.PromoAlreadyUsed {
		t.Fatalf("expected PromoAlreadyUsed note")
	}
	if session.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", session.State())
	}
	if len(report.FailedSteps) != 0 {
		t.Fatalf("failed steps = %v, want none", report.FailedSteps)
	}
	if len(fixture.alerts.alerts) != 0 {
		t.Fatalf("benign duplicate must not raise an alert, got %v", fixture.alerts.alerts)
	}
}

func TestCheckout_GuardsAndFailFast(t *testing.T) {
	fixture := newCheckoutFixture(t)

	if _, err := fixture.service.NewSession(context.Background(), "u1", nil); !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected ErrCartEmpty, got %v", err)
	}
	if _, err := fixture.service.NewSession(context.Background(), "  ", testCartLines()); !errors.Is(err, ErrUserIDRequired) {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}

	session := startSession(t, fixture)

	if err := session.SelectAddress(domain.Address{}); !errors.Is(err, ErrPostalCodeRequired) {
		t.Fatalf("expected ErrPostalCodeRequired, got %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); !errors.Is(err, ErrAddressNotSelected) {
		t.Fatalf("expected ErrAddressNotSelected, got %v", err)
	}
	if _, err := session.ApplyPromotion(context.Background(), "FREEDELIVERY"); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState before speed selection, got %v", err)
	}
	if _, err := session.Finalize(context.Background(), domain.PaymentConfirmation{}); !errors.Is(err, ErrPaymentRefRequired) {
		t.Fatalf("expected ErrPaymentRefRequired, got %v", err)
	}
	if _, err := session.Finalize(context.Background(), domain.PaymentConfirmation{TransactionRef: "pay_1"}); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState before speed selection, got %v", err)
	}

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedTier("overnight")); !errors.Is(err, ErrInvalidSpeedTier) {
		t.Fatalf("expected ErrInvalidSpeedTier, got %v", err)
	}
}

func TestCheckout_AddressReselectionResetsSelection(t *testing.T) {
	fixture := newCheckoutFixture(t)
	session := startSession(t, fixture)

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}
	if _, err := session.ApplyPromotion(context.Background(), "FREEDELIVERY"); err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}

	if err := session.SelectAddress(domain.Address{PostalCode: "560001"}); err != nil {
		t.Fatalf("re-select address: %v", err)
	}
	if session.State() != StateSelectingAddress {
		t.Fatalf("state = %s, want selecting_address", session.State())
	}
	if _, held := session.AppliedPromotion(); held {
		t.Fatalf("address change must drop the promotion")
	}
	if _, err := session.Totals(); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("stale totals must not be readable, got %v", err)
	}
}

func TestCheckout_FilteredLinesAndReturningUser(t *testing.T) {
	fixture := newCheckoutFixture(t)
	fixture.users.orderCount = 3

	session, err := fixture.service.NewSession(context.Background(), "u2", []domain.CartLine{
		{ProductID: "p1", UnitPrice: 400, Quantity: 2},
		{ProductID: "  ", UnitPrice: 100, Quantity: 1},
		{ProductID: "p3", UnitPrice: 100, Quantity: 0},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if session.Subtotal() != 800 {
		t.Fatalf("subtotal = %d, want 800 after filtering junk lines", session.Subtotal())
	}

	if err := session.SelectAddress(testAddress()); err != nil {
		t.Fatalf("SelectAddress: %v", err)
	}
	if _, err := session.SelectSpeed(context.Background(), domain.SpeedStandard); err != nil {
		t.Fatalf("SelectSpeed: %v", err)
	}

	validation, err := session.ApplyPromotion(context.Background(), "FREEDELIVERY")
	if err != nil {
		t.Fatalf("ApplyPromotion: %v", err)
	}
	if validation.Eligible {
		t.Fatalf("first-order promo must be rejected for a returning user")
	}
	if validation.Reason != domain.RejectionNotFirstOrder {
		t.Fatalf("reason = %s, want not_first_order", validation.Reason)
	}
}
