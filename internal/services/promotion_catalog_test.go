package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aarnya/checkout/internal/domain"
)

func newTestCatalog(t *testing.T, usage *stubUsageRepo) PromotionCatalog {
	t.Helper()
	if usage == nil {
		usage = newStubUsageRepo()
	}
	ledger, err := NewUsageLedger(UsageLedgerDeps{Usage: usage})
	if err != nil {
		t.Fatalf("NewUsageLedger: %v", err)
	}
	catalog, err := NewPromotionCatalog(PromotionCatalogDeps{Ledger: ledger})
	if err != nil {
		t.Fatalf("NewPromotionCatalog: %v", err)
	}
	return catalog
}

func TestPromotionCatalog_FindByCodeNormalizes(t *testing.T) {
	catalog := newTestCatalog(t, nil)

	def, ok := catalog.FindByCode("  freedelivery ")
	if !ok {
		t.Fatalf("expected FREEDELIVERY to exist")
	}
	if def.Code != "FREEDELIVERY" {
		t.Fatalf("code = %q, want FREEDELIVERY", def.Code)
	}
	if def.Kind != domain.PromotionFreeShipping {
		t.Fatalf("kind = %s, want free_shipping", def.Kind)
	}

	if _, ok := catalog.FindByCode("UNKNOWN"); ok {
		t.Fatalf("unknown code should not resolve")
	}
	if _, ok := catalog.FindByCode(""); ok {
		t.Fatalf("blank code should not resolve")
	}
}

func TestPromotionCatalog_BannerHiddenCodeStaysListedAtCheckout(t *testing.T) {
	catalog := newTestCatalog(t, nil)

	def, ok := catalog.FindByCode("ABHI100")
	if !ok {
		t.Fatalf("banner-hidden code must stay resolvable for direct entry")
	}
	if def.ShowInBanner {
		t.Fatalf("ABHI100 should be hidden from banners")
	}
	if !def.ShowInCheckout {
		t.Fatalf("ABHI100 should be listed on the checkout picker")
	}

	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	listed := false
	for _, code := range catalog.CheckoutCodes(now) {
		if code.Code == "ABHI100" {
			listed = true
		}
	}
	if !listed {
		t.Fatalf("ABHI100 missing from the checkout code list")
	}

	visible, err := catalog.VisibleTo(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("VisibleTo: %v", err)
	}
	for _, def := range visible {
		if def.Code == "ABHI100" {
			t.Fatalf("banner-hidden code leaked into the banner list")
		}
	}
}

func TestPromotionCatalog_VisibleToFiltersUsedCodes(t *testing.T) {
	usage := newStubUsageRepo()
	usage.records["u1"] = domain.UsageRecord{UserID: "u1", UsedCodes: []string{"FREEDELIVERY"}}
	catalog := newTestCatalog(t, usage)

	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	visible, err := catalog.VisibleTo(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("VisibleTo: %v", err)
	}

	for _, def := range visible {
		if def.Code == "FREEDELIVERY" {
			t.Fatalf("redeemed code should be filtered from banners")
		}
		if !def.ShowInBanner {
			t.Fatalf("banner-hidden code %s leaked into banner list", def.Code)
		}
	}
	if len(visible) != 1 || visible[0].Code != "EXPRESS50" {
		t.Fatalf("visible = %v, want only EXPRESS50", visible)
	}
}

func TestPromotionCatalog_VisibleToExcludesOutOfWindow(t *testing.T) {
	catalog := newTestCatalog(t, nil)

	past := time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC)
	visible, err := catalog.VisibleTo(context.Background(), "u1", past)
	if err != nil {
		t.Fatalf("VisibleTo: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("no promotion should be visible before the window opens, got %v", visible)
	}
}

func TestPromotionCatalog_RejectsDuplicateCodes(t *testing.T) {
	_, err := NewPromotionCatalog(PromotionCatalogDeps{
		Definitions: []domain.PromotionDefinition{
			{Code: "SAVE10", Active: true},
			{Code: " save10 ", Active: true},
		},
	})
	if !errors.Is(err, ErrDuplicatePromotionCode) {
		t.Fatalf("expected ErrDuplicatePromotionCode, got %v", err)
	}
}
