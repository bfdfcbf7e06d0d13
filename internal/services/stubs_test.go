package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aarnya/checkout/internal/alerts"
	"github.com/aarnya/checkout/internal/domain"
	"github.com/aarnya/checkout/internal/repositories"
)

// stubRepoError implements repositories.RepositoryError for failure injection.
type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return "stub repository error"
}

func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubUsageRepo struct {
	mu      sync.Mutex
	records map[string]domain.UsageRecord
	getErr  error
	markErr error
	marks   []string
}

func newStubUsageRepo() *stubUsageRepo {
	return &stubUsageRepo{records: map[string]domain.UsageRecord{}}
}

func (s *stubUsageRepo) Get(_ context.Context, userID string) (domain.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.UsageRecord{}, s.getErr
	}
	record, ok := s.records[userID]
	if !ok {
		return domain.UsageRecord{UserID: userID}, nil
	}
	return record, nil
}

func (s *stubUsageRepo) MarkUsed(_ context.Context, userID, code string, usage repositories.UsageContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	record := s.records[userID]
	record.UserID = userID
	if record.HasCode(code) {
		return repositories.ErrUsageAlreadyMarked
	}
	record.UsedCodes = append(record.UsedCodes, code)
	record.History = append(record.History, domain.UsageEntry{
		Code:             code,
		OrderID:          usage.OrderID,
		Discount:         usage.Discount,
		ShippingDiscount: usage.ShippingDiscount,
	})
	s.records[userID] = record
	s.marks = append(s.marks, fmt.Sprintf("%s:%s:%s", userID, code, usage.OrderID))
	return nil
}

type stubOrderRepo struct {
	mu     sync.Mutex
	orders []domain.Order
	err    error
}

func (s *stubOrderRepo) Insert(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, existing := range s.orders {
		if existing.ID == order.ID {
			return &stubRepoError{msg: "duplicate order id", conflict: true}
		}
	}
	s.orders = append(s.orders, order)
	return nil
}

type stubProductRepo struct {
	mu        sync.Mutex
	purchases map[string]int
	failFor   map[string]error
}

func newStubProductRepo() *stubProductRepo {
	return &stubProductRepo{purchases: map[string]int{}, failFor: map[string]error{}}
}

func (s *stubProductRepo) RecordPurchase(_ context.Context, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[productID]; ok {
		return err
	}
	s.purchases[productID] += quantity
	return nil
}

type stubUserRepo struct {
	mu         sync.Mutex
	orderCount int64
	profileErr error
	incErr     error
	increments int
}

func (s *stubUserRepo) CheckoutProfile(_ context.Context, userID string) (domain.CheckoutProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profileErr != nil {
		return domain.CheckoutProfile{}, s.profileErr
	}
	return domain.CheckoutProfile{UserID: strings.TrimSpace(userID), OrderCount: s.orderCount}, nil
}

func (s *stubUserRepo) IncrementOrderCount(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incErr != nil {
		return s.incErr
	}
	s.increments++
	s.orderCount++
	return nil
}

type stubAlertPublisher struct {
	mu     sync.Mutex
	alerts []alerts.ReconciliationAlert
	err    error
}

func (s *stubAlertPublisher) PublishReconciliationAlert(_ context.Context, alert alerts.ReconciliationAlert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.alerts = append(s.alerts, alert)
	return fmt.Sprintf("msg-%d", len(s.alerts)), nil
}
