package services

import (
	"context"
	"errors"
	"strings"

	"github.com/aarnya/checkout/internal/domain"
	"github.com/aarnya/checkout/internal/repositories"
)

// ErrUsageRepositoryMissing is returned when the ledger is constructed
// without its repository.
var ErrUsageRepositoryMissing = errors.New("usage ledger: usage repository is required")

// UsageLedgerDeps bundles dependencies for NewUsageLedger.
type UsageLedgerDeps struct {
	Usage  repositories.PromoUsageRepository
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type usageLedger struct {
	repo   repositories.PromoUsageRepository
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewUsageLedger wires a UsageLedger over the redemption repository.
func NewUsageLedger(deps UsageLedgerDeps) (UsageLedger, error) {
	if deps.Usage == nil {
		return nil, ErrUsageRepositoryMissing
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &usageLedger{repo: deps.Usage, logger: logger}, nil
}

// HasUsed reports whether the user has redeemed the code before. Users with
// no ledger record yet have used nothing.
func (l *usageLedger) HasUsed(ctx context.Context, userID, code string) (bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.ToUpper(strings.TrimSpace(code))
	if userID == "" {
		return false, errors.New("usage ledger: user id is required")
	}
	if code == "" {
		return false, errors.New("usage ledger: promo code is required")
	}

	record, err := l.repo.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return record.HasCode(code), nil
}

// MarkUsed records the redemption. A duplicate mark surfaces as
// repositories.ErrUsageAlreadyMarked and is logged, never swallowed.
func (l *usageLedger) MarkUsed(ctx context.Context, userID, code string, usage repositories.UsageContext) error {
	userID = strings.TrimSpace(userID)
	code = strings.ToUpper(strings.TrimSpace(code))
	if userID == "" {
		return errors.New("usage ledger: user id is required")
	}
	if code == "" {
		return errors.New("usage ledger: promo code is required")
	}

	err := l.repo.MarkUsed(ctx, userID, code, usage)
	if errors.Is(err, repositories.ErrUsageAlreadyMarked) {
		l.logger(ctx, "promo.usage_already_marked", map[string]any{
			"userId":  userID,
			"code":    code,
			"orderId": usage.OrderID,
		})
	}
	return err
}

// History returns the user's redemption history, oldest first.
func (l *usageLedger) History(ctx context.Context, userID string) ([]domain.UsageEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("usage ledger: user id is required")
	}

	record, err := l.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return record.History, nil
}
