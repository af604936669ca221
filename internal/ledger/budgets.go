package ledger

import (
	"context"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// CreateBudgetInput describes a monthly budget, optionally scoped to one category.
type CreateBudgetInput struct {
	Month          string
	CategoryID     *string
	Currency       string
	Limit          decimal.Decimal
	AlertThreshold *decimal.Decimal
	Rollover       bool
}

// BudgetPatch lists the budget fields an update may change.
type BudgetPatch struct {
	Currency       *string
	Limit          *decimal.Decimal
	AlertThreshold *decimal.Decimal
	Rollover       *bool
}

func validMonth(month string) error {
	if !domain.ValidMonth(month) {
		return apperr.Validation("Month must be formatted as YYYY-MM")
	}
	return nil
}

func validBudgetLimit(limit decimal.Decimal) error {
	if !limit.IsPositive() {
		return apperr.Validation("Budget limit must be a positive number")
	}
	return nil
}

func validAlertThreshold(t decimal.Decimal) error {
	if !t.IsPositive() || t.GreaterThan(domain.MaxAlertThreshold) {
		return apperr.Validation("Alert threshold must be between 0 and 1.5")
	}
	return nil
}

// CreateBudget stores a budget. Only one budget may exist per month and category.
func (s *Service) CreateBudget(ctx context.Context, userID string, in CreateBudgetInput) (*domain.Budget, error) {
	if err := validMonth(in.Month); err != nil {
		return nil, err
	}
	currency, err := money.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	if err := validBudgetLimit(in.Limit); err != nil {
		return nil, err
	}
	threshold := domain.DefaultAlertThreshold
	if in.AlertThreshold != nil {
		if err := validAlertThreshold(*in.AlertThreshold); err != nil {
			return nil, err
		}
		threshold = *in.AlertThreshold
	}
	start, end, err := domain.BudgetPeriod(in.Month)
	if err != nil {
		return nil, apperr.Validation("Month must be formatted as YYYY-MM")
	}

	categoryID := in.CategoryID
	if categoryID != nil && *categoryID == "" {
		categoryID = nil
	}

	now := s.timestamp()
	budget := &domain.Budget{
		UserID:         userID,
		PeriodCat:      domain.BudgetPeriodKey(in.Month, categoryID),
		Month:          in.Month,
		CategoryID:     categoryID,
		Currency:       currency,
		Limit:          in.Limit,
		AlertThreshold: threshold,
		Rollover:       in.Rollover,
		PeriodStart:    start,
		PeriodEnd:      end,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Write(ctx, store.Put(BudgetKey(userID, budget.PeriodCat), budget, store.MustNotExist)); err != nil {
		if apperr.IsConflict(err) {
			return nil, apperr.Conflict("Budget already exists for %s", budget.PeriodCat)
		}
		return nil, err
	}
	return budget, nil
}

// GetBudget returns the budget of month for categoryID, or the month-wide budget
// when categoryID is empty.
func (s *Service) GetBudget(ctx context.Context, userID, month, categoryID string) (*domain.Budget, error) {
	if err := validMonth(month); err != nil {
		return nil, err
	}
	budget, _, err := store.GetAs[domain.Budget](ctx, s.store, BudgetKey(userID, domain.BudgetPeriodKey(month, &categoryID)))
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("Budget not found")
	}
	return budget, err
}

// ListBudgets returns every budget of month. An empty month means the current one.
func (s *Service) ListBudgets(ctx context.Context, userID, month string) ([]*domain.Budget, error) {
	if month == "" {
		month = s.timestamp().Format("2006-01")
	}
	if err := validMonth(month); err != nil {
		return nil, err
	}
	recs, err := store.QueryAll(ctx, s.store, store.Budgets, store.Query{UserID: userID, Prefix: month + "#"})
	if err != nil {
		return nil, err
	}
	return store.Decode[domain.Budget](recs)
}

// UpdateBudget applies patch to an existing budget.
func (s *Service) UpdateBudget(ctx context.Context, userID, month, categoryID string, patch BudgetPatch) (*domain.Budget, error) {
	if err := validMonth(month); err != nil {
		return nil, err
	}
	if patch.Currency == nil && patch.Limit == nil && patch.AlertThreshold == nil && patch.Rollover == nil {
		return nil, apperr.Validation("No updatable fields provided")
	}

	var currency string
	if patch.Currency != nil {
		var err error
		if currency, err = money.NormalizeCurrency(*patch.Currency); err != nil {
			return nil, err
		}
	}
	if patch.Limit != nil {
		if err := validBudgetLimit(*patch.Limit); err != nil {
			return nil, err
		}
	}
	if patch.AlertThreshold != nil {
		if err := validAlertThreshold(*patch.AlertThreshold); err != nil {
			return nil, err
		}
	}

	var updated *domain.Budget
	now := s.timestamp()
	key := BudgetKey(userID, domain.BudgetPeriodKey(month, &categoryID))
	op := store.UpdateAs(key, store.MustExist, func(b *domain.Budget) error {
		if currency != "" {
			b.Currency = currency
		}
		if patch.Limit != nil {
			b.Limit = *patch.Limit
		}
		if patch.AlertThreshold != nil {
			b.AlertThreshold = *patch.AlertThreshold
		}
		if patch.Rollover != nil {
			b.Rollover = *patch.Rollover
		}
		b.UpdatedAt = now
		updated = b
		return nil
	})
	if err := s.store.Write(ctx, op); err != nil {
		if apperr.IsConflict(err) {
			return nil, apperr.NotFound("Budget not found")
		}
		return nil, err
	}
	return updated, nil
}

// DeleteBudget removes a budget.
func (s *Service) DeleteBudget(ctx context.Context, userID, month, categoryID string) error {
	if err := validMonth(month); err != nil {
		return err
	}
	key := BudgetKey(userID, domain.BudgetPeriodKey(month, &categoryID))
	if err := s.store.Write(ctx, store.Delete(key, store.MustExist)); err != nil {
		if apperr.IsConflict(err) {
			return apperr.NotFound("Budget not found")
		}
		return err
	}
	return nil
}
