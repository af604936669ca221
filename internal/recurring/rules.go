package recurring

import (
	"context"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// CreateRuleInput describes a new recurring rule. A nil NextRun means "due now".
type CreateRuleInput struct {
	Frequency  string
	NextRun    *time.Time
	AccountID  string
	CategoryID string
	Type       string
	Amount     decimal.Decimal
	Currency   string
	Note       *string
	Tags       []string
	BaseFX     *decimal.Decimal
}

// CreateRule validates the template against the referenced account and category
// and stores the rule.
func (s *Service) CreateRule(ctx context.Context, userID string, in CreateRuleInput) (*domain.RecurringRule, error) {
	freq, ok := domain.ParseFrequency(in.Frequency)
	if !ok {
		return nil, apperr.Validation("Frequency must be one of: daily, weekly, monthly, quarterly, yearly")
	}
	txType, ok := domain.ParseTransactionType(in.Type)
	if !ok {
		return nil, apperr.Validation(`Transaction type must be "expense" or "income"`)
	}
	if err := money.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.BaseFX != nil {
		if err := money.ValidateRate(*in.BaseFX); err != nil {
			return nil, err
		}
	}

	account, _, err := store.GetAs[domain.Account](ctx, s.store, ledger.AccountKey(userID, in.AccountID))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("Account not found")
		}
		return nil, err
	}
	if err := money.RequireSameCurrency(in.Currency, account.Currency); err != nil {
		return nil, err
	}
	category, _, err := store.GetAs[domain.Category](ctx, s.store, ledger.CategoryKey(userID, in.CategoryID))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("Category not found")
		}
		return nil, err
	}
	if category.Type != txType {
		return nil, apperr.Validation("Transaction type must match category type (%s)", category.Type)
	}

	now := domain.NormalizeTime(s.now())
	nextRun := now
	if in.NextRun != nil {
		nextRun = domain.NormalizeTime(*in.NextRun)
	}

	var note *string
	if in.Note != nil {
		if n := strings.TrimSpace(*in.Note); n != "" {
			note = &n
		}
	}

	rule := &domain.RecurringRule{
		UserID:    userID,
		RuleID:    s.newID(),
		Frequency: freq,
		NextRun:   nextRun,
		Template: &domain.RecurringTemplate{
			AccountID:  account.AccountID,
			CategoryID: category.CategoryID,
			Type:       txType,
			Amount:     in.Amount,
			Currency:   account.Currency,
			Note:       note,
			Tags:       domain.CleanTags(in.Tags),
		},
		BaseFX:    in.BaseFX,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Write(ctx, store.Put(ledger.RuleKey(userID, rule.RuleID), rule, store.MustNotExist)); err != nil {
		return nil, err
	}
	return rule, nil
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, userID, ruleID string) (*domain.RecurringRule, error) {
	rule, _, err := store.GetAs[domain.RecurringRule](ctx, s.store, ledger.RuleKey(userID, ruleID))
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("Recurring rule not found")
	}
	return rule, err
}

// ListRules returns every rule of the user.
func (s *Service) ListRules(ctx context.Context, userID string) ([]*domain.RecurringRule, error) {
	recs, err := store.QueryAll(ctx, s.store, store.RecurringRules, store.Query{UserID: userID})
	if err != nil {
		return nil, err
	}
	return store.Decode[domain.RecurringRule](recs)
}

// DeleteRule removes a rule. Transactions it already posted are kept.
func (s *Service) DeleteRule(ctx context.Context, userID, ruleID string) error {
	if err := s.store.Write(ctx, store.Delete(ledger.RuleKey(userID, ruleID), store.MustExist)); err != nil {
		if apperr.IsConflict(err) {
			return apperr.NotFound("Recurring rule not found")
		}
		return err
	}
	return nil
}
