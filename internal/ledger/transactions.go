package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

const (
	// DefaultListLimit is the page size of ListTransactions when none is given.
	DefaultListLimit = 100
	// MaxListLimit caps the page size of ListTransactions.
	MaxListLimit = 500
)

// CreateTransactionInput is the client-supplied part of a new transaction.
type CreateTransactionInput struct {
	AccountID    string
	CategoryID   string
	Type         string
	Amount       decimal.Decimal
	Currency     string
	OccurredAt   *time.Time
	FXRateToBase *decimal.Decimal
	Note         *string
	Tags         []string
}

// TransactionPatch lists the fields an amend may change. Nil means "keep";
// an empty Note clears the note.
type TransactionPatch struct {
	AccountID    *string
	CategoryID   *string
	Type         *string
	Amount       *decimal.Decimal
	Currency     *string
	OccurredAt   *time.Time
	FXRateToBase *decimal.Decimal
	Note         *string
	Tags         *[]string
}

func (p TransactionPatch) empty() bool {
	return p.AccountID == nil && p.CategoryID == nil && p.Type == nil && p.Amount == nil &&
		p.Currency == nil && p.OccurredAt == nil && p.FXRateToBase == nil && p.Note == nil && p.Tags == nil
}

// ListTransactionsInput selects a date range of a user's ledger. Both bounds are inclusive.
type ListTransactionsInput struct {
	From   *time.Time
	To     *time.Time
	Cursor string
	Limit  int
}

// TransactionPage is one page of ListTransactions.
type TransactionPage struct {
	Items      []*domain.Transaction `json:"items"`
	NextCursor string                `json:"nextCursor,omitempty"`
}

// CreateTransaction posts a new transaction and moves its account balance in the same unit.
func (s *Service) CreateTransaction(ctx context.Context, userID string, in CreateTransactionInput) (*domain.Transaction, error) {
	log := logger.FromContext(ctx)

	if strings.TrimSpace(in.AccountID) == "" {
		return nil, apperr.Validation("Account ID is required")
	}
	if strings.TrimSpace(in.CategoryID) == "" {
		return nil, apperr.Validation("Category ID is required")
	}
	txType, ok := domain.ParseTransactionType(in.Type)
	if !ok {
		return nil, apperr.Validation(`Transaction type must be "expense" or "income"`)
	}
	if err := money.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	rate := decimal.NewFromInt(1)
	if in.FXRateToBase != nil {
		rate = *in.FXRateToBase
	}
	amountBase, err := money.ToBase(in.Amount, rate)
	if err != nil {
		return nil, err
	}

	account, err := s.fetchAccount(ctx, userID, in.AccountID)
	if err != nil {
		return nil, err
	}
	if err := money.RequireSameCurrency(in.Currency, account.Currency); err != nil {
		return nil, err
	}
	category, err := s.fetchCategory(ctx, userID, in.CategoryID)
	if err != nil {
		return nil, err
	}
	if category.Type != txType {
		return nil, apperr.Validation("Transaction type must match category type (%s)", category.Type)
	}

	now := s.timestamp()
	occurredAt := now
	if in.OccurredAt != nil {
		occurredAt = domain.NormalizeTime(*in.OccurredAt)
	}
	txnID := s.newID()
	txn := &domain.Transaction{
		UserID:       userID,
		SK:           domain.TransactionSortKey(occurredAt, txnID),
		TxnID:        txnID,
		AccountID:    account.AccountID,
		CategoryID:   category.CategoryID,
		Type:         txType,
		Amount:       in.Amount,
		Currency:     account.Currency,
		FXRateToBase: rate,
		AmountBase:   amountBase,
		Note:         cleanNote(in.Note),
		Tags:         domain.CleanTags(in.Tags),
		OccurredAt:   occurredAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	changes := newBalanceChanges()
	changes.add(txn.AccountID, delta(txn.Type, txn.Amount))
	changes.requireCurrency(txn.AccountID, txn.Currency)

	ops := []store.Op{store.Put(TransactionKey(userID, txn.SK), txn, store.MustNotExist)}
	ops = append(ops, changes.ops(userID, now)...)
	if err := s.store.Transact(ctx, ops...); err != nil {
		return nil, err
	}

	log.Debug().Str("user_id", userID).Str("txn_id", txn.TxnID).Str("account_id", txn.AccountID).Msg("Transaction created")
	return txn, nil
}

// AmendTransaction merges patch over the stored transaction and rebalances the
// affected accounts. A changed occurredAt moves the record to a new sort key.
func (s *Service) AmendTransaction(ctx context.Context, userID, txnID string, patch TransactionPatch) (*domain.Transaction, error) {
	log := logger.FromContext(ctx)

	existing, raw, err := s.findTransaction(ctx, userID, txnID)
	if err != nil {
		return nil, err
	}
	if patch.empty() {
		return nil, apperr.Validation("No updatable fields provided")
	}

	next := *existing

	if patch.AccountID != nil {
		if strings.TrimSpace(*patch.AccountID) == "" {
			return nil, apperr.Validation("Account ID cannot be empty")
		}
		next.AccountID = *patch.AccountID
	}
	account, err := s.fetchAccount(ctx, userID, next.AccountID)
	if err != nil {
		return nil, err
	}

	if patch.Type != nil {
		t, ok := domain.ParseTransactionType(*patch.Type)
		if !ok {
			return nil, apperr.Validation(`Transaction type must be "expense" or "income"`)
		}
		next.Type = t
	}

	if patch.CategoryID != nil {
		if strings.TrimSpace(*patch.CategoryID) == "" {
			return nil, apperr.Validation("Category ID cannot be empty")
		}
		next.CategoryID = *patch.CategoryID
	}
	category, err := s.fetchCategory(ctx, userID, next.CategoryID)
	if err != nil {
		return nil, err
	}
	if category.Type != next.Type {
		return nil, apperr.Validation("Transaction type must match category type (%s)", category.Type)
	}

	if patch.Amount != nil {
		next.Amount = *patch.Amount
	}
	if err := money.ValidateAmount(next.Amount); err != nil {
		return nil, err
	}
	if patch.FXRateToBase != nil {
		if err := money.ValidateRate(*patch.FXRateToBase); err != nil {
			return nil, err
		}
		next.FXRateToBase = *patch.FXRateToBase
	} else if next.FXRateToBase.IsZero() {
		// Records written without a rate are priced at par.
		next.FXRateToBase = decimal.NewFromInt(1)
	}
	if next.AmountBase, err = money.ToBase(next.Amount, next.FXRateToBase); err != nil {
		return nil, err
	}

	if patch.Currency != nil {
		if err := money.RequireSameCurrency(*patch.Currency, account.Currency); err != nil {
			return nil, err
		}
	}
	next.Currency = account.Currency

	if patch.OccurredAt != nil {
		next.OccurredAt = domain.NormalizeTime(*patch.OccurredAt)
	}
	if patch.Note != nil {
		next.Note = cleanNote(patch.Note)
	}
	if patch.Tags != nil {
		next.Tags = domain.CleanTags(*patch.Tags)
	}

	now := s.timestamp()
	next.SK = domain.TransactionSortKey(next.OccurredAt, existing.TxnID)
	next.UpdatedAt = now

	var ops []store.Op
	if next.SK != existing.SK {
		ops = append(ops,
			store.Delete(TransactionKey(userID, existing.SK), store.Unchanged(raw)),
			store.Put(TransactionKey(userID, next.SK), &next, store.MustNotExist),
		)
	} else {
		ops = append(ops, store.Put(TransactionKey(userID, next.SK), &next, store.Unchanged(raw)))
	}

	changes := newBalanceChanges()
	changes.add(existing.AccountID, delta(existing.Type, existing.Amount).Neg())
	changes.add(next.AccountID, delta(next.Type, next.Amount))
	changes.requireCurrency(next.AccountID, next.Currency)
	ops = append(ops, changes.ops(userID, now)...)

	if err := s.store.Transact(ctx, ops...); err != nil {
		return nil, err
	}

	log.Debug().Str("user_id", userID).Str("txn_id", txnID).Bool("moved", next.SK != existing.SK).Msg("Transaction amended")
	return &next, nil
}

// DeleteTransaction removes a transaction and reverses its balance effect.
func (s *Service) DeleteTransaction(ctx context.Context, userID, txnID string) error {
	existing, raw, err := s.findTransaction(ctx, userID, txnID)
	if err != nil {
		return err
	}

	now := s.timestamp()
	changes := newBalanceChanges()
	changes.add(existing.AccountID, delta(existing.Type, existing.Amount).Neg())

	ops := []store.Op{store.Delete(TransactionKey(userID, existing.SK), store.Unchanged(raw))}
	ops = append(ops, changes.ops(userID, now)...)
	if err := s.store.Transact(ctx, ops...); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("user_id", userID).Str("txn_id", txnID).Msg("Transaction deleted")
	return nil
}

// GetTransaction looks a transaction up by id.
func (s *Service) GetTransaction(ctx context.Context, userID, txnID string) (*domain.Transaction, error) {
	txn, _, err := s.findTransaction(ctx, userID, txnID)
	return txn, err
}

// ListTransactions returns the user's transactions in [from, to] ordered by
// occurredAt. The default range is the current UTC month up to now.
func (s *Service) ListTransactions(ctx context.Context, userID string, in ListTransactionsInput) (*TransactionPage, error) {
	now := s.timestamp()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := now
	if in.From != nil {
		from = domain.NormalizeTime(*in.From)
	}
	if in.To != nil {
		to = domain.NormalizeTime(*in.To)
	}
	if from.After(to) {
		return nil, apperr.Validation("from must not be after to")
	}

	limit := in.Limit
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	page, err := s.store.Query(ctx, store.Transactions, store.Query{
		UserID: userID,
		From:   domain.TransactionRangeStart(from),
		To:     domain.TransactionRangeEnd(to),
		Cursor: in.Cursor,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	items, err := store.Decode[domain.Transaction](page.Items)
	if err != nil {
		return nil, err
	}
	return &TransactionPage{Items: items, NextCursor: page.NextCursor}, nil
}

// findTransaction scans the user's ledger for txnID. The sort key embeds the
// occurrence time, so an id alone cannot be looked up directly.
func (s *Service) findTransaction(ctx context.Context, userID, txnID string) (*domain.Transaction, json.RawMessage, error) {
	if strings.TrimSpace(txnID) == "" {
		return nil, nil, apperr.Validation("Transaction ID is required")
	}
	suffix := "#TX#" + txnID

	q := store.Query{UserID: userID}
	for {
		page, err := s.store.Query(ctx, store.Transactions, q)
		if err != nil {
			return nil, nil, err
		}
		for _, rec := range page.Items {
			if !strings.HasSuffix(rec.Key.SortKey, suffix) {
				continue
			}
			var txn domain.Transaction
			if err := json.Unmarshal(rec.Data, &txn); err != nil {
				return nil, nil, err
			}
			return &txn, rec.Data, nil
		}
		if page.NextCursor == "" {
			return nil, nil, apperr.NotFound("Transaction not found")
		}
		q.Cursor = page.NextCursor
	}
}

// referencedBy reports whether any of the user's transactions satisfies match.
func (s *Service) referencedBy(ctx context.Context, userID string, match func(*domain.Transaction) bool) (bool, error) {
	q := store.Query{UserID: userID}
	for {
		page, err := s.store.Query(ctx, store.Transactions, q)
		if err != nil {
			return false, err
		}
		txns, err := store.Decode[domain.Transaction](page.Items)
		if err != nil {
			return false, err
		}
		for _, t := range txns {
			if match(t) {
				return true, nil
			}
		}
		if page.NextCursor == "" {
			return false, nil
		}
		q.Cursor = page.NextCursor
	}
}

func cleanNote(note *string) *string {
	if note == nil {
		return nil
	}
	n := strings.TrimSpace(*note)
	if n == "" {
		return nil
	}
	return &n
}
