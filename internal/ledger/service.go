// Package ledger keeps transactions and account balances consistent. Every mutation
// that touches more than one record is issued as a single atomic store unit; the
// package holds no locks and never retries a conflicting write.
package ledger

import (
	"sort"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service implements the ledger operations on top of a store.Store.
type Service struct {
	store store.Store
	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how entity ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New creates a Service.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return domain.NormalizeTime(s.now())
}

// AccountKey addresses an account record.
func AccountKey(userID, accountID string) store.Key {
	return store.Key{Collection: store.Accounts, UserID: userID, SortKey: accountID}
}

// CategoryKey addresses a category record.
func CategoryKey(userID, categoryID string) store.Key {
	return store.Key{Collection: store.Categories, UserID: userID, SortKey: categoryID}
}

// TransactionKey addresses a transaction record by its sort key.
func TransactionKey(userID, sk string) store.Key {
	return store.Key{Collection: store.Transactions, UserID: userID, SortKey: sk}
}

// BudgetKey addresses a budget record.
func BudgetKey(userID, periodCat string) store.Key {
	return store.Key{Collection: store.Budgets, UserID: userID, SortKey: periodCat}
}

// RuleKey addresses a recurring rule record.
func RuleKey(userID, ruleID string) store.Key {
	return store.Key{Collection: store.RecurringRules, UserID: userID, SortKey: ruleID}
}

// AdjustBalance builds the op that adds delta to an account's currentBalance.
// The account must exist. When currency is not empty the account must still be
// denominated in it at commit time.
func AdjustBalance(userID, accountID string, delta decimal.Decimal, currency string, now time.Time) store.Op {
	return store.UpdateAs(AccountKey(userID, accountID), store.MustExist, func(a *domain.Account) error {
		if currency != "" && a.Currency != currency {
			return apperr.Validation("Transaction currency must match account currency")
		}
		a.CurrentBalance = a.CurrentBalance.Add(delta)
		a.UpdatedAt = now
		return nil
	})
}

// balanceChanges accumulates per-account deltas so that an account touched twice
// in one unit gets a single combined write.
type balanceChanges struct {
	deltas   map[string]decimal.Decimal
	currency map[string]string
}

func newBalanceChanges() *balanceChanges {
	return &balanceChanges{
		deltas:   make(map[string]decimal.Decimal),
		currency: make(map[string]string),
	}
}

func (b *balanceChanges) add(accountID string, delta decimal.Decimal) {
	b.deltas[accountID] = b.deltas[accountID].Add(delta)
}

// requireCurrency pins the currency the account must have when the unit commits.
func (b *balanceChanges) requireCurrency(accountID, currency string) {
	b.currency[accountID] = currency
}

// ops returns one update per account with a non-zero net delta, in account id order.
func (b *balanceChanges) ops(userID string, now time.Time) []store.Op {
	ids := make([]string, 0, len(b.deltas))
	for id, delta := range b.deltas {
		if delta.IsZero() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ops := make([]store.Op, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, AdjustBalance(userID, id, b.deltas[id], b.currency[id], now))
	}
	return ops
}

func delta(t domain.TransactionType, amount decimal.Decimal) decimal.Decimal {
	return money.TypeToDelta(string(t), amount)
}
