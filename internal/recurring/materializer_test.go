package recurring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/shopspring/decimal"
)

const testUser = "user-1"

type fixture struct {
	store    *memory.Store
	ledger   *ledger.Service
	svc      *Service
	now      time.Time
	account  *domain.Account
	category *domain.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.New(), now: time.Date(2024, 5, 15, 6, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	seq := 0
	ids := func() string {
		seq++
		return fmt.Sprintf("id-%04d", seq)
	}
	f.ledger = ledger.New(f.store, ledger.WithClock(clock), ledger.WithIDGenerator(ids))
	f.svc = New(f.store, WithClock(clock), WithIDGenerator(ids), WithPageSize(2))

	var err error
	f.account, err = f.ledger.CreateAccount(ctx, testUser, ledger.CreateAccountInput{Name: "Checking", Type: "bank", Currency: "USD", OpeningBalance: decimalPtr("1000")})
	if err != nil {
		t.Fatal(err)
	}
	f.category, err = f.ledger.CreateCategory(ctx, testUser, ledger.CreateCategoryInput{Name: "Rent", Type: "expense"})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func decimalPtr(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func (f *fixture) rule(t *testing.T, freq string, nextRun time.Time, amount string) *domain.RecurringRule {
	t.Helper()
	r, err := f.svc.CreateRule(context.Background(), testUser, CreateRuleInput{
		Frequency:  freq,
		NextRun:    &nextRun,
		AccountID:  f.account.AccountID,
		CategoryID: f.category.CategoryID,
		Type:       "expense",
		Amount:     decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("CreateRule() error = %v", err)
	}
	return r
}

func (f *fixture) transactions(t *testing.T) []*domain.Transaction {
	t.Helper()
	recs, err := store.QueryAll(context.Background(), f.store, store.Transactions, store.Query{UserID: testUser})
	if err != nil {
		t.Fatal(err)
	}
	txns, err := store.Decode[domain.Transaction](recs)
	if err != nil {
		t.Fatal(err)
	}
	return txns
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	a, err := f.ledger.GetAccount(context.Background(), testUser, f.account.AccountID)
	if err != nil {
		t.Fatal(err)
	}
	return a.CurrentBalance
}

func TestRun_CatchesUpOneStepPerRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	start := f.now.AddDate(0, -2, 0).Add(time.Hour)
	rule := f.rule(t, "monthly", start, "250")

	res, err := f.svc.Run(ctx, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Materialized != 1 {
		t.Fatalf("first run materialized %d, want 1", res.Materialized)
	}
	got, err := f.svc.GetRule(ctx, testUser, rule.RuleID)
	if err != nil {
		t.Fatal(err)
	}
	if want := start.AddDate(0, 1, 0); !got.NextRun.Equal(want) {
		t.Errorf("nextRun = %v, want %v", got.NextRun, want)
	}
	if n := len(f.transactions(t)); n != 1 {
		t.Errorf("transactions after first run = %d, want 1", n)
	}

	if res, err = f.svc.Run(ctx, ""); err != nil || res.Materialized != 1 {
		t.Fatalf("second run = %+v, %v", res, err)
	}
	if res, err = f.svc.Run(ctx, ""); err != nil || res.Materialized != 0 || res.Due != 0 {
		t.Fatalf("third run should find nothing due, got %+v, %v", res, err)
	}

	if n := len(f.transactions(t)); n != 2 {
		t.Errorf("transactions = %d, want 2", n)
	}
	if b := f.balance(t); !b.Equal(decimal.RequireFromString("500")) {
		t.Errorf("balance = %s, want 500", b)
	}
}

func TestRun_TransactionFromTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rule, err := f.svc.CreateRule(ctx, testUser, CreateRuleInput{
		Frequency:  "weekly",
		AccountID:  f.account.AccountID,
		CategoryID: f.category.CategoryID,
		Type:       "expense",
		Amount:     decimal.RequireFromString("10"),
		Note:       strPtr("gym"),
		Tags:       []string{"health"},
		BaseFX:     decimalPtr("0.9"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Run(ctx, ""); err != nil {
		t.Fatal(err)
	}

	txns := f.transactions(t)
	if len(txns) != 1 {
		t.Fatalf("transactions = %d, want 1", len(txns))
	}
	txn := txns[0]
	if !txn.OccurredAt.Equal(f.now) || txn.Currency != "USD" || txn.Note == nil || *txn.Note != "gym" {
		t.Errorf("unexpected transaction %+v", txn)
	}
	if !txn.AmountBase.Equal(decimal.RequireFromString("9")) {
		t.Errorf("amount_base = %s, want 9", txn.AmountBase)
	}

	got, _ := f.svc.GetRule(ctx, testUser, rule.RuleID)
	if !got.NextRun.Equal(rule.NextRun.AddDate(0, 0, 7)) {
		t.Errorf("nextRun = %v", got.NextRun)
	}
}

func strPtr(s string) *string {
	return &s
}

func TestRun_SkipsMalformedAndIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	past := f.now.Add(-time.Hour)

	malformed := []*domain.RecurringRule{
		{UserID: testUser, RuleID: "no-template", Frequency: domain.Monthly, NextRun: past},
		{UserID: testUser, RuleID: "zero-amount", Frequency: domain.Monthly, NextRun: past, Template: &domain.RecurringTemplate{
			AccountID: f.account.AccountID, CategoryID: f.category.CategoryID, Type: domain.TypeExpense, Amount: decimal.Zero, Currency: "USD",
		}},
		{UserID: testUser, RuleID: "bad-type", Frequency: domain.Monthly, NextRun: past, Template: &domain.RecurringTemplate{
			AccountID: f.account.AccountID, CategoryID: f.category.CategoryID, Type: "transfer", Amount: decimal.NewFromInt(5), Currency: "USD",
		}},
		{UserID: testUser, RuleID: "bad-frequency", Frequency: "hourly", NextRun: past, Template: &domain.RecurringTemplate{
			AccountID: f.account.AccountID, CategoryID: f.category.CategoryID, Type: domain.TypeExpense, Amount: decimal.NewFromInt(5), Currency: "USD",
		}},
	}
	for _, r := range malformed {
		if err := f.store.Write(ctx, store.Put(ledger.RuleKey(r.UserID, r.RuleID), r, store.None)); err != nil {
			t.Fatal(err)
		}
	}

	// Account vanished: the unit fails its condition.
	orphan := &domain.RecurringRule{UserID: testUser, RuleID: "orphan", Frequency: domain.Daily, NextRun: past, Template: &domain.RecurringTemplate{
		AccountID: "deleted-account", CategoryID: f.category.CategoryID, Type: domain.TypeExpense, Amount: decimal.NewFromInt(5), Currency: "USD",
	}}
	if err := f.store.Write(ctx, store.Put(ledger.RuleKey(testUser, orphan.RuleID), orphan, store.None)); err != nil {
		t.Fatal(err)
	}

	good := f.rule(t, "daily", past, "40")

	res, err := f.svc.Run(ctx, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Scanned != 6 || res.Skipped != 4 || res.Failed != 1 || res.Materialized != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	txns := f.transactions(t)
	if len(txns) != 1 || txns[0].Amount.String() != "40" {
		t.Errorf("expected only the good rule to post, got %+v", txns)
	}
	got, _ := f.svc.GetRule(ctx, testUser, good.RuleID)
	if !got.NextRun.Equal(past.AddDate(0, 0, 1)) {
		t.Errorf("good rule nextRun = %v", got.NextRun)
	}
	orphanAfter, _ := f.svc.GetRule(ctx, testUser, orphan.RuleID)
	if !orphanAfter.NextRun.Equal(past) {
		t.Errorf("failed rule must not advance, nextRun = %v", orphanAfter.NextRun)
	}
}

// advancingStore advances every rule just before the first Transact, the way an
// overlapping run would.
type advancingStore struct {
	*memory.Store
	t    *testing.T
	done bool
}

func (a *advancingStore) Transact(ctx context.Context, ops ...store.Op) error {
	if !a.done {
		a.done = true
		for _, op := range ops {
			if op.Key.Collection != store.RecurringRules {
				continue
			}
			bump := store.UpdateAs(op.Key, store.MustExist, func(r *domain.RecurringRule) error {
				r.NextRun = r.NextRun.AddDate(0, 1, 0)
				return nil
			})
			if err := a.Store.Transact(ctx, bump); err != nil {
				a.t.Fatal(err)
			}
		}
	}
	return a.Store.Transact(ctx, ops...)
}

func TestRun_OverlappingRunDoesNotDoubleFire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rule(t, "monthly", f.now.Add(-time.Hour), "100")

	racing := New(&advancingStore{Store: f.store, t: t}, WithClock(func() time.Time { return f.now }))
	res, err := racing.Run(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Materialized != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if n := len(f.transactions(t)); n != 0 {
		t.Errorf("transactions = %d, want 0", n)
	}
	if b := f.balance(t); !b.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("balance = %s, want 1000", b)
	}
}

func TestRun_CancelledReturnsCursor(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cursor := store.EncodeCursor(testUser, "some-rule")
	res, err := f.svc.Run(ctx, cursor)
	if err == nil {
		t.Fatal("expected context error")
	}
	if res.Cursor != cursor {
		t.Errorf("cursor = %q, want %q", res.Cursor, cursor)
	}
}

func TestCreateRule_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	income, err := f.ledger.CreateCategory(ctx, testUser, ledger.CreateCategoryInput{Name: "Salary", Type: "income"})
	if err != nil {
		t.Fatal(err)
	}

	base := CreateRuleInput{
		Frequency:  "monthly",
		AccountID:  f.account.AccountID,
		CategoryID: f.category.CategoryID,
		Type:       "expense",
		Amount:     decimal.NewFromInt(10),
	}

	tests := []struct {
		name   string
		mutate func(*CreateRuleInput)
		check  func(error) bool
	}{
		{"bad frequency", func(in *CreateRuleInput) { in.Frequency = "hourly" }, apperr.IsValidation},
		{"bad amount", func(in *CreateRuleInput) { in.Amount = decimal.NewFromInt(-1) }, apperr.IsValidation},
		{"currency mismatch", func(in *CreateRuleInput) { in.Currency = "EUR" }, apperr.IsValidation},
		{"category type mismatch", func(in *CreateRuleInput) { in.CategoryID = income.CategoryID }, apperr.IsValidation},
		{"missing account", func(in *CreateRuleInput) { in.AccountID = "nope" }, apperr.IsNotFound},
		{"bad base fx", func(in *CreateRuleInput) { in.BaseFX = decimalPtr("0") }, apperr.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			if _, err := f.svc.CreateRule(ctx, testUser, in); !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestDeleteRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.rule(t, "yearly", f.now.AddDate(0, 1, 0), "5")

	rules, err := f.svc.ListRules(ctx, testUser)
	if err != nil || len(rules) != 1 {
		t.Fatalf("ListRules() = %d, %v", len(rules), err)
	}
	if err := f.svc.DeleteRule(ctx, testUser, r.RuleID); err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}
	if err := f.svc.DeleteRule(ctx, testUser, r.RuleID); !apperr.IsNotFound(err) {
		t.Errorf("second delete: got %v", err)
	}
}
