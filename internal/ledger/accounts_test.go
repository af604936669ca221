package ledger

import (
	"context"
	"testing"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
)

func TestCreateAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	acct, err := f.svc.CreateAccount(ctx, testUser, CreateAccountInput{Name: " Wallet ", Type: "CASH", Currency: "usd", OpeningBalance: dp("12.34")})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if acct.Name != "Wallet" || acct.Type != domain.AccountCash || acct.Currency != "USD" {
		t.Errorf("unexpected account %+v", acct)
	}
	if !acct.CurrentBalance.Equal(acct.OpeningBalance) {
		t.Errorf("current balance %s should start at opening balance %s", acct.CurrentBalance, acct.OpeningBalance)
	}

	tests := []struct {
		name  string
		input CreateAccountInput
	}{
		{"short name", CreateAccountInput{Name: "A", Type: "cash", Currency: "USD"}},
		{"bad type", CreateAccountInput{Name: "Savings", Type: "stocks", Currency: "USD"}},
		{"bad currency", CreateAccountInput{Name: "Savings", Type: "bank", Currency: "dollars"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.CreateAccount(ctx, testUser, tt.input); !apperr.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdateAccount_OpeningBalanceShiftsCurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	acct := f.account(t, "USD", "100")
	cat := f.category(t, "expense")

	if _, err := f.svc.CreateTransaction(ctx, testUser, CreateTransactionInput{
		AccountID: acct.AccountID, CategoryID: cat.CategoryID, Type: "expense", Amount: d("20"),
	}); err != nil {
		t.Fatal(err)
	}

	updated, err := f.svc.UpdateAccount(ctx, testUser, acct.AccountID, AccountPatch{OpeningBalance: dp("150"), Name: sp("Main")})
	if err != nil {
		t.Fatalf("UpdateAccount() error = %v", err)
	}
	if updated.Name != "Main" {
		t.Errorf("name = %q", updated.Name)
	}
	assertBalance(t, f, acct.AccountID, "130")
}

func TestUpdateAccount_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	acct := f.account(t, "USD", "100")
	cat := f.category(t, "expense")

	if _, err := f.svc.UpdateAccount(ctx, testUser, acct.AccountID, AccountPatch{}); !apperr.IsValidation(err) {
		t.Errorf("empty patch: got %v", err)
	}
	if _, err := f.svc.UpdateAccount(ctx, testUser, "missing", AccountPatch{Name: sp("Other")}); !apperr.IsNotFound(err) {
		t.Errorf("missing account: got %v", err)
	}

	if _, err := f.svc.CreateTransaction(ctx, testUser, CreateTransactionInput{
		AccountID: acct.AccountID, CategoryID: cat.CategoryID, Type: "expense", Amount: d("20"),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateAccount(ctx, testUser, acct.AccountID, AccountPatch{Currency: sp("EUR")}); !apperr.IsConflict(err) {
		t.Errorf("currency change with transactions: got %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	acct := f.account(t, "USD", "100")
	cat := f.category(t, "expense")

	txn, err := f.svc.CreateTransaction(ctx, testUser, CreateTransactionInput{
		AccountID: acct.AccountID, CategoryID: cat.CategoryID, Type: "expense", Amount: d("20"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.DeleteAccount(ctx, testUser, acct.AccountID); !apperr.IsConflict(err) {
		t.Fatalf("delete with transactions: got %v", err)
	}
	if err := f.svc.DeleteCategory(ctx, testUser, cat.CategoryID); !apperr.IsConflict(err) {
		t.Fatalf("delete referenced category: got %v", err)
	}

	if err := f.svc.DeleteTransaction(ctx, testUser, txn.TxnID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteAccount(ctx, testUser, acct.AccountID); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if err := f.svc.DeleteAccount(ctx, testUser, acct.AccountID); !apperr.IsNotFound(err) {
		t.Errorf("second delete: got %v", err)
	}
	if err := f.svc.DeleteCategory(ctx, testUser, cat.CategoryID); err != nil {
		t.Fatalf("DeleteCategory() error = %v", err)
	}
}

func TestCategories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	cat := f.category(t, "expense")
	if cat.Color != domain.DefaultCategoryColor || cat.Icon != domain.DefaultCategoryIcon {
		t.Errorf("defaults not applied: %+v", cat)
	}

	updated, err := f.svc.UpdateCategory(ctx, testUser, cat.CategoryID, CategoryPatch{Color: sp("#f00"), Type: sp("income")})
	if err != nil {
		t.Fatalf("UpdateCategory() error = %v", err)
	}
	if updated.Color != "#f00" || updated.Type != domain.TypeIncome {
		t.Errorf("unexpected category %+v", updated)
	}

	if _, err := f.svc.UpdateCategory(ctx, testUser, "missing", CategoryPatch{Icon: sp("x")}); !apperr.IsNotFound(err) {
		t.Errorf("missing category: got %v", err)
	}
	if _, err := f.svc.CreateCategory(ctx, testUser, CreateCategoryInput{Name: "Rent", Type: "transfer"}); !apperr.IsValidation(err) {
		t.Errorf("bad type: got %v", err)
	}

	list, err := f.svc.ListCategories(ctx, testUser)
	if err != nil || len(list) != 1 {
		t.Errorf("ListCategories() = %d, %v", len(list), err)
	}
}

func TestBudgets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	cat := "cat-1"

	b, err := f.svc.CreateBudget(ctx, testUser, CreateBudgetInput{Month: "2024-05", CategoryID: &cat, Currency: "usd", Limit: d("500")})
	if err != nil {
		t.Fatalf("CreateBudget() error = %v", err)
	}
	if b.PeriodCat != "2024-05#cat-1" || !b.AlertThreshold.Equal(domain.DefaultAlertThreshold) {
		t.Errorf("unexpected budget %+v", b)
	}
	if domain.FormatTimestamp(b.PeriodEnd) != "2024-05-31T23:59:59.999Z" {
		t.Errorf("periodEnd = %s", domain.FormatTimestamp(b.PeriodEnd))
	}

	if _, err := f.svc.CreateBudget(ctx, testUser, CreateBudgetInput{Month: "2024-05", CategoryID: &cat, Currency: "USD", Limit: d("1")}); !apperr.IsConflict(err) {
		t.Errorf("duplicate budget: got %v", err)
	}
	if _, err := f.svc.CreateBudget(ctx, testUser, CreateBudgetInput{Month: "2024-05", Currency: "USD", Limit: d("900")}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreateBudget(ctx, testUser, CreateBudgetInput{Month: "2024-06", Currency: "USD", Limit: d("900")}); err != nil {
		t.Fatal(err)
	}

	list, err := f.svc.ListBudgets(ctx, testUser, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("ListBudgets(current month) = %d items, want 2", len(list))
	}

	tests := []struct {
		name  string
		input CreateBudgetInput
	}{
		{"bad month", CreateBudgetInput{Month: "2024-5", Currency: "USD", Limit: d("1")}},
		{"zero limit", CreateBudgetInput{Month: "2024-07", Currency: "USD", Limit: d("0")}},
		{"threshold too high", CreateBudgetInput{Month: "2024-07", Currency: "USD", Limit: d("1"), AlertThreshold: dp("1.6")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.CreateBudget(ctx, testUser, tt.input); !apperr.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	updated, err := f.svc.UpdateBudget(ctx, testUser, "2024-05", cat, BudgetPatch{Limit: dp("650"), AlertThreshold: dp("1.2")})
	if err != nil {
		t.Fatalf("UpdateBudget() error = %v", err)
	}
	if !updated.Limit.Equal(d("650")) || !updated.AlertThreshold.Equal(d("1.2")) {
		t.Errorf("unexpected budget %+v", updated)
	}

	if err := f.svc.DeleteBudget(ctx, testUser, "2024-05", ""); err != nil {
		t.Fatalf("DeleteBudget() error = %v", err)
	}
	if _, err := f.svc.GetBudget(ctx, testUser, "2024-05", ""); !apperr.IsNotFound(err) {
		t.Errorf("deleted budget: got %v", err)
	}
	if err := f.svc.DeleteBudget(ctx, testUser, "2024-05", ""); !apperr.IsNotFound(err) {
		t.Errorf("second delete: got %v", err)
	}
}
