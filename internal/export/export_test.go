package export

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	bq "github.com/dvloznov/finance-ledger/internal/infra/bigquery"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/shopspring/decimal"
)

var exportNow = time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

// mockSink records inserted rows and can fail the nth transaction batch.
type mockSink struct {
	txns      []*bq.TransactionRow
	snapshots []*bq.AccountSnapshotRow
	txnCalls  int
	failOn    int
}

func (m *mockSink) InsertTransactions(ctx context.Context, rows []*bq.TransactionRow) error {
	m.txnCalls++
	if m.failOn > 0 && m.txnCalls == m.failOn {
		return errors.New("streaming insert rejected")
	}
	m.txns = append(m.txns, rows...)
	return nil
}

func (m *mockSink) InsertAccountSnapshots(ctx context.Context, rows []*bq.AccountSnapshotRow) error {
	m.snapshots = append(m.snapshots, rows...)
	return nil
}

func seed(t *testing.T, st store.Store, txns int) {
	t.Helper()
	ctx := context.Background()
	svc := ledger.New(st, ledger.WithClock(func() time.Time { return exportNow }))

	opening := decimal.RequireFromString("10")
	acc, err := svc.CreateAccount(ctx, "u1", ledger.CreateAccountInput{Name: "Main", Type: "bank", Currency: "EUR", OpeningBalance: &opening})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	cat, err := svc.CreateCategory(ctx, "u1", ledger.CreateCategoryInput{Name: "Food", Type: "expense"})
	if err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}
	rate := decimal.RequireFromString("1.0869565217")
	for i := 0; i < txns; i++ {
		at := exportNow.Add(-time.Duration(i+1) * time.Hour)
		_, err := svc.CreateTransaction(ctx, "u1", ledger.CreateTransactionInput{
			AccountID: acc.AccountID, CategoryID: cat.CategoryID, Type: "expense",
			Amount: decimal.RequireFromString("2.5"), OccurredAt: &at, FXRateToBase: &rate,
		})
		if err != nil {
			t.Fatalf("CreateTransaction() error = %v", err)
		}
	}
}

func TestRun_ExportsAll(t *testing.T) {
	st := memory.New()
	seed(t, st, 5)
	sink := &mockSink{}

	res, err := New(st, sink, WithBatchSize(2), WithClock(func() time.Time { return exportNow })).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Transactions != 5 || res.Snapshots != 1 || res.Batches != 4 || res.Cursor != "" {
		t.Errorf("Run() = %+v, want 5 transactions, 1 snapshot in 4 batches", res)
	}
	if len(sink.txns) != 5 || len(sink.snapshots) != 1 {
		t.Fatalf("sink got %d txns, %d snapshots", len(sink.txns), len(sink.snapshots))
	}

	snap := sink.snapshots[0]
	if snap.SnapshotDate != civil.DateOf(exportNow) {
		t.Errorf("SnapshotDate = %v, want %v", snap.SnapshotDate, civil.DateOf(exportNow))
	}
	if snap.CurrentBalance.Cmp(big.NewRat(-25, 10)) != 0 {
		t.Errorf("CurrentBalance = %s, want -2.5", snap.CurrentBalance.FloatString(2))
	}
}

func TestRun_ResumesAfterSinkFailure(t *testing.T) {
	st := memory.New()
	seed(t, st, 5)
	sink := &mockSink{failOn: 2}
	exp := New(st, sink, WithBatchSize(2), WithClock(func() time.Time { return exportNow }))

	res, err := exp.Run(context.Background(), "")
	if !apperr.IsDependency(err) {
		t.Fatalf("Run() error = %v, want dependency error", err)
	}
	if !strings.HasPrefix(res.Cursor, phaseTransactions+":") || res.Transactions != 2 {
		t.Fatalf("Run() = %+v, want cursor inside transactions after 2 rows", res)
	}

	res, err = exp.Run(context.Background(), res.Cursor)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if res.Transactions != 3 || res.Snapshots != 1 {
		t.Errorf("resumed Run() = %+v, want remaining 3 transactions and 1 snapshot", res)
	}

	seen := make(map[string]bool)
	for _, r := range sink.txns {
		if seen[r.TxnID] {
			t.Errorf("transaction %s exported twice", r.TxnID)
		}
		seen[r.TxnID] = true
	}
	if len(seen) != 5 {
		t.Errorf("exported %d distinct transactions, want 5", len(seen))
	}
}

func TestRun_InvalidCursor(t *testing.T) {
	_, err := New(memory.New(), &mockSink{}).Run(context.Background(), "budgets:abc")
	if !apperr.IsValidation(err) {
		t.Errorf("Run() error = %v, want validation error", err)
	}
}

func TestTransactionRow(t *testing.T) {
	note := "lunch"
	at := time.Date(2024, 5, 31, 23, 30, 0, 0, time.UTC)
	txn := &domain.Transaction{
		UserID: "u1", TxnID: "t1", AccountID: "a1", CategoryID: "c1",
		Type:         domain.TypeExpense,
		Amount:       decimal.RequireFromString("12.345"),
		Currency:     "EUR",
		FXRateToBase: decimal.RequireFromString("1.0869565217"),
		AmountBase:   decimal.RequireFromString("13.418478"),
		Note:         &note,
		Tags:         []string{"work"},
		OccurredAt:   at,
		UpdatedAt:    at,
	}

	row := TransactionRow(txn, exportNow)
	if row.OccurredDate != (civil.Date{Year: 2024, Month: time.May, Day: 31}) {
		t.Errorf("OccurredDate = %v", row.OccurredDate)
	}
	if !row.Note.Valid || row.Note.StringVal != "lunch" {
		t.Errorf("Note = %+v", row.Note)
	}
	if got := row.FXRateToBase.FloatString(9); got != "1.086956522" {
		t.Errorf("FXRateToBase = %s, want rounded to NUMERIC scale", got)
	}
	if got := row.Amount.FloatString(3); got != "12.345" {
		t.Errorf("Amount = %s", got)
	}

	txn.Note = nil
	txn.CategoryID = ""
	row = TransactionRow(txn, exportNow)
	if row.Note.Valid || row.CategoryID.Valid {
		t.Errorf("empty note/category should be NULL, got %+v %+v", row.Note, row.CategoryID)
	}
}
