package fx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
)

var refreshNow = time.Date(2024, 5, 16, 8, 0, 0, 0, time.UTC)

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) Fetch(ctx context.Context, base string) (Rates, error) {
	return nil, errors.New("upstream down")
}

func seedTxn(t *testing.T, st store.Store, user, id, currency, amount, rate string) store.Key {
	t.Helper()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	txn := &domain.Transaction{
		UserID:       user,
		SK:           domain.TransactionSortKey(at, id),
		TxnID:        id,
		AccountID:    "acc-1",
		CategoryID:   "cat-1",
		Type:         domain.TypeExpense,
		Amount:       d(amount),
		Currency:     currency,
		FXRateToBase: d(rate),
		AmountBase:   d(amount).Mul(d(rate)),
		OccurredAt:   at,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	key := ledger.TransactionKey(user, txn.SK)
	if err := st.Write(context.Background(), store.Put(key, txn, store.MustNotExist)); err != nil {
		t.Fatalf("seeding %s: %v", id, err)
	}
	return key
}

func getTxn(t *testing.T, st store.Store, key store.Key) *domain.Transaction {
	t.Helper()
	txn, _, err := store.GetAs[domain.Transaction](context.Background(), st, key)
	if err != nil {
		t.Fatalf("GetAs(%s) error = %v", key, err)
	}
	return txn
}

func TestRefresher_Run(t *testing.T) {
	st := memory.New()
	eur := seedTxn(t, st, "u1", "t1", "EUR", "10", "1.0")
	usd := seedTxn(t, st, "u1", "t2", "USD", "5", "1")
	closeEnough := seedTxn(t, st, "u2", "t3", "GBP", "20", "1.27005")
	unknown := seedTxn(t, st, "u2", "t4", "CHF", "7", "1.1")

	r := NewRefresher(st, "USD",
		WithProvider(StaticProvider{Rates: Rates{"EUR": d("1.1")}}),
		WithFallback(Rates{"GBP": d("1.27"), "EUR": d("0.5")}),
		WithClock(func() time.Time { return refreshNow }),
		WithPageSize(2),
	)

	res, err := r.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Source != SourceProvider {
		t.Errorf("Source = %q, want %q", res.Source, SourceProvider)
	}
	if res.Scanned != 4 || res.Updated != 1 || res.Skipped != 3 || res.Failed != 0 {
		t.Errorf("Run() = %+v, want scanned 4, updated 1, skipped 3", res)
	}

	got := getTxn(t, st, eur)
	if !got.FXRateToBase.Equal(d("1.1")) || !got.AmountBase.Equal(d("11")) {
		t.Errorf("EUR txn rate=%s base=%s, want 1.1 and 11", got.FXRateToBase, got.AmountBase)
	}
	if !got.UpdatedAt.Equal(refreshNow) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, refreshNow)
	}
	if !got.Amount.Equal(d("10")) {
		t.Errorf("Amount changed to %s", got.Amount)
	}

	for _, key := range []store.Key{usd, closeEnough, unknown} {
		if txn := getTxn(t, st, key); !txn.UpdatedAt.Before(refreshNow) {
			t.Errorf("%s was rewritten", key)
		}
	}
}

func TestRefresher_Idempotent(t *testing.T) {
	st := memory.New()
	for i := 0; i < 5; i++ {
		seedTxn(t, st, fmt.Sprintf("u%d", i%2), fmt.Sprintf("t%d", i), "EUR", "3.33", "1.05")
	}
	r := NewRefresher(st, "USD", WithFallback(Rates{"EUR": d("1.0869565217")}), WithClock(func() time.Time { return refreshNow }))

	first, err := r.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.Updated != 5 {
		t.Fatalf("first Run() updated %d, want 5", first.Updated)
	}

	second, err := r.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.Updated != 0 || second.Skipped != 5 {
		t.Errorf("second Run() = %+v, want nothing updated", second)
	}
}

func TestRefresher_ProviderFailureUsesFallback(t *testing.T) {
	st := memory.New()
	key := seedTxn(t, st, "u1", "t1", "GBP", "100", "1.2")

	r := NewRefresher(st, "USD",
		WithProvider(failingProvider{}),
		WithFallback(Rates{"GBP": d("1.25")}),
		WithClock(func() time.Time { return refreshNow }),
	)
	res, err := r.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Source != SourceFallback || res.Updated != 1 {
		t.Errorf("Run() = %+v, want fallback source with one update", res)
	}
	if got := getTxn(t, st, key); !got.AmountBase.Equal(d("125")) {
		t.Errorf("AmountBase = %s, want 125", got.AmountBase)
	}
}

func TestRefresher_CorruptRecordIsIsolated(t *testing.T) {
	st := memory.New()
	bad := store.Key{Collection: store.Transactions, UserID: "u0", SortKey: "DT#2024-01-01T00:00:00.000Z#TX#bad"}
	if err := st.Write(context.Background(), store.Put(bad, "not an object", store.None)); err != nil {
		t.Fatalf("seeding corrupt record: %v", err)
	}
	good := seedTxn(t, st, "u1", "t1", "EUR", "10", "1")

	r := NewRefresher(st, "USD", WithFallback(Rates{"EUR": d("2")}), WithClock(func() time.Time { return refreshNow }))
	res, err := r.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Failed != 1 || res.Updated != 1 {
		t.Errorf("Run() = %+v, want one failure and one update", res)
	}
	if got := getTxn(t, st, good); !got.AmountBase.Equal(d("20")) {
		t.Errorf("AmountBase = %s, want 20", got.AmountBase)
	}
}

func TestRefresher_CancelledReturnsCursor(t *testing.T) {
	st := memory.New()
	seedTxn(t, st, "u1", "t1", "EUR", "10", "1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRefresher(st, "USD").Run(ctx, "resume-here")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.Cursor != "resume-here" {
		t.Errorf("Cursor = %q, want resume-here", res.Cursor)
	}
}

// amendingStore runs before once, just ahead of the first Write.
type amendingStore struct {
	store.Store
	before func()
	done   bool
}

func (s *amendingStore) Write(ctx context.Context, op store.Op) error {
	if !s.done && s.before != nil {
		s.done = true
		s.before()
	}
	return s.Store.Write(ctx, op)
}

func TestRefresher_TransactionMovedToBaseDuringRun(t *testing.T) {
	mem := memory.New()
	key := seedTxn(t, mem, "u1", "t1", "EUR", "10", "1")

	racing := &amendingStore{Store: mem}
	racing.before = func() {
		txn := getTxn(t, mem, key)
		txn.AccountID = "acc-usd"
		txn.Currency = "USD"
		txn.FXRateToBase = d("1")
		txn.AmountBase = d("10")
		if err := mem.Write(context.Background(), store.Put(key, txn, store.MustExist)); err != nil {
			t.Fatalf("amending: %v", err)
		}
	}

	r := NewRefresher(racing, "USD", WithFallback(Rates{"EUR": d("1.1")}), WithClock(func() time.Time { return refreshNow }))
	res, err := r.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Updated != 0 || res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("Run() = %+v, want the changed transaction skipped", res)
	}

	got := getTxn(t, mem, key)
	if got.Currency != "USD" || !got.FXRateToBase.Equal(d("1")) || !got.AmountBase.Equal(d("10")) {
		t.Errorf("transaction = %s rate %s amount_base %s, want USD rate 1 amount_base 10", got.Currency, got.FXRateToBase, got.AmountBase)
	}

	// The next run sees the base-currency record and leaves it alone.
	res, err = r.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res.Updated != 0 {
		t.Errorf("second Run() updated %d transactions", res.Updated)
	}
}
