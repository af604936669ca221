package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultPageSize is the number of transactions read per scan page.
const DefaultPageSize = 100

// Rate sources reported in Result.Source.
const (
	SourceProvider = "provider"
	SourceFallback = "fallback"
)

// Result summarises one refresher run.
type Result struct {
	Source  string `json:"source"`
	Scanned int    `json:"scanned"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`

	// Cursor is where an interrupted run stopped. It is empty after a full scan.
	Cursor string `json:"cursor,omitempty"`
}

// Refresher re-normalizes stored transactions whose rate to base has moved.
// Account balances are kept in account currency and are never touched.
type Refresher struct {
	store    store.Store
	provider Provider
	fallback Rates
	base     string
	now      func() time.Time
	pageSize int
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithProvider sets the remote rate source. Without one only the fallback table is used.
func WithProvider(p Provider) RefresherOption {
	return func(r *Refresher) { r.provider = p }
}

// WithFallback sets the rates used when the provider is missing or fails.
func WithFallback(rates Rates) RefresherOption {
	return func(r *Refresher) { r.fallback = rates }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

// WithPageSize sets how many transactions are read per scan page.
func WithPageSize(n int) RefresherOption {
	return func(r *Refresher) { r.pageSize = n }
}

// NewRefresher creates a Refresher for the given base currency.
func NewRefresher(st store.Store, base string, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:    st,
		base:     base,
		now:      time.Now,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadRates builds the rate table: fallback, then provider, then the base pinned to 1.
// A provider failure is logged and the fallback table is used alone.
func (r *Refresher) LoadRates(ctx context.Context) (Rates, string) {
	if r.provider == nil {
		return Merge(r.base, r.fallback), SourceFallback
	}
	fetched, err := r.provider.Fetch(ctx, r.base)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("provider", r.provider.Name()).Msg("FX provider failed, using fallback rates")
		return Merge(r.base, r.fallback), SourceFallback
	}
	return Merge(r.base, r.fallback, fetched), SourceProvider
}

// Run scans every transaction starting at cursor and updates those whose stored rate
// is stale. Running twice with the same rates updates nothing the second time.
func (r *Refresher) Run(ctx context.Context, cursor string) (*Result, error) {
	log := logger.FromContext(ctx)
	rates, source := r.LoadRates(ctx)
	res := &Result{Source: source}

	for {
		if err := ctx.Err(); err != nil {
			res.Cursor = cursor
			return res, err
		}

		page, err := r.store.Scan(ctx, store.Transactions, cursor, r.pageSize)
		if err != nil {
			res.Cursor = cursor
			return res, fmt.Errorf("Run: scanning transactions: %w", err)
		}

		for _, rec := range page.Items {
			res.Scanned++
			updated, err := r.refreshOne(ctx, rec, rates)
			if err != nil {
				res.Failed++
				log.Error().Err(err).Str("user_id", rec.Key.UserID).Str("sk", rec.Key.SortKey).Msg("Failed to refresh transaction rate")
				continue
			}
			if updated {
				res.Updated++
			} else {
				res.Skipped++
			}
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	log.Info().
		Str("source", res.Source).
		Int("scanned", res.Scanned).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("FX refresh finished")
	return res, nil
}

func (r *Refresher) refreshOne(ctx context.Context, rec store.Record, rates Rates) (bool, error) {
	var txn domain.Transaction
	if err := json.Unmarshal(rec.Data, &txn); err != nil {
		return false, fmt.Errorf("decoding transaction: %w", err)
	}
	if txn.Currency == "" || txn.Currency == r.base {
		return false, nil
	}
	rate, ok := rates[txn.Currency]
	if !ok || !rate.IsPositive() {
		return false, nil
	}
	if !money.RatesDiffer(txn.FXRateToBase, rate, money.RateEpsilon) {
		return false, nil
	}

	// A transaction amended or moved since the scan is left for the next run.
	now := domain.NormalizeTime(r.now())
	op := store.UpdateAs(rec.Key, store.Unchanged(rec.Data), func(t *domain.Transaction) error {
		return applyRate(t, rate, now)
	})
	if err := r.store.Write(ctx, op); err != nil {
		if apperr.IsConflict(err) {
			log := logger.FromContext(ctx)
			log.Debug().Str("user_id", rec.Key.UserID).Str("sk", rec.Key.SortKey).Msg("Transaction changed during FX refresh, skipping")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// applyRate recomputes the base amount of t at rate.
func applyRate(t *domain.Transaction, rate decimal.Decimal, now time.Time) error {
	amountBase, err := money.ToBase(t.Amount, rate)
	if err != nil {
		return err
	}
	t.FXRateToBase = rate
	t.AmountBase = amountBase
	t.UpdatedAt = now
	return nil
}
