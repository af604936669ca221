// Package reconcile checks stored account balances against their transactions.
// It only reports drift; balances are never rewritten.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

const (
	// DefaultPageSize is the number of accounts read per scan page.
	DefaultPageSize = 100

	// MaxReportedDrifts caps how many drifting accounts are listed in a Result.
	MaxReportedDrifts = 100
)

// Drift describes one account whose stored balance disagrees with its transactions.
type Drift struct {
	UserID     string          `json:"userId"`
	AccountID  string          `json:"accountId"`
	Currency   string          `json:"currency"`
	Stored     decimal.Decimal `json:"stored"`
	Expected   decimal.Decimal `json:"expected"`
	Difference decimal.Decimal `json:"difference"`
}

// Result summarises one reconciler run.
type Result struct {
	Scanned int     `json:"scanned"`
	Drifted int     `json:"drifted"`
	Failed  int     `json:"failed"`
	Drifts  []Drift `json:"drifts,omitempty"`

	// Cursor is where an interrupted run stopped. It is empty after a full scan.
	Cursor string `json:"cursor,omitempty"`
}

// Reconciler recomputes balances from transactions.
type Reconciler struct {
	store    store.Store
	pageSize int
}

// New creates a Reconciler. A non-positive pageSize selects DefaultPageSize.
func New(st store.Store, pageSize int) *Reconciler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Reconciler{store: st, pageSize: pageSize}
}

// Run scans accounts from cursor and compares each currentBalance with
// openingBalance plus the signed amounts of its transactions.
func (r *Reconciler) Run(ctx context.Context, cursor string) (*Result, error) {
	log := logger.FromContext(ctx)
	res := &Result{}

	// Scan visits one user's accounts contiguously, so sums are kept for one user at a time.
	var sumsUser string
	var sums map[string]decimal.Decimal

	for {
		if err := ctx.Err(); err != nil {
			res.Cursor = cursor
			return res, err
		}

		page, err := r.store.Scan(ctx, store.Accounts, cursor, r.pageSize)
		if err != nil {
			res.Cursor = cursor
			return res, fmt.Errorf("Run: scanning accounts: %w", err)
		}

		for _, rec := range page.Items {
			res.Scanned++

			var acc domain.Account
			if err := json.Unmarshal(rec.Data, &acc); err != nil {
				res.Failed++
				log.Error().Err(err).Str("user_id", rec.Key.UserID).Str("account_id", rec.Key.SortKey).Msg("Failed to decode account")
				continue
			}

			if sums == nil || sumsUser != rec.Key.UserID {
				sums, err = r.transactionSums(ctx, rec.Key.UserID)
				if err != nil {
					sums = nil
					res.Failed++
					log.Error().Err(err).Str("user_id", rec.Key.UserID).Msg("Failed to load transactions")
					continue
				}
				sumsUser = rec.Key.UserID
			}

			expected := acc.OpeningBalance.Add(sums[acc.AccountID])
			if expected.Equal(acc.CurrentBalance) {
				continue
			}

			res.Drifted++
			drift := Drift{
				UserID:     rec.Key.UserID,
				AccountID:  acc.AccountID,
				Currency:   acc.Currency,
				Stored:     acc.CurrentBalance,
				Expected:   expected,
				Difference: acc.CurrentBalance.Sub(expected),
			}
			if len(res.Drifts) < MaxReportedDrifts {
				res.Drifts = append(res.Drifts, drift)
			}
			log.Warn().
				Str("user_id", drift.UserID).
				Str("account_id", drift.AccountID).
				Str("stored", drift.Stored.String()).
				Str("expected", drift.Expected.String()).
				Msg("Account balance drift")
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	log.Info().
		Int("scanned", res.Scanned).
		Int("drifted", res.Drifted).
		Int("failed", res.Failed).
		Msg("Reconcile run finished")
	return res, nil
}

// transactionSums returns the net signed amount per account for one user.
func (r *Reconciler) transactionSums(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	items, err := store.QueryAll(ctx, r.store, store.Transactions, store.Query{
		UserID: userID,
		Limit:  store.DefaultPageSize,
	})
	if err != nil {
		return nil, err
	}
	txns, err := store.Decode[domain.Transaction](items)
	if err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal)
	for _, t := range txns {
		sums[t.AccountID] = sums[t.AccountID].Add(money.TypeToDelta(string(t.Type), t.Amount))
	}
	return sums, nil
}
