// Package export streams ledger transactions and account balances to the analytics
// warehouse.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	bq "github.com/dvloznov/finance-ledger/internal/infra/bigquery"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultBatchSize is the number of rows sent per streaming insert.
const DefaultBatchSize = 500

// numericPlaces is the scale of a BigQuery NUMERIC column.
const numericPlaces = 9

// Sink receives exported rows.
type Sink interface {
	InsertTransactions(ctx context.Context, rows []*bq.TransactionRow) error
	InsertAccountSnapshots(ctx context.Context, rows []*bq.AccountSnapshotRow) error
}

var _ Sink = (*bq.Writer)(nil)

// Phases of an export run, as recorded in a resume cursor.
const (
	phaseTransactions = "transactions"
	phaseAccounts     = "accounts"
)

// Result summarises one export run.
type Result struct {
	Transactions int `json:"transactions"`
	Snapshots    int `json:"snapshots"`
	Skipped      int `json:"skipped"`
	Batches      int `json:"batches"`

	// Cursor is where an interrupted run stopped. It is empty after a full export.
	Cursor string `json:"cursor,omitempty"`
}

// Exporter copies the store into a Sink.
type Exporter struct {
	store     store.Reader
	sink      Sink
	batchSize int
	now       func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithBatchSize sets how many rows are sent per insert.
func WithBatchSize(n int) Option {
	return func(e *Exporter) { e.batchSize = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// New creates an Exporter.
func New(st store.Reader, sink Sink, opts ...Option) *Exporter {
	e := &Exporter{store: st, sink: sink, batchSize: DefaultBatchSize, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	return e
}

// Run exports every transaction and then a snapshot of every account. The cursor
// names the phase and the store position, so an interrupted run resumes after the
// last batch that was accepted by the sink.
func (e *Exporter) Run(ctx context.Context, cursor string) (*Result, error) {
	log := logger.FromContext(ctx)
	now := e.now().UTC()
	res := &Result{}

	phase, pos, err := parseCursor(cursor)
	if err != nil {
		return res, err
	}

	if phase == phaseTransactions {
		if err := e.exportTransactions(ctx, pos, now, res); err != nil {
			return res, err
		}
		pos = ""
	}
	if err := e.exportAccounts(ctx, pos, now, res); err != nil {
		return res, err
	}

	log.Info().
		Int("transactions", res.Transactions).
		Int("snapshots", res.Snapshots).
		Int("skipped", res.Skipped).
		Int("batches", res.Batches).
		Msg("Export run finished")
	return res, nil
}

func (e *Exporter) exportTransactions(ctx context.Context, cursor string, now time.Time, res *Result) error {
	log := logger.FromContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			res.Cursor = formatCursor(phaseTransactions, cursor)
			return err
		}

		page, err := e.store.Scan(ctx, store.Transactions, cursor, e.batchSize)
		if err != nil {
			res.Cursor = formatCursor(phaseTransactions, cursor)
			return fmt.Errorf("Run: scanning transactions: %w", err)
		}

		rows := make([]*bq.TransactionRow, 0, len(page.Items))
		for _, rec := range page.Items {
			var t domain.Transaction
			if err := json.Unmarshal(rec.Data, &t); err != nil {
				res.Skipped++
				log.Warn().Err(err).Str("user_id", rec.Key.UserID).Str("sk", rec.Key.SortKey).Msg("Skipping undecodable transaction")
				continue
			}
			rows = append(rows, TransactionRow(&t, now))
		}

		if len(rows) > 0 {
			if err := e.sink.InsertTransactions(ctx, rows); err != nil {
				res.Cursor = formatCursor(phaseTransactions, cursor)
				return apperr.Dependency("Analytics export failed", err)
			}
			res.Batches++
			res.Transactions += len(rows)
		}

		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

func (e *Exporter) exportAccounts(ctx context.Context, cursor string, now time.Time, res *Result) error {
	log := logger.FromContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			res.Cursor = formatCursor(phaseAccounts, cursor)
			return err
		}

		page, err := e.store.Scan(ctx, store.Accounts, cursor, e.batchSize)
		if err != nil {
			res.Cursor = formatCursor(phaseAccounts, cursor)
			return fmt.Errorf("Run: scanning accounts: %w", err)
		}

		rows := make([]*bq.AccountSnapshotRow, 0, len(page.Items))
		for _, rec := range page.Items {
			var a domain.Account
			if err := json.Unmarshal(rec.Data, &a); err != nil {
				res.Skipped++
				log.Warn().Err(err).Str("user_id", rec.Key.UserID).Str("account_id", rec.Key.SortKey).Msg("Skipping undecodable account")
				continue
			}
			rows = append(rows, AccountSnapshotRow(&a, now))
		}

		if len(rows) > 0 {
			if err := e.sink.InsertAccountSnapshots(ctx, rows); err != nil {
				res.Cursor = formatCursor(phaseAccounts, cursor)
				return apperr.Dependency("Analytics export failed", err)
			}
			res.Batches++
			res.Snapshots += len(rows)
		}

		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

// TransactionRow maps a stored transaction to its warehouse row.
func TransactionRow(t *domain.Transaction, exportedAt time.Time) *bq.TransactionRow {
	row := &bq.TransactionRow{
		UserID:       t.UserID,
		TxnID:        t.TxnID,
		AccountID:    t.AccountID,
		Type:         string(t.Type),
		Amount:       numeric(t.Amount),
		Currency:     t.Currency,
		FXRateToBase: numeric(t.FXRateToBase),
		AmountBase:   numeric(t.AmountBase),
		Tags:         t.Tags,
		OccurredAt:   t.OccurredAt.UTC(),
		OccurredDate: civil.DateOf(t.OccurredAt.UTC()),
		UpdatedAt:    t.UpdatedAt.UTC(),
		ExportedAt:   exportedAt,
	}
	if t.CategoryID != "" {
		row.CategoryID = bigquery.NullString{StringVal: t.CategoryID, Valid: true}
	}
	if t.Note != nil {
		row.Note = bigquery.NullString{StringVal: *t.Note, Valid: true}
	}
	return row
}

// AccountSnapshotRow maps an account to a balance snapshot taken at exportedAt.
func AccountSnapshotRow(a *domain.Account, exportedAt time.Time) *bq.AccountSnapshotRow {
	return &bq.AccountSnapshotRow{
		UserID:         a.UserID,
		AccountID:      a.AccountID,
		Name:           a.Name,
		Type:           string(a.Type),
		Currency:       a.Currency,
		OpeningBalance: numeric(a.OpeningBalance),
		CurrentBalance: numeric(a.CurrentBalance),
		Archived:       a.Archived,
		SnapshotDate:   civil.DateOf(exportedAt),
		ExportedAt:     exportedAt,
	}
}

func numeric(v decimal.Decimal) *big.Rat {
	return v.Round(numericPlaces).Rat()
}

func formatCursor(phase, pos string) string {
	return phase + ":" + pos
}

func parseCursor(cursor string) (phase, pos string, err error) {
	if cursor == "" {
		return phaseTransactions, "", nil
	}
	phase, pos, ok := strings.Cut(cursor, ":")
	if !ok || (phase != phaseTransactions && phase != phaseAccounts) {
		return "", "", apperr.Validation("Invalid export cursor")
	}
	return phase, pos, nil
}
