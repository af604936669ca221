// Package bigquery streams ledger data into the analytics dataset.
package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

const (
	transactionsTable     = "transactions"
	accountSnapshotsTable = "account_snapshots"
	dateFormat            = "2006-01-02"
)

// TransactionRow is one exported transaction in <dataset>.transactions.
type TransactionRow struct {
	UserID     string              `bigquery:"user_id"`     // REQUIRED
	TxnID      string              `bigquery:"txn_id"`      // REQUIRED
	AccountID  string              `bigquery:"account_id"`  // REQUIRED
	CategoryID bigquery.NullString `bigquery:"category_id"` // NULLABLE
	Type       string              `bigquery:"type"`        // REQUIRED

	Amount       *big.Rat `bigquery:"amount"`          // REQUIRED NUMERIC
	Currency     string   `bigquery:"currency"`        // REQUIRED
	FXRateToBase *big.Rat `bigquery:"fx_rate_to_base"` // REQUIRED NUMERIC
	AmountBase   *big.Rat `bigquery:"amount_base"`     // REQUIRED NUMERIC

	Note bigquery.NullString `bigquery:"note"` // NULLABLE
	Tags []string            `bigquery:"tags"` // REPEATED STRING

	OccurredAt   time.Time  `bigquery:"occurred_at"`   // REQUIRED
	OccurredDate civil.Date `bigquery:"occurred_date"` // REQUIRED, partition column
	UpdatedAt    time.Time  `bigquery:"updated_at"`    // REQUIRED
	ExportedAt   time.Time  `bigquery:"exported_at"`   // REQUIRED
}

// InsertID deduplicates streaming retries of the same transaction version.
func (r *TransactionRow) InsertID() string {
	return r.UserID + "/" + r.TxnID + "/" + r.UpdatedAt.UTC().Format(time.RFC3339Nano)
}

// AccountSnapshotRow is one account balance snapshot in <dataset>.account_snapshots.
type AccountSnapshotRow struct {
	UserID         string     `bigquery:"user_id"`         // REQUIRED
	AccountID      string     `bigquery:"account_id"`      // REQUIRED
	Name           string     `bigquery:"name"`            // REQUIRED
	Type           string     `bigquery:"type"`            // REQUIRED
	Currency       string     `bigquery:"currency"`        // REQUIRED
	OpeningBalance *big.Rat   `bigquery:"opening_balance"` // REQUIRED NUMERIC
	CurrentBalance *big.Rat   `bigquery:"current_balance"` // REQUIRED NUMERIC
	Archived       bool       `bigquery:"archived"`        // REQUIRED
	SnapshotDate   civil.Date `bigquery:"snapshot_date"`   // REQUIRED, partition column
	ExportedAt     time.Time  `bigquery:"exported_at"`     // REQUIRED
}

// InsertID makes a rerun on the same day idempotent per account.
func (r *AccountSnapshotRow) InsertID() string {
	return r.UserID + "/" + r.AccountID + "/" + r.SnapshotDate.String()
}

// DailyTotalRow is one line of the per-day spending report.
type DailyTotalRow struct {
	Day       civil.Date `bigquery:"day"`
	Type      string     `bigquery:"type"`
	TotalBase *big.Rat   `bigquery:"total_base"`
	TxnCount  int64      `bigquery:"txn_count"`
}
