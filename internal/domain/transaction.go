package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is shared by transactions and categories.
type TransactionType string

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
)

// ParseTransactionType lowercases s and checks it against the known types.
func ParseTransactionType(s string) (TransactionType, bool) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeExpense, TypeIncome:
		return t, true
	}
	return "", false
}

// Transaction is one posted ledger entry, stored under (UserID, SK).
type Transaction struct {
	UserID string `json:"userId"`
	SK     string `json:"sk"`
	TxnID  string `json:"txnId"`

	AccountID  string          `json:"accountId"`
	CategoryID string          `json:"categoryId"`
	Type       TransactionType `json:"type"`

	// Amount is positive and denominated in the account currency.
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	FXRateToBase decimal.Decimal `json:"fx_rate_to_base"`
	AmountBase   decimal.Decimal `json:"amount_base"`

	Note *string  `json:"note"`
	Tags []string `json:"tags"`

	OccurredAt time.Time `json:"occurredAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const (
	sortKeyDatePrefix = "DT#"
	sortKeyTxnMarker  = "#TX#"

	// timestampLayout is fixed width so lexical order of sort keys is time order.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// FormatTimestamp renders t the way it appears inside sort keys.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// NormalizeTime drops sub-millisecond precision and the location, matching what
// FormatTimestamp can represent.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// TransactionSortKey derives the sort key DT#<occurredAt>#TX#<txnId>.
func TransactionSortKey(occurredAt time.Time, txnID string) string {
	return sortKeyDatePrefix + FormatTimestamp(occurredAt) + sortKeyTxnMarker + txnID
}

// ParseTransactionSortKey splits a sort key back into its occurrence time and transaction id.
func ParseTransactionSortKey(sk string) (time.Time, string, error) {
	if !strings.HasPrefix(sk, sortKeyDatePrefix) {
		return time.Time{}, "", fmt.Errorf("sort key %q: missing %s prefix", sk, sortKeyDatePrefix)
	}
	rest := strings.TrimPrefix(sk, sortKeyDatePrefix)
	idx := strings.Index(rest, sortKeyTxnMarker)
	if idx < 0 {
		return time.Time{}, "", fmt.Errorf("sort key %q: missing %s marker", sk, sortKeyTxnMarker)
	}
	ts, err := time.Parse(timestampLayout, rest[:idx])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("sort key %q: %w", sk, err)
	}
	return ts, rest[idx+len(sortKeyTxnMarker):], nil
}

// TransactionRangeStart is the lowest sort key a transaction occurring at t can have.
func TransactionRangeStart(t time.Time) string {
	return sortKeyDatePrefix + FormatTimestamp(t)
}

// TransactionRangeEnd is above every sort key of a transaction occurring at t,
// so a range ending here includes transactions at exactly t.
func TransactionRangeEnd(t time.Time) string {
	return sortKeyDatePrefix + FormatTimestamp(t) + "#~"
}
