package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the kind of store of value an account represents.
type AccountType string

const (
	AccountCash   AccountType = "cash"
	AccountBank   AccountType = "bank"
	AccountCard   AccountType = "card"
	AccountCrypto AccountType = "crypto"
)

// AccountTypes lists the accepted account types in display order.
var AccountTypes = []AccountType{AccountCash, AccountBank, AccountCard, AccountCrypto}

// ParseAccountType lowercases s and checks it against AccountTypes.
func ParseAccountType(s string) (AccountType, bool) {
	t := AccountType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AccountTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Account is stored under (UserID, AccountID).
// CurrentBalance is a running aggregate: OpeningBalance plus the signed amounts of
// every transaction posted to the account.
type Account struct {
	UserID         string          `json:"userId"`
	AccountID      string          `json:"accountId"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	Archived       bool            `json:"archived"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Category is stored under (UserID, CategoryID).
type Category struct {
	UserID     string          `json:"userId"`
	CategoryID string          `json:"categoryId"`
	Name       string          `json:"name"`
	Type       TransactionType `json:"type"`
	Color      string          `json:"color"`
	Icon       string          `json:"icon"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

const (
	DefaultCategoryColor = "#36c"
	DefaultCategoryIcon  = "📦"
)

// Budget is stored under (UserID, PeriodCat).
type Budget struct {
	UserID         string          `json:"userId"`
	PeriodCat      string          `json:"periodCat"`
	Month          string          `json:"month"`
	CategoryID     *string         `json:"categoryId"`
	Currency       string          `json:"currency"`
	Limit          decimal.Decimal `json:"limit"`
	AlertThreshold decimal.Decimal `json:"alertThreshold"`
	Rollover       bool            `json:"rollover"`
	PeriodStart    time.Time       `json:"periodStart"`
	PeriodEnd      time.Time       `json:"periodEnd"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

var (
	DefaultAlertThreshold = decimal.RequireFromString("0.9")
	MaxAlertThreshold     = decimal.RequireFromString("1.5")
)

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ValidMonth reports whether s is formatted YYYY-MM.
func ValidMonth(s string) bool {
	return monthPattern.MatchString(s)
}

// BudgetPeriodKey builds "<YYYY-MM>#<categoryId|all>".
func BudgetPeriodKey(month string, categoryID *string) string {
	if categoryID == nil || *categoryID == "" {
		return month + "#all"
	}
	return month + "#" + *categoryID
}

// BudgetPeriod returns the first and last instant (UTC, millisecond precision) of month.
func BudgetPeriod(month string) (time.Time, time.Time, error) {
	if !ValidMonth(month) {
		return time.Time{}, time.Time{}, fmt.Errorf("month %q must be formatted as YYYY-MM", month)
	}
	year, _ := strconv.Atoi(month[:4])
	m, _ := strconv.Atoi(month[5:])
	start := time.Date(year, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return start, end, nil
}

// Frequency is how often a recurring rule fires.
type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// ParseFrequency checks s against the known frequencies.
func ParseFrequency(s string) (Frequency, bool) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case Daily, Weekly, Monthly, Quarterly, Yearly:
		return f, true
	}
	return "", false
}

// Advance adds one frequency unit to t using calendar arithmetic.
// Month overflow normalizes the way time.AddDate does (Jan 31 + 1 month = Mar 3).
func (f Frequency) Advance(t time.Time) (time.Time, error) {
	switch f {
	case Daily:
		return t.AddDate(0, 0, 1), nil
	case Weekly:
		return t.AddDate(0, 0, 7), nil
	case Monthly:
		return t.AddDate(0, 1, 0), nil
	case Quarterly:
		return t.AddDate(0, 3, 0), nil
	case Yearly:
		return t.AddDate(1, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("unknown frequency %q", f)
}

// RecurringTemplate is the transaction a rule materializes each time it fires.
type RecurringTemplate struct {
	AccountID  string          `json:"accountId"`
	CategoryID string          `json:"categoryId"`
	Type       TransactionType `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Note       *string         `json:"note"`
	Tags       []string        `json:"tags"`
}

// RecurringRule is stored under (UserID, RuleID). NextRun is advanced only by the
// materializer.
type RecurringRule struct {
	UserID    string             `json:"userId"`
	RuleID    string             `json:"ruleId"`
	Frequency Frequency          `json:"frequency"`
	NextRun   time.Time          `json:"nextRun"`
	Template  *RecurringTemplate `json:"template"`
	BaseFX    *decimal.Decimal   `json:"baseFx,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// CleanTags trims tags and drops empty ones. The result is never nil.
func CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}
