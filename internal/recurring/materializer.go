// Package recurring turns due recurring rules into posted transactions.
package recurring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultPageSize is the number of rules read per scan page.
const DefaultPageSize = 100

// Result summarises one materializer run.
type Result struct {
	Scanned      int `json:"scanned"`
	Due          int `json:"due"`
	Materialized int `json:"materialized"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`

	// Cursor is where an interrupted run stopped. It is empty after a full scan.
	Cursor string `json:"cursor,omitempty"`
}

// Service manages recurring rules and materializes the due ones.
type Service struct {
	store    store.Store
	now      func() time.Time
	newID    func() string
	pageSize int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides how rule and transaction ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithPageSize sets how many rules are read per scan page.
func WithPageSize(n int) Option {
	return func(s *Service) { s.pageSize = n }
}

// New creates a Service.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		now:      time.Now,
		newID:    uuid.NewString,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errMalformed = errors.New("malformed rule")

// Run scans every rule starting at cursor and materializes one occurrence of each
// due rule. A rule more than one period behind catches up one step per run.
// Per-rule failures are logged and counted; only scan failures and cancellation
// stop the run, in which case Result.Cursor tells where to resume.
func (s *Service) Run(ctx context.Context, cursor string) (*Result, error) {
	log := logger.FromContext(ctx)
	now := domain.NormalizeTime(s.now())
	res := &Result{}

	for {
		if err := ctx.Err(); err != nil {
			res.Cursor = cursor
			return res, err
		}

		page, err := s.store.Scan(ctx, store.RecurringRules, cursor, s.pageSize)
		if err != nil {
			res.Cursor = cursor
			return res, fmt.Errorf("Run: scanning rules: %w", err)
		}

		for _, rec := range page.Items {
			res.Scanned++
			rule, err := decodeRule(rec)
			if err != nil {
				res.Skipped++
				log.Warn().Err(err).Str("user_id", rec.Key.UserID).Str("rule_id", rec.Key.SortKey).Msg("Skipping recurring rule")
				continue
			}
			if rule.NextRun.After(now) {
				continue
			}
			res.Due++

			if err := s.materialize(ctx, rule, rec.Data, now); err != nil {
				res.Failed++
				log.Error().Err(err).Str("user_id", rule.UserID).Str("rule_id", rule.RuleID).Msg("Failed to materialize recurring transaction")
				continue
			}
			res.Materialized++
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	log.Info().
		Int("scanned", res.Scanned).
		Int("due", res.Due).
		Int("materialized", res.Materialized).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Recurring run finished")
	return res, nil
}

// materialize posts one occurrence of rule and advances its nextRun in a single unit.
// The rule write is guarded by the document read during the scan, so a concurrent
// run that already advanced the rule makes this one fail instead of firing twice.
func (s *Service) materialize(ctx context.Context, rule *domain.RecurringRule, raw json.RawMessage, now time.Time) error {
	tpl := rule.Template

	next, err := rule.Frequency.Advance(rule.NextRun)
	if err != nil {
		return err
	}
	rate := decimal.NewFromInt(1)
	if rule.BaseFX != nil && rule.BaseFX.IsPositive() {
		rate = *rule.BaseFX
	}
	amountBase, err := money.ToBase(tpl.Amount, rate)
	if err != nil {
		return err
	}

	txnID := s.newID()
	txn := &domain.Transaction{
		UserID:       rule.UserID,
		SK:           domain.TransactionSortKey(now, txnID),
		TxnID:        txnID,
		AccountID:    tpl.AccountID,
		CategoryID:   tpl.CategoryID,
		Type:         tpl.Type,
		Amount:       tpl.Amount,
		Currency:     tpl.Currency,
		FXRateToBase: rate,
		AmountBase:   amountBase,
		Note:         tpl.Note,
		Tags:         domain.CleanTags(tpl.Tags),
		OccurredAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	advanced := *rule
	advanced.NextRun = next
	advanced.UpdatedAt = now

	return s.store.Transact(ctx,
		store.Put(ledger.TransactionKey(rule.UserID, txn.SK), txn, store.MustNotExist),
		ledger.AdjustBalance(rule.UserID, tpl.AccountID, money.TypeToDelta(string(tpl.Type), tpl.Amount), tpl.Currency, now),
		store.Put(ledger.RuleKey(rule.UserID, rule.RuleID), &advanced, store.Unchanged(raw)),
	)
}

// decodeRule parses a stored rule and rejects templates that cannot be materialized.
func decodeRule(rec store.Record) (*domain.RecurringRule, error) {
	var rule domain.RecurringRule
	if err := json.Unmarshal(rec.Data, &rule); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if rule.UserID == "" || rule.RuleID == "" {
		return nil, fmt.Errorf("%w: missing key fields", errMalformed)
	}
	if rule.NextRun.IsZero() {
		return nil, fmt.Errorf("%w: missing nextRun", errMalformed)
	}
	freq, ok := domain.ParseFrequency(string(rule.Frequency))
	if !ok {
		return nil, fmt.Errorf("%w: unknown frequency %q", errMalformed, rule.Frequency)
	}
	rule.Frequency = freq
	if err := validateTemplate(rule.Template); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return &rule, nil
}

func validateTemplate(tpl *domain.RecurringTemplate) error {
	if tpl == nil {
		return errors.New("missing template")
	}
	if tpl.AccountID == "" || tpl.CategoryID == "" {
		return errors.New("template needs accountId and categoryId")
	}
	if !tpl.Amount.IsPositive() {
		return errors.New("template amount must be positive")
	}
	txType, ok := domain.ParseTransactionType(string(tpl.Type))
	if !ok {
		return fmt.Errorf("invalid template type %q", tpl.Type)
	}
	tpl.Type = txType
	currency, err := money.NormalizeCurrency(tpl.Currency)
	if err != nil {
		return fmt.Errorf("invalid template currency %q", tpl.Currency)
	}
	tpl.Currency = currency
	return nil
}
