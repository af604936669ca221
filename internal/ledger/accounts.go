package ledger

import (
	"context"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// CreateAccountInput describes a new account.
type CreateAccountInput struct {
	Name           string
	Type           string
	Currency       string
	OpeningBalance *decimal.Decimal
	Archived       bool
}

// AccountPatch lists the account fields an update may change.
type AccountPatch struct {
	Name           *string
	Type           *string
	Currency       *string
	OpeningBalance *decimal.Decimal
	Archived       *bool
}

func (p AccountPatch) empty() bool {
	return p.Name == nil && p.Type == nil && p.Currency == nil && p.OpeningBalance == nil && p.Archived == nil
}

func validAccountName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if len(n) < 2 {
		return "", apperr.Validation("Account name is required")
	}
	return n, nil
}

func parseAccountType(s string) (domain.AccountType, error) {
	t, ok := domain.ParseAccountType(s)
	if !ok {
		return "", apperr.Validation("Account type must be one of: cash, bank, card, crypto")
	}
	return t, nil
}

// CreateAccount stores a new account whose current balance starts at its opening balance.
func (s *Service) CreateAccount(ctx context.Context, userID string, in CreateAccountInput) (*domain.Account, error) {
	name, err := validAccountName(in.Name)
	if err != nil {
		return nil, err
	}
	accType, err := parseAccountType(in.Type)
	if err != nil {
		return nil, err
	}
	currency, err := money.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	opening := decimal.Zero
	if in.OpeningBalance != nil {
		opening = *in.OpeningBalance
	}

	now := s.timestamp()
	account := &domain.Account{
		UserID:         userID,
		AccountID:      s.newID(),
		Name:           name,
		Type:           accType,
		Currency:       currency,
		OpeningBalance: opening,
		CurrentBalance: opening,
		Archived:       in.Archived,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Write(ctx, store.Put(AccountKey(userID, account.AccountID), account, store.MustNotExist)); err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	return s.fetchAccount(ctx, userID, accountID)
}

// ListAccounts returns every account of the user.
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]*domain.Account, error) {
	recs, err := store.QueryAll(ctx, s.store, store.Accounts, store.Query{UserID: userID})
	if err != nil {
		return nil, err
	}
	return store.Decode[domain.Account](recs)
}

// UpdateAccount applies patch to an account. A new opening balance shifts the
// current balance by the same amount so the balance invariant still holds.
func (s *Service) UpdateAccount(ctx context.Context, userID, accountID string, patch AccountPatch) (*domain.Account, error) {
	if patch.empty() {
		return nil, apperr.Validation("No updatable fields provided")
	}

	var (
		name     string
		accType  domain.AccountType
		currency string
		err      error
	)
	if patch.Name != nil {
		if name, err = validAccountName(*patch.Name); err != nil {
			return nil, apperr.Validation("Account name cannot be empty")
		}
	}
	if patch.Type != nil {
		if accType, err = parseAccountType(*patch.Type); err != nil {
			return nil, err
		}
	}
	if patch.Currency != nil {
		if currency, err = money.NormalizeCurrency(*patch.Currency); err != nil {
			return nil, err
		}
	}

	current, raw, err := store.GetAs[domain.Account](ctx, s.store, AccountKey(userID, accountID))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound("Account not found")
		}
		return nil, err
	}

	if currency != "" && currency != current.Currency {
		used, err := s.referencedBy(ctx, userID, func(t *domain.Transaction) bool { return t.AccountID == accountID })
		if err != nil {
			return nil, err
		}
		if used {
			return nil, apperr.Conflict("Account currency cannot change while transactions exist")
		}
	}

	now := s.timestamp()
	next := *current
	if name != "" {
		next.Name = name
	}
	if accType != "" {
		next.Type = accType
	}
	if currency != "" {
		next.Currency = currency
	}
	if patch.Archived != nil {
		next.Archived = *patch.Archived
	}
	if patch.OpeningBalance != nil {
		next.CurrentBalance = next.CurrentBalance.Add(patch.OpeningBalance.Sub(next.OpeningBalance))
		next.OpeningBalance = *patch.OpeningBalance
	}
	next.UpdatedAt = now

	// Any balance movement since the read makes this a conflict instead of a lost update.
	if err := s.store.Write(ctx, store.Put(AccountKey(userID, accountID), &next, store.Unchanged(raw))); err != nil {
		return nil, err
	}
	return &next, nil
}

// DeleteAccount removes an account that no transaction references.
func (s *Service) DeleteAccount(ctx context.Context, userID, accountID string) error {
	_, raw, err := store.GetAs[domain.Account](ctx, s.store, AccountKey(userID, accountID))
	if err != nil {
		if apperr.IsNotFound(err) {
			return apperr.NotFound("Account not found")
		}
		return err
	}

	used, err := s.referencedBy(ctx, userID, func(t *domain.Transaction) bool { return t.AccountID == accountID })
	if err != nil {
		return err
	}
	if used {
		return apperr.Conflict("Account cannot be deleted while transactions exist")
	}

	// A transaction posted after the check changes the balance and fails this condition.
	return s.store.Write(ctx, store.Delete(AccountKey(userID, accountID), store.Unchanged(raw)))
}

func (s *Service) fetchAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	account, _, err := store.GetAs[domain.Account](ctx, s.store, AccountKey(userID, accountID))
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("Account not found")
	}
	return account, err
}
