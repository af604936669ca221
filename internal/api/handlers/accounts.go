package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type accountRequest struct {
	Name           *string          `json:"name"`
	Type           *string          `json:"type"`
	Currency       *string          `json:"currency"`
	OpeningBalance *decimal.Decimal `json:"openingBalance"`
	Archived       *bool            `json:"archived"`
}

// AccountsHandler handles account endpoints.
type AccountsHandler struct {
	svc *ledger.Service
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(svc *ledger.Service) *AccountsHandler {
	return &AccountsHandler{svc: svc}
}

// CreateAccount handles POST /api/accounts
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req accountRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	in := ledger.CreateAccountInput{
		Name:           deref(req.Name),
		Type:           deref(req.Type),
		Currency:       deref(req.Currency),
		OpeningBalance: req.OpeningBalance,
	}
	if req.Archived != nil {
		in.Archived = *req.Archived
	}

	acc, err := h.svc.CreateAccount(r.Context(), uid, in)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, acc)
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	accounts, err := h.svc.ListAccounts(r.Context(), uid)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []*domain.Account{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": accounts,
		"count": len(accounts),
	})
}

// GetAccount handles GET /api/accounts/{accountId}
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	acc, err := h.svc.GetAccount(r.Context(), uid, mux.Vars(r)["accountId"])
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, acc)
}

// UpdateAccount handles PUT /api/accounts/{accountId}
func (h *AccountsHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req accountRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	patch := ledger.AccountPatch{
		Name:           req.Name,
		Type:           req.Type,
		Currency:       req.Currency,
		OpeningBalance: req.OpeningBalance,
		Archived:       req.Archived,
	}

	acc, err := h.svc.UpdateAccount(r.Context(), uid, mux.Vars(r)["accountId"], patch)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, acc)
}

// DeleteAccount handles DELETE /api/accounts/{accountId}
func (h *AccountsHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteAccount(r.Context(), uid, mux.Vars(r)["accountId"]); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
