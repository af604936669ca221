package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type transactionRequest struct {
	AccountID    *string          `json:"accountId"`
	CategoryID   *string          `json:"categoryId"`
	Type         *string          `json:"type"`
	Amount       *decimal.Decimal `json:"amount"`
	Currency     *string          `json:"currency"`
	OccurredAt   *string          `json:"occurredAt"`
	FXRateToBase *decimal.Decimal `json:"fx_rate_to_base"`
	Note         optionalString   `json:"note"`
	Tags         *[]string        `json:"tags"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// TransactionsHandler handles transaction endpoints.
type TransactionsHandler struct {
	svc *ledger.Service
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(svc *ledger.Service) *TransactionsHandler {
	return &TransactionsHandler{svc: svc}
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req transactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	occurredAt, err := optionalTimestamp("occurredAt", req.OccurredAt)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	in := ledger.CreateTransactionInput{
		AccountID:    deref(req.AccountID),
		CategoryID:   deref(req.CategoryID),
		Type:         deref(req.Type),
		Currency:     deref(req.Currency),
		OccurredAt:   occurredAt,
		FXRateToBase: req.FXRateToBase,
		Note:         req.Note.Value,
	}
	if req.Amount != nil {
		in.Amount = *req.Amount
	}
	if req.Tags != nil {
		in.Tags = *req.Tags
	}

	txn, err := h.svc.CreateTransaction(r.Context(), uid, in)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("txn_id", txn.TxnID).
		Str("account_id", txn.AccountID).
		Msg("Transaction created")
	middleware.WriteJSON(w, http.StatusCreated, txn)
}

// ListTransactions handles GET /api/transactions?from&to&cursor&limit
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	in := ledger.ListTransactionsInput{Cursor: query.Get("cursor")}

	if s := query.Get("from"); s != "" {
		from, err := parseTimestamp("from", s)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		in.From = &from
	}
	if s := query.Get("to"); s != "" {
		to, err := parseTimestamp("to", s)
		if err != nil {
			middleware.WriteAppError(w, r, err)
			return
		}
		// A bare date includes the whole day.
		if isDateOnly(s) {
			to = to.Add(24*time.Hour - time.Millisecond)
		}
		in.To = &to
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	in.Limit = limit

	page, err := h.svc.ListTransactions(r.Context(), uid, in)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []*domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, page)
}

// GetTransaction handles GET /api/transactions/{txnId}
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	txn, err := h.svc.GetTransaction(r.Context(), uid, mux.Vars(r)["txnId"])
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, txn)
}

// AmendTransaction handles PUT /api/transactions/{txnId}
func (h *TransactionsHandler) AmendTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req transactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	occurredAt, err := optionalTimestamp("occurredAt", req.OccurredAt)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	patch := ledger.TransactionPatch{
		AccountID:    req.AccountID,
		CategoryID:   req.CategoryID,
		Type:         req.Type,
		Amount:       req.Amount,
		Currency:     req.Currency,
		OccurredAt:   occurredAt,
		FXRateToBase: req.FXRateToBase,
		Note:         req.Note.patch(),
		Tags:         req.Tags,
	}

	txn, err := h.svc.AmendTransaction(r.Context(), uid, mux.Vars(r)["txnId"], patch)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().Str("txn_id", txn.TxnID).Msg("Transaction amended")
	middleware.WriteJSON(w, http.StatusOK, txn)
}

// DeleteTransaction handles DELETE /api/transactions/{txnId}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	txnID := mux.Vars(r)["txnId"]
	if err := h.svc.DeleteTransaction(r.Context(), uid, txnID); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().Str("txn_id", txnID).Msg("Transaction deleted")
	w.WriteHeader(http.StatusNoContent)
}
