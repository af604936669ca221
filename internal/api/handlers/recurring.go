package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/recurring"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type ruleRequest struct {
	Frequency  string           `json:"frequency"`
	NextRun    *string          `json:"nextRun"`
	AccountID  string           `json:"accountId"`
	CategoryID string           `json:"categoryId"`
	Type       string           `json:"type"`
	Amount     decimal.Decimal  `json:"amount"`
	Currency   string           `json:"currency"`
	Note       *string          `json:"note"`
	Tags       []string         `json:"tags"`
	BaseFX     *decimal.Decimal `json:"baseFx"`
}

// RecurringHandler handles recurring rule endpoints.
type RecurringHandler struct {
	svc *recurring.Service
}

// NewRecurringHandler creates a new recurring rules handler.
func NewRecurringHandler(svc *recurring.Service) *RecurringHandler {
	return &RecurringHandler{svc: svc}
}

// CreateRule handles POST /api/recurring
func (h *RecurringHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	nextRun, err := optionalTimestamp("nextRun", req.NextRun)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	rule, err := h.svc.CreateRule(r.Context(), uid, recurring.CreateRuleInput{
		Frequency:  req.Frequency,
		NextRun:    nextRun,
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
		Type:       req.Type,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Note:       req.Note,
		Tags:       req.Tags,
		BaseFX:     req.BaseFX,
	})
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, rule)
}

// ListRules handles GET /api/recurring
func (h *RecurringHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	rules, err := h.svc.ListRules(r.Context(), uid)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	if rules == nil {
		rules = []*domain.RecurringRule{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": rules,
		"count": len(rules),
	})
}

// GetRule handles GET /api/recurring/{ruleId}
func (h *RecurringHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	rule, err := h.svc.GetRule(r.Context(), uid, mux.Vars(r)["ruleId"])
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/recurring/{ruleId}
func (h *RecurringHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteRule(r.Context(), uid, mux.Vars(r)["ruleId"]); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
