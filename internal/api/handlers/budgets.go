package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type budgetRequest struct {
	Month          string           `json:"month"`
	CategoryID     *string          `json:"categoryId"`
	Currency       *string          `json:"currency"`
	Limit          *decimal.Decimal `json:"limit"`
	AlertThreshold *decimal.Decimal `json:"alertThreshold"`
	Rollover       *bool            `json:"rollover"`
}

// BudgetsHandler handles budget endpoints. A budget is addressed by month and
// an optional category; without one it is the month-wide budget.
type BudgetsHandler struct {
	svc *ledger.Service
}

// NewBudgetsHandler creates a new budgets handler.
func NewBudgetsHandler(svc *ledger.Service) *BudgetsHandler {
	return &BudgetsHandler{svc: svc}
}

// CreateBudget handles POST /api/budgets
func (h *BudgetsHandler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req budgetRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	in := ledger.CreateBudgetInput{
		Month:          req.Month,
		CategoryID:     req.CategoryID,
		Currency:       deref(req.Currency),
		AlertThreshold: req.AlertThreshold,
	}
	if req.Limit != nil {
		in.Limit = *req.Limit
	}
	if req.Rollover != nil {
		in.Rollover = *req.Rollover
	}

	budget, err := h.svc.CreateBudget(r.Context(), uid, in)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, budget)
}

// ListBudgets handles GET /api/budgets?month
func (h *BudgetsHandler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	h.list(w, r, uid, r.URL.Query().Get("month"))
}

func (h *BudgetsHandler) list(w http.ResponseWriter, r *http.Request, uid, month string) {
	budgets, err := h.svc.ListBudgets(r.Context(), uid, month)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	if budgets == nil {
		budgets = []*domain.Budget{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": budgets,
		"count": len(budgets),
	})
}

// GetBudget handles GET /api/budgets/{month} and GET /api/budgets/{month}/{categoryId}.
// The bare month form lists every budget of that month.
func (h *BudgetsHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	categoryID, scoped := vars["categoryId"]
	if !scoped {
		h.list(w, r, uid, vars["month"])
		return
	}

	budget, err := h.svc.GetBudget(r.Context(), uid, vars["month"], categoryID)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, budget)
}

// UpdateBudget handles PUT /api/budgets/{month}[/{categoryId}]
func (h *BudgetsHandler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req budgetRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	budget, err := h.svc.UpdateBudget(r.Context(), uid, vars["month"], vars["categoryId"], ledger.BudgetPatch{
		Currency:       req.Currency,
		Limit:          req.Limit,
		AlertThreshold: req.AlertThreshold,
		Rollover:       req.Rollover,
	})
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, budget)
}

// DeleteBudget handles DELETE /api/budgets/{month}[/{categoryId}]
func (h *BudgetsHandler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	if err := h.svc.DeleteBudget(r.Context(), uid, vars["month"], vars["categoryId"]); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
