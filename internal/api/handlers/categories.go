package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/gorilla/mux"
)

type categoryRequest struct {
	Name  *string `json:"name"`
	Type  *string `json:"type"`
	Color *string `json:"color"`
	Icon  *string `json:"icon"`
}

// CategoriesHandler handles category endpoints.
type CategoriesHandler struct {
	svc *ledger.Service
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(svc *ledger.Service) *CategoriesHandler {
	return &CategoriesHandler{svc: svc}
}

// CreateCategory handles POST /api/categories
func (h *CategoriesHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req categoryRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	cat, err := h.svc.CreateCategory(r.Context(), uid, ledger.CreateCategoryInput{
		Name:  deref(req.Name),
		Type:  deref(req.Type),
		Color: deref(req.Color),
		Icon:  deref(req.Icon),
	})
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, cat)
}

// ListCategories handles GET /api/categories
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	categories, err := h.svc.ListCategories(r.Context(), uid)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	if categories == nil {
		categories = []*domain.Category{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": categories,
		"count": len(categories),
	})
}

// GetCategory handles GET /api/categories/{categoryId}
func (h *CategoriesHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	cat, err := h.svc.GetCategory(r.Context(), uid, mux.Vars(r)["categoryId"])
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cat)
}

// UpdateCategory handles PUT /api/categories/{categoryId}
func (h *CategoriesHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req categoryRequest
	if err := decodeBody(w, r, &req); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	cat, err := h.svc.UpdateCategory(r.Context(), uid, mux.Vars(r)["categoryId"], ledger.CategoryPatch{
		Name:  req.Name,
		Type:  req.Type,
		Color: req.Color,
		Icon:  req.Icon,
	})
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cat)
}

// DeleteCategory handles DELETE /api/categories/{categoryId}
func (h *CategoriesHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteCategory(r.Context(), uid, mux.Vars(r)["categoryId"]); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
