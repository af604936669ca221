package ledger

import (
	"context"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// CreateCategoryInput describes a new category. Empty color and icon get defaults.
type CreateCategoryInput struct {
	Name  string
	Type  string
	Color string
	Icon  string
}

// CategoryPatch lists the category fields an update may change.
type CategoryPatch struct {
	Name  *string
	Type  *string
	Color *string
	Icon  *string
}

func parseCategoryType(s string) (domain.TransactionType, error) {
	t, ok := domain.ParseTransactionType(s)
	if !ok {
		return "", apperr.Validation(`Category type must be "expense" or "income"`)
	}
	return t, nil
}

// CreateCategory stores a new category.
func (s *Service) CreateCategory(ctx context.Context, userID string, in CreateCategoryInput) (*domain.Category, error) {
	name := strings.TrimSpace(in.Name)
	if len(name) < 2 {
		return nil, apperr.Validation("Category name is required")
	}
	catType, err := parseCategoryType(in.Type)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	category := &domain.Category{
		UserID:     userID,
		CategoryID: s.newID(),
		Name:       name,
		Type:       catType,
		Color:      in.Color,
		Icon:       in.Icon,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if category.Color == "" {
		category.Color = domain.DefaultCategoryColor
	}
	if category.Icon == "" {
		category.Icon = domain.DefaultCategoryIcon
	}

	if err := s.store.Write(ctx, store.Put(CategoryKey(userID, category.CategoryID), category, store.MustNotExist)); err != nil {
		return nil, err
	}
	return category, nil
}

// GetCategory returns one category.
func (s *Service) GetCategory(ctx context.Context, userID, categoryID string) (*domain.Category, error) {
	return s.fetchCategory(ctx, userID, categoryID)
}

// ListCategories returns every category of the user.
func (s *Service) ListCategories(ctx context.Context, userID string) ([]*domain.Category, error) {
	recs, err := store.QueryAll(ctx, s.store, store.Categories, store.Query{UserID: userID})
	if err != nil {
		return nil, err
	}
	return store.Decode[domain.Category](recs)
}

// UpdateCategory applies patch to a category.
func (s *Service) UpdateCategory(ctx context.Context, userID, categoryID string, patch CategoryPatch) (*domain.Category, error) {
	if patch.Name == nil && patch.Type == nil && patch.Color == nil && patch.Icon == nil {
		return nil, apperr.Validation("No updatable fields provided")
	}

	var name string
	if patch.Name != nil {
		name = strings.TrimSpace(*patch.Name)
		if len(name) < 2 {
			return nil, apperr.Validation("Category name cannot be empty")
		}
	}
	var catType domain.TransactionType
	if patch.Type != nil {
		var err error
		if catType, err = parseCategoryType(*patch.Type); err != nil {
			return nil, err
		}
	}

	var updated *domain.Category
	now := s.timestamp()
	op := store.UpdateAs(CategoryKey(userID, categoryID), store.MustExist, func(c *domain.Category) error {
		if name != "" {
			c.Name = name
		}
		if catType != "" {
			c.Type = catType
		}
		if patch.Color != nil {
			c.Color = *patch.Color
		}
		if patch.Icon != nil {
			c.Icon = *patch.Icon
		}
		c.UpdatedAt = now
		updated = c
		return nil
	})
	if err := s.store.Write(ctx, op); err != nil {
		if apperr.IsConflict(err) {
			return nil, apperr.NotFound("Category not found")
		}
		return nil, err
	}
	return updated, nil
}

// DeleteCategory removes a category that no transaction references.
func (s *Service) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	used, err := s.referencedBy(ctx, userID, func(t *domain.Transaction) bool { return t.CategoryID == categoryID })
	if err != nil {
		return err
	}
	if used {
		return apperr.Conflict("Category cannot be deleted while transactions exist")
	}

	if err := s.store.Write(ctx, store.Delete(CategoryKey(userID, categoryID), store.MustExist)); err != nil {
		if apperr.IsConflict(err) {
			return apperr.NotFound("Category not found")
		}
		return err
	}
	return nil
}

func (s *Service) fetchCategory(ctx context.Context, userID, categoryID string) (*domain.Category, error) {
	category, _, err := store.GetAs[domain.Category](ctx, s.store, CategoryKey(userID, categoryID))
	if apperr.IsNotFound(err) {
		return nil, apperr.NotFound("Category not found")
	}
	return category, err
}
