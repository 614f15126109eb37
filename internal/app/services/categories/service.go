// Package categories manages the book category records.
package categories

import (
	"context"
	"strings"

	"github.com/openshelf/library-service/internal/app/domain/category"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/internal/errors"
	"github.com/openshelf/library-service/internal/logging"
)

// Service manages categories.
type Service struct {
	store storage.CategoryStore
	log   *logging.Logger
}

// New constructs a category service.
func New(store storage.CategoryStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("categories")
	}
	return &Service{store: store, log: log}
}

// Add creates a category with a unique name.
func (s *Service) Add(ctx context.Context, c category.Category) (category.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return category.Category{}, errors.BadRequest("name is required")
	}

	created, err := s.store.CreateCategory(ctx, c)
	if err != nil {
		return category.Category{}, err
	}
	s.log.WithField("category_id", created.ID).WithField("name", created.Name).Info("category added")
	return created, nil
}

// Update renames or re-describes a category.
func (s *Service) Update(ctx context.Context, c category.Category) (category.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return category.Category{}, errors.BadRequest("name is required")
	}
	return s.store.UpdateCategory(ctx, c)
}

// Delete removes a category. Categories still referenced by books cannot
// be removed.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteCategory(ctx, id)
}

// Get returns a single category.
func (s *Service) Get(ctx context.Context, id string) (category.Category, error) {
	return s.store.GetCategory(ctx, id)
}

// List returns all categories ordered by name.
func (s *Service) List(ctx context.Context) ([]category.Category, error) {
	return s.store.ListCategories(ctx)
}
