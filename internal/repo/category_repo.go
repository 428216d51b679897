// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Category
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a category is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateCategory inserts the given category. A missing id gets a random
// UUID and a missing CreatedAt is stamped UTC; the caller keeps ownership
// of name, color, and description.
func CreateCategory(ctx context.Context, db *gorm.DB, c *domain.Category) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(c).Error
}

// ListCategories returns all categories ordered by name.
func ListCategories(ctx context.Context, db *gorm.DB) ([]domain.Category, error) {
	var out []domain.Category
	err := db.WithContext(ctx).Order("name asc").Find(&out).Error
	return out, err
}

// GetCategory fetches a category by id, or ErrNotFound if missing.
func GetCategory(ctx context.Context, db *gorm.DB, id string) (*domain.Category, error) {
	var c domain.Category
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCategoryIDs returns the ids of every category, ordered by name. Used
// by emergency operations that fan out over "all categories" scope in a
// deterministic order.
func ListCategoryIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Category{}).
		Order("name asc").
		Pluck("id", &ids).Error
	return ids, err
}
