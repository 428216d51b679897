// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Token
// model: creation, lookup, queue-ordering queries, and the status updates
// used by the lifecycle engine.
//
// The ordering queries here (MaxActivePosition, CurrentCalled, NextWaiting,
// MaxTokenSuffix) read shared per-category state; callers are responsible
// for serializing read-then-write sequences around them. The services layer
// holds a category-scoped lock and wraps each sequence in a transaction.
package repo

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

// activeStatuses are the non-terminal statuses that keep a token inside the
// live queue.
var activeStatuses = []string{domain.StatusWaiting, domain.StatusCalled}

// CreateToken inserts a fully assembled token row. The caller assigns id,
// token id, position, and timestamps.
func CreateToken(ctx context.Context, db *gorm.DB, t *domain.Token) error {
	return db.WithContext(ctx).Create(t).Error
}

// GetToken fetches a token by surrogate id, or ErrNotFound.
func GetToken(ctx context.Context, db *gorm.DB, id string) (*domain.Token, error) {
	var t domain.Token
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTokenByTokenID fetches a token by its public code (e.g. "G001"),
// or ErrNotFound.
func GetTokenByTokenID(ctx context.Context, db *gorm.DB, tokenID string) (*domain.Token, error) {
	var t domain.Token
	if err := db.WithContext(ctx).Where("token_id = ?", tokenID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// TokenIDExists reports whether any token, generated or manual, already
// carries the given public code.
func TokenIDExists(ctx context.Context, db *gorm.DB, tokenID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Token{}).
		Where("token_id = ?", tokenID).
		Count(&n).Error
	return n > 0, err
}

// MaxTokenSuffix returns the highest numeric suffix among generated token
// codes of a category that share the given single-character prefix, or 0 when
// the category has none. Suffix parsing happens here so the allocator only
// deals with integers.
func MaxTokenSuffix(ctx context.Context, db *gorm.DB, categoryID, prefix string) (int, error) {
	var codes []string
	err := db.WithContext(ctx).
		Model(&domain.Token{}).
		Where("category_id = ? AND token_id LIKE ?", categoryID, prefix+"%").
		Pluck("token_id", &codes).Error
	if err != nil {
		return 0, err
	}
	max := 0
	for _, code := range codes {
		if len(code) <= len(prefix) {
			continue
		}
		n, err := strconv.Atoi(code[len(prefix):])
		if err != nil {
			continue // manual codes may collide with the prefix shape
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

// MaxActivePosition returns the highest queue position among non-terminal
// tokens of a category, or 0 when the active queue is empty.
func MaxActivePosition(ctx context.Context, db *gorm.DB, categoryID string) (int, error) {
	var max *int
	err := db.WithContext(ctx).
		Model(&domain.Token{}).
		Where("category_id = ? AND status IN ?", categoryID, activeStatuses).
		Select("MAX(queue_position)").
		Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}

// CurrentCalled returns the token currently occupying the called slot of a
// category, or ErrNotFound when the slot is free.
func CurrentCalled(ctx context.Context, db *gorm.DB, categoryID string) (*domain.Token, error) {
	var t domain.Token
	err := db.WithContext(ctx).
		Where("category_id = ? AND status = ?", categoryID, domain.StatusCalled).
		Order("queue_position asc").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NextWaiting returns the lowest-position waiting token of a category, or
// ErrNotFound when nobody is waiting.
func NextWaiting(ctx context.Context, db *gorm.DB, categoryID string) (*domain.Token, error) {
	var t domain.Token
	err := db.WithContext(ctx).
		Where("category_id = ? AND status = ?", categoryID, domain.StatusWaiting).
		Order("queue_position asc").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTokenStatus moves a token to the given status, returning ErrNotFound
// when the row does not exist. The transition itself is validated by the
// caller; this function only persists it.
func UpdateTokenStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Token{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PauseCalled reverts every called token in scope back to waiting and
// returns the number of affected rows. An empty categoryID widens the scope
// to all categories. Positions are untouched, so a later resume re-calls the
// same ordering.
func PauseCalled(ctx context.Context, db *gorm.DB, categoryID string) (int64, error) {
	q := db.WithContext(ctx).
		Model(&domain.Token{}).
		Where("status = ?", domain.StatusCalled)
	if categoryID != "" {
		q = q.Where("category_id = ?", categoryID)
	}
	res := q.Updates(map[string]any{"status": domain.StatusWaiting, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// DeleteToken removes a single token row; the QR artifact cascades.
func DeleteToken(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Token{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteTokensInScope removes every token in scope (one category, or all
// when categoryID is empty) and returns the number of deleted rows. QR
// artifacts cascade with their tokens; scan history stays behind.
func DeleteTokensInScope(ctx context.Context, db *gorm.DB, categoryID string) (int64, error) {
	q := db.WithContext(ctx)
	if categoryID != "" {
		q = q.Where("category_id = ?", categoryID)
	} else {
		q = q.Where("1 = 1")
	}
	res := q.Delete(&domain.Token{})
	return res.RowsAffected, res.Error
}

// ListActiveTokens returns a page of non-terminal tokens ordered by queue
// position, optionally filtered by category and status.
func ListActiveTokens(ctx context.Context, db *gorm.DB, categoryID, status string, offset, limit int) ([]domain.Token, error) {
	q := db.WithContext(ctx).Where("status IN ?", activeStatuses)
	if categoryID != "" {
		q = q.Where("category_id = ?", categoryID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Token
	err := q.Order("queue_position asc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountActiveTokens returns the total matching ListActiveTokens for
// pagination metadata.
func CountActiveTokens(ctx context.Context, db *gorm.DB, categoryID, status string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Token{}).Where("status IN ?", activeStatuses)
	if categoryID != "" {
		q = q.Where("category_id = ?", categoryID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// ListQueueTokens returns the full active queue of one category ordered by
// position. Used by the live queue view.
func ListQueueTokens(ctx context.Context, db *gorm.DB, categoryID string) ([]domain.Token, error) {
	var out []domain.Token
	err := db.WithContext(ctx).
		Where("category_id = ? AND status IN ?", categoryID, activeStatuses).
		Order("queue_position asc").
		Find(&out).Error
	return out, err
}
