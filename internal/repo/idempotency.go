// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for the public issue endpoint.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (user_id, category_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, categoryID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(categoryID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND category_id = ? AND key = ? AND expires_at > ?", userID, categoryID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// IdempotencyKeyExists reports whether any non-expired record exists for
// (user_id, key) regardless of category. The middleware uses this cheap
// probe to flag replays before the body (and its category) is parsed.
func IdempotencyKeyExists(ctx context.Context, db *gorm.DB, userID, key string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("user_id = ? AND key = ? AND expires_at > ?", userID, key, now).
		Count(&n).Error
	return n > 0, err
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, categoryID, key, tokenID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		UserID:     userID,
		CategoryID: categoryID,
		Key:        key,
		TokenID:    tokenID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
