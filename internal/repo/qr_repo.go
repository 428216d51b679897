// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for QR artifacts.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

// CreateQRCode inserts a fully assembled artifact row. The caller fills in
// id, payload, checksum, image bytes, and timestamps; artifacts are never
// updated after this insert.
func CreateQRCode(ctx context.Context, db *gorm.DB, q *domain.QRCode) error {
	return db.WithContext(ctx).Create(q).Error
}

// GetQRCode fetches an artifact by id, or ErrNotFound.
func GetQRCode(ctx context.Context, db *gorm.DB, id string) (*domain.QRCode, error) {
	var q domain.QRCode
	if err := db.WithContext(ctx).Where("id = ?", id).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// LatestQRForToken returns the most recently generated artifact bound to the
// token with the given surrogate id, or ErrNotFound if the token has none
// (manual tokens never get one).
func LatestQRForToken(ctx context.Context, db *gorm.DB, tokenID string) (*domain.QRCode, error) {
	var q domain.QRCode
	err := db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("generated_at desc").
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}
