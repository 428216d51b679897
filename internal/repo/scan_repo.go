// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for scan records,
// including the idempotent upsert used for repeat verification.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

// UpsertScan records a verification attempt.
//
// Idempotence law: when the scan references an artifact and carries a
// non-anonymous actor, re-scanning the same (artifact, actor) pair increments
// ScanCount on the existing row and refreshes its time, outcome, and details
// instead of inserting a duplicate. Scans without an artifact reference
// (manual entry, unresolved lookups) or without an actor always append a new
// row.
//
// The read-then-write runs inside a transaction so concurrent re-scans of
// the same pair cannot both insert.
func UpsertScan(ctx context.Context, db *gorm.DB, s *domain.QRScan) (*domain.QRScan, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.ScanTime.IsZero() {
		s.ScanTime = time.Now().UTC()
	}
	if s.ScanCount == 0 {
		s.ScanCount = 1
	}

	if s.QRCodeID == nil || s.ScannedBy == "" {
		if err := db.WithContext(ctx).Create(s).Error; err != nil {
			return nil, err
		}
		return s, nil
	}

	var out *domain.QRScan
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.QRScan
		err := tx.Where("qr_code_id = ? AND scanned_by = ?", *s.QRCodeID, s.ScannedBy).
			First(&existing).Error
		switch {
		case err == nil:
			updates := map[string]any{
				"scan_count":          gorm.Expr("scan_count + 1"),
				"scan_time":           s.ScanTime,
				"verification_status": s.VerificationStatus,
				"device_type":         s.DeviceType,
				"details":             s.Details,
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.Where("id = ?", existing.ID).First(&existing).Error; err != nil {
				return err
			}
			out = &existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(s).Error; err != nil {
				return err
			}
			out = s
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListScansPage returns a page of scan records, most recent first.
func ListScansPage(ctx context.Context, db *gorm.DB, actor string, offset, limit int) ([]domain.QRScan, error) {
	q := db.WithContext(ctx)
	if actor != "" {
		q = q.Where("scanned_by = ?", actor)
	}
	var out []domain.QRScan
	err := q.Order("scan_time desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountScans returns the total scan rows for pagination metadata, optionally
// filtered by actor.
func CountScans(ctx context.Context, db *gorm.DB, actor string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.QRScan{})
	if actor != "" {
		q = q.Where("scanned_by = ?", actor)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// LastScanForQR returns the most recent scan referencing the given artifact,
// or ErrNotFound.
func LastScanForQR(ctx context.Context, db *gorm.DB, qrID string) (*domain.QRScan, error) {
	var s domain.QRScan
	err := db.WithContext(ctx).
		Where("qr_code_id = ?", qrID).
		Order("scan_time desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}
