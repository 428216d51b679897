// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate queries behind the
// reporting endpoints: queue status counts and daily scan activity. Each
// function is context-aware and safe to call from services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

// QueueOverview summarizes the token population by lifecycle status together
// with today's scan activity.
type QueueOverview struct {
	Waiting    int64 `json:"waiting"`
	Called     int64 `json:"called"`
	Completed  int64 `json:"completed"`
	ScansToday int64 `json:"scans_today"`
}

// CategoryStatusCount is one row of the per-category status summary.
type CategoryStatusCount struct {
	CategoryName string `json:"category_name"`
	Status       string `json:"status"`
	Count        int64  `json:"count"`
}

// Overview returns system-wide status counts and today's scan total.
// "Today" starts at local midnight of the supplied reference time.
func Overview(ctx context.Context, db *gorm.DB, now time.Time) (QueueOverview, error) {
	var out QueueOverview

	for _, s := range []struct {
		status string
		dst    *int64
	}{
		{domain.StatusWaiting, &out.Waiting},
		{domain.StatusCalled, &out.Called},
		{domain.StatusCompleted, &out.Completed},
	} {
		err := db.WithContext(ctx).
			Model(&domain.Token{}).
			Where("status = ?", s.status).
			Count(s.dst).Error
		if err != nil {
			return QueueOverview{}, err
		}
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err := db.WithContext(ctx).
		Model(&domain.QRScan{}).
		Where("scan_time >= ?", midnight).
		Count(&out.ScansToday).Error
	if err != nil {
		return QueueOverview{}, err
	}
	return out, nil
}

// CategorySummary returns token counts grouped by category name and status,
// ordered by category name. Categories without tokens do not appear.
func CategorySummary(ctx context.Context, db *gorm.DB) ([]CategoryStatusCount, error) {
	var out []CategoryStatusCount
	err := db.WithContext(ctx).
		Model(&domain.Token{}).
		Select("categories.name AS category_name, tokens.status AS status, COUNT(tokens.id) AS count").
		Joins("JOIN categories ON categories.id = tokens.category_id").
		Group("categories.name, tokens.status").
		Order("categories.name asc, tokens.status asc").
		Scan(&out).Error
	return out, err
}
