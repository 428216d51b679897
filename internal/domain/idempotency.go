// Package domain defines the core persistence models for the application.
package domain

import "time"

// Idempotency records the result of a previously processed token issuance,
// keyed by (user_id, category_id, key). It enables safe retries for the
// public issue endpoint: a replayed request returns the originally issued
// token instead of minting a duplicate.
type Idempotency struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_category_key,priority:1"`
	CategoryID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_category_key,priority:2"`
	Key        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_category_key,priority:3"`
	TokenID    string    `gorm:"type:TEXT NOT NULL"`
	Status     int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt  time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
