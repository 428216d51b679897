// Package domain defines the persistence models for categories, queue
// tokens, QR artifacts, and scan records. These types are mapped with GORM
// and form the core data layer of the token queue application.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Token lifecycle statuses. Transitions only move forward:
// waiting -> called -> completed, with waiting -> completed allowed as a
// bypass for emergency clears and manual overrides.
const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusCompleted = "completed"
)

// Token issuance sources. Source is used for filtering only and never
// influences queue ordering.
const (
	SourcePublic = "public"
	SourceAdmin  = "admin"
	SourceManual = "manual"
)

// QR artifact statuses as stamped at generation time.
const (
	QRStatusValid   = "VALID"
	QRStatusExpired = "EXPIRED"
	QRStatusInvalid = "INVALID"
)

// Verification outcomes recorded on scan rows.
const (
	ScanSuccess = "SUCCESS"
	ScanFailed  = "FAILED"
	ScanManual  = "MANUAL"
)

// JSONMap stores a free-form JSON object in a TEXT column. It keeps scan
// detail maps portable across drivers without a separate datatypes module.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("domain: unsupported JSONMap source type")
	}
}

// Category is a named service lane with its own independent queue ordering.
// Categories are created by administrators and referenced, never owned, by
// tokens. Color is a styling hint used as the QR foreground.
type Category struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Name        string    `json:"name"        gorm:"type:varchar(50);not null;uniqueIndex"`
	Color       string    `json:"color"       gorm:"type:varchar(7);not null;default:'#000000'"`
	Description string    `json:"description,omitempty" gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Category.
func (Category) TableName() string { return "categories" }

// Token is a queue ticket bound to one category.
//
// Invariants:
//   - TokenID is immutable after creation and globally unique across
//     generated and manual codes.
//   - QueuePosition is assigned exactly once, at creation, and is
//     monotonically increasing per category among non-terminal tokens.
//   - At most one token per category holds StatusCalled at any instant;
//     the services layer serializes every write that touches the called slot.
type Token struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	TokenID       string    `json:"token_id"       gorm:"type:varchar(32);not null;uniqueIndex"`
	CategoryID    string    `json:"category_id"    gorm:"type:char(36);not null;index:idx_category_tokens,priority:1"`
	QueuePosition int       `json:"queue_position" gorm:"not null;index:idx_category_tokens,priority:2"`
	Status        string    `json:"status"         gorm:"type:varchar(20);not null;default:'waiting';check:status IN ('waiting','called','completed')"`
	Source        string    `json:"source"         gorm:"type:varchar(10);not null;default:'public';check:source IN ('public','admin','manual')"`
	IssuedAt      time.Time `json:"issued_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	IssuedBy      string    `json:"issued_by,omitempty" gorm:"type:varchar(64)"`

	// Category is the service lane this token waits in. Tokens are
	// cascade-deleted if their category is removed.
	Category Category `json:"-" gorm:"foreignKey:CategoryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Token.
func (Token) TableName() string { return "tokens" }

// Terminal reports whether the token has left the active queue.
func (t Token) Terminal() bool { return t.Status == StatusCompleted }

// QRCode is the generated, time-bounded, checksummed proof bound to a token.
// It is created once, synchronously, as a side effect of token creation and
// is immutable thereafter. The checksum is a point-in-time integrity stamp
// over the canonical payload; live validity is derived from ExpiresAt and
// the token status at scan time. Category fields are denormalized at
// generation time so the artifact stays self-describing.
type QRCode struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	TokenID       string    `json:"token_id"       gorm:"type:char(36);not null;index"`
	CategoryID    string    `json:"category_id"    gorm:"type:char(36);not null"`
	CategoryName  string    `json:"category_name"  gorm:"type:varchar(50);not null"`
	CategoryColor string    `json:"category_color" gorm:"type:varchar(7);not null"`
	GeneratedAt   time.Time `json:"generated_at"`
	ExpiresAt     time.Time `json:"expires_at"     gorm:"not null;index"`
	Checksum      string    `json:"checksum"       gorm:"type:varchar(128);not null"`
	Payload       string    `json:"payload"        gorm:"type:text;not null"`
	Image         []byte    `json:"-"              gorm:"type:blob"`
	Format        string    `json:"format"         gorm:"type:varchar(10);not null;default:'PNG'"`
	Status        string    `json:"status"         gorm:"type:varchar(20);not null;default:'VALID';check:status IN ('VALID','EXPIRED','INVALID')"`
	CreatedBy     string    `json:"created_by,omitempty" gorm:"type:varchar(64)"`

	// Token owns the artifact exclusively; the artifact is cascade-deleted
	// with its token.
	Token Token `json:"-" gorm:"foreignKey:TokenID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for QRCode.
func (QRCode) TableName() string { return "qr_codes" }

// Expired reports whether the artifact is past its expiry at the given time.
// An artifact with no expiry set is treated as expired.
func (q QRCode) Expired(now time.Time) bool {
	return q.ExpiresAt.IsZero() || now.After(q.ExpiresAt)
}

// QRScan is append-only evidence of a verification attempt. Re-scanning the
// same artifact by the same actor increments ScanCount on the existing row
// instead of inserting unbounded duplicates.
//
// QRCodeID deliberately carries no foreign-key constraint: scan rows keep
// their historical data even after the referenced artifact is deleted.
type QRScan struct {
	ID                 string    `json:"id"                   gorm:"type:char(36);primaryKey"`
	QRCodeID           *string   `json:"qr_code_id"           gorm:"type:char(36);index:idx_scan_actor,priority:1"`
	TokenID            string    `json:"token_id,omitempty"   gorm:"type:varchar(32);index"`
	ScannedBy          string    `json:"scanned_by,omitempty" gorm:"type:varchar(64);index:idx_scan_actor,priority:2"`
	ScanTime           time.Time `json:"scan_time"            gorm:"index"`
	IPAddress          string    `json:"ip_address,omitempty" gorm:"type:varchar(45)"`
	UserAgent          string    `json:"user_agent,omitempty" gorm:"type:text"`
	DeviceType         string    `json:"device_type"          gorm:"type:varchar(50)"`
	VerificationStatus string    `json:"verification_status"  gorm:"type:varchar(32);not null;default:'SUCCESS';check:verification_status IN ('SUCCESS','FAILED','MANUAL')"`
	ScanCount          int       `json:"scan_count"           gorm:"not null;default:1"`
	Details            JSONMap   `json:"details"              gorm:"type:text"`
}

// TableName returns the database table name for QRScan.
func (QRScan) TableName() string { return "qr_scans" }
