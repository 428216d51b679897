// Package qr implements the payload codec for QR artifacts: it assembles the
// canonical payload for a token, derives its integrity checksum, and renders
// the encoded image.
//
// The payload shape is canonical across the whole system. Earlier revisions
// carried two divergent encodings (full structured JSON in some paths, a bare
// token id in others); this package settles on the structured form for both
// the checksum input and the QR content.
package qr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/AishaRafeeq/go-token-backend/internal/config"
	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

// Payload is the canonical structure embedded in a QR artifact and hashed
// into its checksum. Field order is fixed by the struct definition, so the
// JSON serialization is stable for identical inputs.
type Payload struct {
	TokenID       string    `json:"token_id"`
	CategoryID    string    `json:"category_id"`
	CategoryName  string    `json:"category_name"`
	CategoryColor string    `json:"category_color"`
	Timestamp     time.Time `json:"timestamp"`
	QueuePosition int       `json:"queue_position"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Build assembles the canonical payload for a token at issuance time.
// ExpiresAt is now plus the policy expiry window.
func Build(t *domain.Token, c *domain.Category, now time.Time, pol config.QRPolicy) Payload {
	return Payload{
		TokenID:       t.TokenID,
		CategoryID:    c.ID,
		CategoryName:  c.Name,
		CategoryColor: c.Color,
		Timestamp:     now,
		QueuePosition: t.QueuePosition,
		Status:        t.Status,
		ExpiresAt:     now.Add(pol.Expiry()),
	}
}

// Marshal returns the canonical JSON serialization of the payload. The same
// bytes are stored on the artifact, hashed into the checksum, and encoded
// into the QR image.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Checksum derives the SHA-256 digest of the canonical serialization,
// hex-encoded. It is a pure function of the payload: identical input yields
// identical output. The digest is stamped once at generation time and never
// recomputed afterwards.
func Checksum(p Payload) (string, error) {
	b, err := p.Marshal()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
