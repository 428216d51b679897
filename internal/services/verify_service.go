// Package services – VerificationService
//
// This file implements the QR verification engine. Verification is
// read-mostly: it classifies a scanned artifact against the live token
// record and records the attempt, but never mutates token status by itself.
// Failed lookups and expired artifacts are valid, loggable outcomes; they
// travel back to the caller in a normal result, not as errors.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
	"github.com/AishaRafeeq/go-token-backend/internal/repo"
)

// Verification reasons carried in results and scan details.
const (
	ReasonNotFound    = "not_found"
	ReasonExpired     = "expired"
	ReasonAlreadyUsed = "already_used"
	ReasonNoArtifact  = "no_artifact"
)

// VerifyInput identifies the scanned subject and the scanning context.
// Exactly one of QRID or TokenCode should be set; QRID wins when both are.
// Actor may be empty: anonymous scans are allowed.
type VerifyInput struct {
	QRID       string
	TokenCode  string
	Actor      string
	DeviceType string
	IPAddress  string
	UserAgent  string
}

// VerifyResult is the classification of one verification attempt. It is
// returned verbatim as the scan endpoint's response body.
type VerifyResult struct {
	Verified    bool           `json:"verified"`
	Status      string         `json:"status"`                 // SUCCESS, FAILED, or MANUAL
	Reason      string         `json:"reason,omitempty"`       // empty on success
	TokenStatus string         `json:"token_status,omitempty"` // live token status, empty when unresolved
	Token       *domain.Token  `json:"token,omitempty"`
	QR          *domain.QRCode `json:"qr_code,omitempty"`
	Scan        *domain.QRScan `json:"scan,omitempty"`
}

// VerificationService validates scanned artifacts and records scan evidence.
type VerificationService struct {
	DB     *gorm.DB
	Auth   Authorizer
	Events Publisher

	// Now allows tests to pin the clock. Defaults to time.Now UTC.
	Now func() time.Time
}

// NewVerificationService constructs a VerificationService with default
// collaborators.
func NewVerificationService(db *gorm.DB) *VerificationService {
	return &VerificationService{DB: db, Auth: AllowAll{}, Events: NopPublisher{}}
}

func (s *VerificationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Verify resolves the scanned reference to a token and its most recent
// artifact, classifies the outcome, and records exactly one scan row.
//
// Classification, in priority order:
//  1. Nothing resolves -> FAILED / not_found. A scan row without artifact
//     reference is still recorded as evidence.
//  2. Token resolves but has no artifact (manual tokens, or issuance raced
//     a scan) -> MANUAL. Verified mirrors whether the token is still active.
//  3. Artifact expired (or carries no expiry) -> FAILED / expired,
//     regardless of token status.
//  4. Token already completed -> FAILED / already_used, even when the
//     artifact is still within its window.
//  5. Otherwise SUCCESS. The token stays in its current state.
//
// Repeat verification of the same artifact by the same actor increments the
// counter on the existing scan row (repo.UpsertScan's idempotence law).
func (s *VerificationService) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	tr := otel.Tracer("services/VerificationService")
	ctx, span := tr.Start(ctx, "Verify")
	defer span.End()

	if err := s.Auth.Allow(ctx, in.Actor, ActionScan, ""); err != nil {
		return nil, err
	}

	res := &VerifyResult{}

	// Resolution. QR id is authoritative when provided; a token code falls
	// back to that token's latest artifact.
	switch {
	case in.QRID != "":
		art, err := repo.GetQRCode(ctx, s.DB, in.QRID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		if art != nil {
			res.QR = art
			tok, err := repo.GetToken(ctx, s.DB, art.TokenID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
			res.Token = tok
		}
	case in.TokenCode != "":
		tok, err := repo.GetTokenByTokenID(ctx, s.DB, in.TokenCode)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		if tok != nil {
			res.Token = tok
			art, err := repo.LatestQRForToken(ctx, s.DB, tok.ID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
			res.QR = art
		}
	}

	now := s.now()
	switch {
	case res.Token == nil && res.QR == nil:
		res.Status = domain.ScanFailed
		res.Reason = ReasonNotFound
	case res.QR == nil:
		// Manual entry path: token exists without an artifact.
		res.Status = domain.ScanManual
		res.Reason = ReasonNoArtifact
		res.TokenStatus = res.Token.Status
		res.Verified = !res.Token.Terminal()
	case res.QR.Expired(now):
		res.Status = domain.ScanFailed
		res.Reason = ReasonExpired
		if res.Token != nil {
			res.TokenStatus = res.Token.Status
		}
	case res.Token == nil:
		// Artifact outlived its token (deleted token, retained evidence).
		res.Status = domain.ScanFailed
		res.Reason = ReasonNotFound
	case res.Token.Terminal():
		res.Status = domain.ScanFailed
		res.Reason = ReasonAlreadyUsed
		res.TokenStatus = res.Token.Status
	default:
		res.Status = domain.ScanSuccess
		res.TokenStatus = res.Token.Status
		res.Verified = true
	}

	scan := &domain.QRScan{
		ScannedBy:          in.Actor,
		ScanTime:           now,
		IPAddress:          in.IPAddress,
		UserAgent:          in.UserAgent,
		DeviceType:         in.DeviceType,
		VerificationStatus: res.Status,
		Details:            domain.JSONMap{},
	}
	if res.QR != nil {
		id := res.QR.ID
		scan.QRCodeID = &id
	}
	if res.Token != nil {
		scan.TokenID = res.Token.TokenID
	} else if in.TokenCode != "" {
		scan.TokenID = in.TokenCode
	}
	if res.Reason != "" {
		scan.Details["reason"] = res.Reason
	}

	recorded, err := repo.UpsertScan(ctx, s.DB, scan)
	if err != nil {
		return nil, err
	}
	res.Scan = recorded

	span.SetAttributes(
		attribute.String("scan.status", res.Status),
		attribute.String("scan.reason", res.Reason),
	)
	s.Events.Publish(ctx, Event{
		Name:    EventQRScanned,
		TokenID: scan.TokenID,
		Status:  res.Status,
		Actor:   in.Actor,
	})
	return res, nil
}

// ListScans returns a page of scan history, most recent first, with the
// total for pagination metadata. An actor filter narrows to one scanner.
func (s *VerificationService) ListScans(ctx context.Context, actor string, page, pageSize int) ([]domain.QRScan, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountScans(ctx, s.DB, actor)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.QRScan{}, 0, nil
	}
	items, err := repo.ListScansPage(ctx, s.DB, actor, (page-1)*pageSize, pageSize)
	return items, total, err
}
