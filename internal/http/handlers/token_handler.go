// Token HTTP handlers.
//
// This file exposes REST endpoints for token resources:
//   - POST   /tokens                      (public issue, idempotency-aware)
//   - POST   /tokens/manual               (staff walk-up entry, no QR)
//   - GET    /tokens                      (active queue, paginated)
//   - GET    /tokens/{token_id}           (status overview with QR + last scan)
//   - POST   /tokens/{token_id}/complete  (force-complete with auto-advance)
//   - DELETE /tokens/{token_id}           (remove token, artifact cascades)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
	"github.com/AishaRafeeq/go-token-backend/internal/http/middleware"
	"github.com/AishaRafeeq/go-token-backend/internal/repo"
	"github.com/AishaRafeeq/go-token-backend/internal/services"
	"github.com/AishaRafeeq/go-token-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// TokenService defines token lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type TokenService interface {
	// Create issues a token in a category; manual source carries an
	// explicit code and skips QR generation.
	Create(ctx context.Context, actor, categoryID, source, explicitID string) (*services.Issued, error)
	// Transition moves a token along a lifecycle edge.
	Transition(ctx context.Context, actor, tokenCode, target string) (*domain.Token, error)
	// Delete removes a token; the artifact cascades, scan history stays.
	Delete(ctx context.Context, actor, tokenCode string) error
	// GetStatus resolves a token with its artifact and last scan.
	GetStatus(ctx context.Context, tokenCode string) (*services.Status, error)
	// ListActive returns a page of non-terminal tokens and the total count.
	ListActive(ctx context.Context, categoryID, status string, page, pageSize int) ([]domain.Token, int64, error)
}

// QueueService defines queue advancement operations consumed by HTTP
// handlers.
type QueueService interface {
	// CallNext advances one category's queue by a single step.
	CallNext(ctx context.Context, actor, categoryID string) (*domain.Token, error)
	// Complete force-completes a token and reports any auto-advanced next.
	Complete(ctx context.Context, actor, tokenCode string) (*domain.Token, *domain.Token, error)
	// Emergency applies pause/resume/clear to one or all categories.
	Emergency(ctx context.Context, actor, action, categoryID string) (services.EmergencyResult, error)
	// Live returns the active queue grouped by category.
	Live(ctx context.Context, categoryID string) ([]services.CategoryQueue, error)
}

// VerificationService defines scan verification operations consumed by HTTP
// handlers.
type VerificationService interface {
	// Verify classifies a scanned artifact and records the attempt.
	Verify(ctx context.Context, in services.VerifyInput) (*services.VerifyResult, error)
	// ListScans returns a page of scan history and the total count.
	ListScans(ctx context.Context, actor string, page, pageSize int) ([]domain.QRScan, int64, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for tokens, queues, scans, categories, and
// reports. Business operations go through abstract service interfaces; the
// boilerplate reads (categories, reports, artifact images) use the repo
// layer directly.
type Handlers struct {
	db        *gorm.DB
	tokenSvc  TokenService
	queueSvc  QueueService
	verifySvc VerificationService

	// IdempotencyTTL is how long a stored Idempotency-Key remains
	// replayable on the issue endpoint.
	IdempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(db *gorm.DB, tokenSvc TokenService, queueSvc QueueService, verifySvc VerificationService) *Handlers {
	return &Handlers{
		db:             db,
		tokenSvc:       tokenSvc,
		queueSvc:       queueSvc,
		verifySvc:      verifySvc,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// actorID extracts the acting identity from Gin context (set by upstream
// auth middleware). If absent, it falls back to the "X-Actor-ID" header
// (tests use it), and finally to "anonymous". It never touches c.Request if
// it's nil.
func actorID(c *gin.Context) string {
	if v, ok := c.Get("actorID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-Actor-ID")); h != "" {
			return h
		}
	}
	return "anonymous"
}

//
// DTOs
//

// IssueTokenRequest is the JSON payload for public/admin issuance.
type IssueTokenRequest struct {
	// CategoryID selects the service lane.
	CategoryID string `json:"category_id" binding:"required"`
	// Source tags the issuance origin; defaults to "public".
	Source string `json:"source" example:"public"`
}

// ManualTokenRequest is the JSON payload for staff-entered codes.
type ManualTokenRequest struct {
	CategoryID string `json:"category_id" binding:"required"`
	// TokenID is stored verbatim; collisions are rejected.
	TokenID string `json:"token_id" binding:"required,min=1,max=32"`
}

// QRCodeInfo is the artifact subset embedded in issue/status responses.
// The raw image travels by reference, not inline.
type QRCodeInfo struct {
	ID        string          `json:"id"`
	ImageRef  string          `json:"qr_image_ref"`
	Payload   json.RawMessage `json:"qr_payload"`
	Checksum  string          `json:"checksum"`
	ExpiresAt time.Time       `json:"expires_at"`
	Status    string          `json:"status"`
}

// IssueTokenResponse is returned from the issue endpoints.
type IssueTokenResponse struct {
	Token  domain.Token `json:"token"`
	QRCode *QRCodeInfo  `json:"qr_code,omitempty"`
	// Replayed is true on an idempotent replay of a prior issuance.
	Replayed bool `json:"replayed,omitempty"`
}

// TokenStatusResponse is the GET /tokens/{token_id} overview.
type TokenStatusResponse struct {
	Token    domain.Token   `json:"token"`
	QRCode   *QRCodeInfo    `json:"qr_code,omitempty"`
	LastScan *domain.QRScan `json:"last_scan,omitempty"`
}

// CompleteTokenResponse pairs a completion with the auto-advanced next call.
type CompleteTokenResponse struct {
	CompletedToken domain.Token  `json:"completed_token"`
	NextToken      *domain.Token `json:"next_token"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
}

// TokenListResponse is the paginated active-token listing.
type TokenListResponse struct {
	Items      []domain.Token `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// qrInfo projects an artifact into its response subset.
func qrInfo(q *domain.QRCode) *QRCodeInfo {
	if q == nil {
		return nil
	}
	return &QRCodeInfo{
		ID:        q.ID,
		ImageRef:  "/api/v1/qrcodes/" + q.ID + "/image",
		Payload:   json.RawMessage(q.Payload),
		Checksum:  q.Checksum,
		ExpiresAt: q.ExpiresAt,
		Status:    q.Status,
	}
}

// mapServiceError translates service sentinels into HTTP envelopes. It
// returns true when the error was handled.
func mapServiceError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, services.ErrCategoryNotFound),
		errors.Is(err, services.ErrTokenNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrNoTokensWaiting):
		fail(c, http.StatusNotFound, ErrCodeNoTokensWaiting, err.Error())
	case errors.Is(err, services.ErrTokenIDTaken):
		fail(c, http.StatusConflict, ErrCodeTokenIDTaken, err.Error())
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrCalledSlotBusy):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrContention):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeContention, err.Error())
	case errors.Is(err, services.ErrInvalidCategory),
		errors.Is(err, services.ErrInvalidTokenID),
		errors.Is(err, services.ErrInvalidAction):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "unexpected error")
	}
	return true
}

//
// Endpoints
//

// IssueToken handles POST /tokens. It mints an id and queue position and
// synchronously issues the QR artifact. When the request carries an
// Idempotency-Key already seen for this (actor, category), the originally
// issued token is returned instead of minting a duplicate.
func (h *Handlers) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "category_id is required")
		return
	}
	actor := actorID(c)
	ctx := c.Request.Context()

	if key, hasKey := middleware.GetIdempotencyKey(c); hasKey {
		if rec, err := repo.GetIdempotency(ctx, h.db, actor, req.CategoryID, key, time.Now().UTC()); err == nil && rec != nil {
			st, err := h.tokenSvc.GetStatus(ctx, rec.TokenID)
			if err == nil {
				ok(c, http.StatusOK, IssueTokenResponse{
					Token:    *st.Token,
					QRCode:   qrInfo(st.QR),
					Replayed: true,
				})
				return
			}
		}
	}

	issued, err := h.tokenSvc.Create(ctx, actor, req.CategoryID, req.Source, "")
	if mapServiceError(c, err) {
		return
	}

	if key, hasKey := middleware.GetIdempotencyKey(c); hasKey {
		if _, err := repo.CreateIdempotency(ctx, h.db, actor, req.CategoryID, key,
			issued.Token.TokenID, http.StatusCreated, h.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not persisted")
		}
	}

	ok(c, http.StatusCreated, IssueTokenResponse{
		Token:  *issued.Token,
		QRCode: qrInfo(issued.QR),
	})
}

// CreateManualToken handles POST /tokens/manual: a staff-entered party with
// a verbatim code and no QR artifact.
func (h *Handlers) CreateManualToken(c *gin.Context) {
	var req ManualTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "category_id and token_id are required")
		return
	}
	issued, err := h.tokenSvc.Create(c.Request.Context(), actorID(c), req.CategoryID, domain.SourceManual, req.TokenID)
	if mapServiceError(c, err) {
		return
	}
	ok(c, http.StatusCreated, IssueTokenResponse{Token: *issued.Token})
}

// ListTokens handles GET /tokens: the active queue, lowest position first,
// optionally filtered by category and status.
func (h *Handlers) ListTokens(c *gin.Context) {
	page, pageSize := utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), 20), 100)

	items, total, err := h.tokenSvc.ListActive(c.Request.Context(),
		c.Query("category_id"), c.Query("status"), page, pageSize)
	if mapServiceError(c, err) {
		return
	}
	ok(c, http.StatusOK, TokenListResponse{
		Items:      items,
		Pagination: Pagination{Page: page, PageSize: pageSize, TotalItems: total},
	})
}

// GetToken handles GET /tokens/{token_id}: the status overview with QR
// verification info.
func (h *Handlers) GetToken(c *gin.Context) {
	st, err := h.tokenSvc.GetStatus(c.Request.Context(), c.Param("token_id"))
	if mapServiceError(c, err) {
		return
	}
	ok(c, http.StatusOK, TokenStatusResponse{
		Token:    *st.Token,
		QRCode:   qrInfo(st.QR),
		LastScan: st.LastScan,
	})
}

// CompleteToken handles POST /tokens/{token_id}/complete.
func (h *Handlers) CompleteToken(c *gin.Context) {
	completed, next, err := h.queueSvc.Complete(c.Request.Context(), actorID(c), c.Param("token_id"))
	if mapServiceError(c, err) {
		return
	}
	ok(c, http.StatusOK, CompleteTokenResponse{CompletedToken: *completed, NextToken: next})
}

// DeleteToken handles DELETE /tokens/{token_id}.
func (h *Handlers) DeleteToken(c *gin.Context) {
	err := h.tokenSvc.Delete(c.Request.Context(), actorID(c), c.Param("token_id"))
	if mapServiceError(c, err) {
		return
	}
	noContent(c)
}
