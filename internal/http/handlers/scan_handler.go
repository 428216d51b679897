package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
	"github.com/AishaRafeeq/go-token-backend/internal/repo"
	"github.com/AishaRafeeq/go-token-backend/internal/services"
	"github.com/AishaRafeeq/go-token-backend/internal/utils"
)

// ScanRequest identifies the scanned artifact. Exactly one of QRID or
// TokenID must be set; QRID wins when both are present.
type ScanRequest struct {
	QRID       string `json:"qr_id"`
	TokenID    string `json:"token_id"`
	DeviceType string `json:"device_type"`
}

// ScanListResponse is the paginated scan history.
type ScanListResponse struct {
	Items      []domain.QRScan `json:"items"`
	Pagination Pagination      `json:"pagination"`
}

// CreateScan handles POST /scans: verifies a presented artifact and records
// the attempt. The endpoint answers 200 for both verified and rejected
// scans; the verdict travels in the body. Re-scans by the same actor fold
// into one record with an incremented count.
func (h *Handlers) CreateScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.QRID == "" && req.TokenID == "") {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "qr_id or token_id is required")
		return
	}
	res, err := h.verifySvc.Verify(c.Request.Context(), services.VerifyInput{
		QRID:       req.QRID,
		TokenCode:  req.TokenID,
		Actor:      actorID(c),
		DeviceType: req.DeviceType,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if mapServiceError(c, err) {
		return
	}
	ok(c, http.StatusOK, res)
}

// ListScans handles GET /scans: scan history, most recent first, optionally
// narrowed to one scanner via ?scanned_by=.
func (h *Handlers) ListScans(c *gin.Context) {
	page, pageSize := utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), 20), 100)

	items, total, err := h.verifySvc.ListScans(c.Request.Context(), c.Query("scanned_by"), page, pageSize)
	if mapServiceError(c, err) {
		return
	}
	ok(c, http.StatusOK, ScanListResponse{
		Items:      items,
		Pagination: Pagination{Page: page, PageSize: pageSize, TotalItems: total},
	})
}

// QRImage handles GET /qrcodes/{qr_id}/image: serves the rendered PNG. The
// image stays servable after expiry so printed or saved codes still show
// something scannable; verification is where expiry is enforced.
func (h *Handlers) QRImage(c *gin.Context) {
	q, err := repo.GetQRCode(c.Request.Context(), h.db, c.Param("qr_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "qr code not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "unexpected error")
		return
	}
	if len(q.Image) == 0 {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "qr image not available")
		return
	}
	c.Header("Cache-Control", "private, max-age=60")
	c.Header("X-QR-Expires-At", q.ExpiresAt.UTC().Format(time.RFC3339))
	c.Data(http.StatusOK, "image/png", q.Image)
}
