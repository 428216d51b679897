package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AishaRafeeq/go-token-backend/internal/repo"
)

// CategorySummaryResponse wraps the per-category breakdown.
type CategorySummaryResponse struct {
	Items []repo.CategoryStatusCount `json:"items"`
}

// QueueOverview handles GET /reports/overview: global waiting, called, and
// completed counts plus scans recorded today.
func (h *Handlers) QueueOverview(c *gin.Context) {
	ov, err := repo.Overview(c.Request.Context(), h.db, time.Now().UTC())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "unexpected error")
		return
	}
	ok(c, http.StatusOK, ov)
}

// CategorySummary handles GET /reports/categories: per-category counts
// grouped by status.
func (h *Handlers) CategorySummary(c *gin.Context) {
	rows, err := repo.CategorySummary(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "unexpected error")
		return
	}
	ok(c, http.StatusOK, CategorySummaryResponse{Items: rows})
}
