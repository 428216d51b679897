package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
	"github.com/AishaRafeeq/go-token-backend/internal/services"
)

// CallNextRequest selects the queue to advance.
type CallNextRequest struct {
	CategoryID string `json:"category_id" binding:"required"`
}

// CallNextResponse reports the newly called token.
type CallNextResponse struct {
	CalledToken domain.Token `json:"called_token"`
}

// EmergencyRequest applies a queue control action. CategoryID empty means
// all categories.
type EmergencyRequest struct {
	Action     string `json:"action" binding:"required"`
	CategoryID string `json:"category_id"`
}

// LiveQueueResponse groups the active queue per category.
type LiveQueueResponse struct {
	Categories []services.CategoryQueue `json:"categories"`
}

// CallNext handles POST /queues/call-next: completes the currently called
// token of the category, if any, and calls the lowest-position waiting one.
func (h *Handlers) CallNext(c *gin.Context) {
	var req CallNextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "category_id is required")
		return
	}
	called, err := h.queueSvc.CallNext(c.Request.Context(), actorID(c), req.CategoryID)
	if mapServiceError(c, err) {
		return
	}
	ok(c, http.StatusOK, CallNextResponse{CalledToken: *called})
}

// Emergency handles POST /queues/emergency with pause, resume, or clear.
func (h *Handlers) Emergency(c *gin.Context) {
	var req EmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action is required")
		return
	}
	res, err := h.queueSvc.Emergency(c.Request.Context(), actorID(c), req.Action, req.CategoryID)
	if mapServiceError(c, err) {
		return
	}
	ok(c, http.StatusOK, res)
}

// LiveQueue handles GET /queues/live: waiting and called tokens grouped by
// category, ordered by position.
func (h *Handlers) LiveQueue(c *gin.Context) {
	groups, err := h.queueSvc.Live(c.Request.Context(), c.Query("category_id"))
	if mapServiceError(c, err) {
		return
	}
	ok(c, http.StatusOK, LiveQueueResponse{Categories: groups})
}
