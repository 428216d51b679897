package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
	"github.com/AishaRafeeq/go-token-backend/internal/services"
)

func newQueueRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.POST("/queues/call-next", h.CallNext)
	r.POST("/queues/emergency", h.Emergency)
	r.GET("/queues/live", h.LiveQueue)
	return r
}

func TestCallNext_OK(t *testing.T) {
	db := newHandlerDB(t)
	var gotActor, gotCategory string
	h := New(db, stubTokenSvc{}, stubQueueSvc{
		callNext: func(ctx context.Context, actor, categoryID string) (*domain.Token, error) {
			gotActor, gotCategory = actor, categoryID
			return &domain.Token{TokenID: "G003", CategoryID: categoryID, Status: domain.StatusCalled}, nil
		},
	}, stubVerifySvc{})
	r := newQueueRouter(h)

	w := doJSON(t, r, http.MethodPost, "/queues/call-next",
		gin.H{"category_id": "cat1"}, map[string]string{"X-Actor-ID": "staff1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if gotActor != "staff1" || gotCategory != "cat1" {
		t.Fatalf("service called with actor=%q category=%q", gotActor, gotCategory)
	}

	var resp CallNextResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.CalledToken.TokenID != "G003" || resp.CalledToken.Status != domain.StatusCalled {
		t.Fatalf("unexpected called token: %+v", resp.CalledToken)
	}
}

func TestCallNext_EmptyQueue(t *testing.T) {
	db := newHandlerDB(t)
	h := New(db, stubTokenSvc{}, stubQueueSvc{
		callNext: func(context.Context, string, string) (*domain.Token, error) {
			return nil, services.ErrNoTokensWaiting
		},
	}, stubVerifySvc{})
	r := newQueueRouter(h)

	w := doJSON(t, r, http.MethodPost, "/queues/call-next", gin.H{"category_id": "cat1"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	var e ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &e)
	if e.Code != ErrCodeNoTokensWaiting {
		t.Fatalf("code = %q", e.Code)
	}
}

func TestCallNext_MissingCategory(t *testing.T) {
	db := newHandlerDB(t)
	h := New(db, stubTokenSvc{}, stubQueueSvc{}, stubVerifySvc{})
	r := newQueueRouter(h)

	w := doJSON(t, r, http.MethodPost, "/queues/call-next", gin.H{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCallNext_Contention(t *testing.T) {
	db := newHandlerDB(t)
	h := New(db, stubTokenSvc{}, stubQueueSvc{
		callNext: func(context.Context, string, string) (*domain.Token, error) {
			return nil, services.ErrContention
		},
	}, stubVerifySvc{})
	r := newQueueRouter(h)

	w := doJSON(t, r, http.MethodPost, "/queues/call-next", gin.H{"category_id": "cat1"}, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
}

func TestEmergency_Actions(t *testing.T) {
	db := newHandlerDB(t)
	h := New(db, stubTokenSvc{}, stubQueueSvc{
		emergency: func(ctx context.Context, actor, action, categoryID string) (services.EmergencyResult, error) {
			if action == "explode" {
				return services.EmergencyResult{}, services.ErrInvalidAction
			}
			return services.EmergencyResult{Action: action, Affected: 3}, nil
		},
	}, stubVerifySvc{})
	r := newQueueRouter(h)

	w := doJSON(t, r, http.MethodPost, "/queues/emergency", gin.H{"action": "pause"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pause: status = %d", w.Code)
	}
	var res services.EmergencyResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Action != "pause" || res.Affected != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	w = doJSON(t, r, http.MethodPost, "/queues/emergency", gin.H{"action": "explode"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad action: status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/queues/emergency", gin.H{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing action: status = %d", w.Code)
	}
}

func TestLiveQueue(t *testing.T) {
	db := newHandlerDB(t)
	h := New(db, stubTokenSvc{}, stubQueueSvc{
		live: func(ctx context.Context, categoryID string) ([]services.CategoryQueue, error) {
			if categoryID != "cat2" {
				t.Fatalf("filter not forwarded: %q", categoryID)
			}
			return []services.CategoryQueue{{
				Category: domain.Category{ID: "cat2", Name: "Billing"},
				Tokens:   []domain.Token{{TokenID: "B001", Status: domain.StatusCalled}},
			}}, nil
		},
	}, stubVerifySvc{})
	r := newQueueRouter(h)

	w := doJSON(t, r, http.MethodGet, "/queues/live?category_id=cat2", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp LiveQueueResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Categories) != 1 || resp.Categories[0].Category.Name != "Billing" {
		t.Fatalf("unexpected live view: %+v", resp)
	}
}
