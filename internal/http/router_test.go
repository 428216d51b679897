package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/AishaRafeeq/go-token-backend/internal/config"
	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.Category{}, &domain.Token{}, &domain.QRCode{},
		&domain.QRScan{}, &domain.Idempotency{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      50,
		LockWait:       2 * time.Second,
		IdempotencyTTL: 24 * time.Hour,
		CORS:           config.CORSConfig{AllowedOrigins: nil},
		Security:       config.SecurityConfig{EnableHSTS: false},
		QR: config.QRPolicy{
			ExpiryHours:     24,
			ErrorCorrection: "M",
			BoxSize:         4,
			Border:          2,
			Format:          "PNG",
		},
		OTEL: config.OTELConfig{ServiceName: "test-svc"},
	}
}

func TestRegisterRoutes_HealthMetricsCORSFallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), testConfig())

	// /health works
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// No configured origins means the allow-all posture.
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// Unknown route gets the structured 404 envelope.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d", w.Code)
	}
	var env map[string]string
	json.Unmarshal(w.Body.Bytes(), &env)
	if env["code"] != "not_found" {
		t.Fatalf("envelope code = %q", env["code"])
	}

	// Wrong method on a known route answers 405, not 404.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/queues/live", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE live = %d", w.Code)
	}

	// Request id is minted on every response.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID missing")
	}
}

func TestRegisterRoutes_CORSAllowlist(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://queue.example.com"}
	RegisterRoutes(r, newTestDB(t), cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://queue.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://queue.example.com" {
		t.Fatalf("allowlisted origin not echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "https://evil.example.com" {
		t.Fatal("unlisted origin must not be echoed")
	}
}

// TestRegisterRoutes_EndToEndIssueAndScan walks the happy path through the
// fully wired stack: create a category, issue a token, fetch its artifact
// image, verify by scan, and read the live queue.
func TestRegisterRoutes_EndToEndIssueAndScan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), testConfig())

	post := func(path string, payload any, hdr map[string]string) *httptest.ResponseRecorder {
		b, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Category
	w := post("/api/v1/categories", gin.H{"name": "General", "color": "#2563eb"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create category = %d body=%s", w.Code, w.Body.String())
	}
	var cat domain.Category
	json.Unmarshal(w.Body.Bytes(), &cat)

	// Issue
	w = post("/api/v1/tokens", gin.H{"category_id": cat.ID}, map[string]string{"X-Actor-ID": "kiosk1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("issue token = %d body=%s", w.Code, w.Body.String())
	}
	var issued struct {
		Token  domain.Token `json:"token"`
		QRCode *struct {
			ID       string `json:"id"`
			ImageRef string `json:"qr_image_ref"`
		} `json:"qr_code"`
	}
	json.Unmarshal(w.Body.Bytes(), &issued)
	if issued.Token.TokenID != "G001" || issued.QRCode == nil {
		t.Fatalf("unexpected issuance: %s", w.Body.String())
	}

	// Artifact image
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, issued.QRCode.ImageRef, nil))
	if w2.Code != http.StatusOK || w2.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("artifact image = %d type=%q", w2.Code, w2.Header().Get("Content-Type"))
	}

	// Scan verification
	w = post("/api/v1/scans", gin.H{"qr_id": issued.QRCode.ID}, map[string]string{"X-Actor-ID": "gate1"})
	if w.Code != http.StatusOK {
		t.Fatalf("scan = %d body=%s", w.Code, w.Body.String())
	}
	var verdict struct {
		Verified bool   `json:"verified"`
		Status   string `json:"status"`
	}
	json.Unmarshal(w.Body.Bytes(), &verdict)
	if !verdict.Verified || verdict.Status != domain.ScanSuccess {
		t.Fatalf("unexpected verdict: %s", w.Body.String())
	}

	// Live queue shows the waiting token.
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, httptest.NewRequest(http.MethodGet, "/api/v1/queues/live", nil))
	if w3.Code != http.StatusOK {
		t.Fatalf("live queue = %d", w3.Code)
	}
	var live struct {
		Categories []struct {
			Tokens []domain.Token `json:"tokens"`
		} `json:"categories"`
	}
	json.Unmarshal(w3.Body.Bytes(), &live)
	if len(live.Categories) != 1 || len(live.Categories[0].Tokens) != 1 {
		t.Fatalf("unexpected live view: %s", w3.Body.String())
	}
}
