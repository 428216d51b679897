package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

func newTokenRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("token_repo_test_%d.db", time.Now().UnixNano())) + "?_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Release the file handle before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedToken(t *testing.T, db *gorm.DB, categoryID, code, status string, pos int) *domain.Token {
	t.Helper()
	now := time.Now().UTC()
	tok := &domain.Token{
		ID:            uuid.NewString(),
		TokenID:       code,
		CategoryID:    categoryID,
		QueuePosition: pos,
		Status:        status,
		Source:        domain.SourcePublic,
		IssuedAt:      now,
		UpdatedAt:     now,
	}
	if err := db.Create(tok).Error; err != nil {
		t.Fatalf("seed token %s: %v", code, err)
	}
	return tok
}

func TestCreateToken_And_GetByTokenID(t *testing.T) {
	db := newTokenRepoDB(t, &domain.Token{})
	ctx := context.Background()

	tok := seedToken(t, db, "cat1", "G001", domain.StatusWaiting, 1)

	got, err := GetTokenByTokenID(ctx, db, "G001")
	if err != nil {
		t.Fatalf("GetTokenByTokenID: %v", err)
	}
	if got.ID != tok.ID || got.QueuePosition != 1 || got.Status != domain.StatusWaiting {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	if _, err := GetTokenByTokenID(ctx, db, "G999"); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound for missing code, got %v", err)
	}
}

func TestTokenIDExists(t *testing.T) {
	db := newTokenRepoDB(t, &domain.Token{})
	ctx := context.Background()
	seedToken(t, db, "cat1", "G001", domain.StatusCompleted, 1)

	exists, err := TokenIDExists(ctx, db, "G001")
	if err != nil || !exists {
		t.Fatalf("expected completed code to still exist: exists=%v err=%v", exists, err)
	}
	exists, err = TokenIDExists(ctx, db, "G002")
	if err != nil || exists {
		t.Fatalf("expected missing code: exists=%v err=%v", exists, err)
	}
}

func TestMaxTokenSuffix_SkipsManualShapes(t *testing.T) {
	db := newTokenRepoDB(t, &domain.Token{})
	ctx := context.Background()

	seedToken(t, db, "cat1", "G001", domain.StatusWaiting, 1)
	seedToken(t, db, "cat1", "G007", domain.StatusCompleted, 2) // terminal still counts
	seedToken(t, db, "cat1", "GOLD-5", domain.StatusWaiting, 3) // manual, unparseable suffix
	seedToken(t, db, "cat2", "G900", domain.StatusWaiting, 1)   // other category

	max, err := MaxTokenSuffix(ctx, db, "cat1", "G")
	if err != nil {
		t.Fatalf("MaxTokenSuffix: %v", err)
	}
	if max != 7 {
		t.Fatalf("expected max suffix 7, got %d", max)
	}

	max, err = MaxTokenSuffix(ctx, db, "cat3", "G")
	if err != nil || max != 0 {
		t.Fatalf("expected 0 for empty category, got %d (%v)", max, err)
	}
}

func TestMaxActivePosition_IgnoresCompleted(t *testing.T) {
	db := newTokenRepoDB(t, &domain.Token{})
	ctx := context.Background()

	seedToken(t, db, "cat1", "G001", domain.StatusCompleted, 9)
	seedToken(t, db, "cat1", "G002", domain.StatusWaiting, 2)
	seedToken(t, db, "cat1", "G003", domain.StatusCalled, 3)

	max, err := MaxActivePosition(ctx, db, "cat1")
	if err != nil {
		t.Fatalf("MaxActivePosition: %v", err)
	}
	if max != 3 {
		t.Fatalf("expected 3 (completed rows excluded), got %d", max)
	}
}

func TestCurrentCalled_And_NextWaiting(t *testing.T) {
	db := newTokenRepoDB(t, &domain.Token{})
	ctx := context.Background()

	seedToken(t, db, "cat1", "G001", domain.StatusCalled, 1)
	seedToken(t, db, "cat1", "G002", domain.StatusWaiting, 2)
	seedToken(t, db, "cat1", "G003", domain.StatusWaiting, 3)

	cur, err := CurrentCalled(ctx, db, "cat1")
	if err != nil || cur.TokenID != "G001" {
		t.Fatalf("CurrentCalled: got %+v err=%v", cur, err)
	}

	next, err := NextWaiting(ctx, db, "cat1")
	if err != nil || next.TokenID != "G002" {
		t.Fatalf("NextWaiting: got %+v err=%v", next, err)
	}

	if _, err := CurrentCalled(ctx, db, "cat2"); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected free called slot to report ErrRecordNotFound, got %v", err)
	}
}

func TestUpdateTokenStatus(t *testing.T) {
	db := newTokenRepoDB(t, &domain.Token{})
	ctx := context.Background()
	tok := seedToken(t, db, "cat1", "G001", domain.StatusWaiting, 1)

	if err := UpdateTokenStatus(ctx, db, tok.ID, domain.StatusCalled); err != nil {
		t.Fatalf("UpdateTokenStatus: %v", err)
	}
	got, _ := GetToken(ctx, db, tok.ID)
	if got.Status != domain.StatusCalled {
		t.Fatalf("status not persisted: %+v", got)
	}

	if err := UpdateTokenStatus(ctx, db, "missing", domain.StatusCalled); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound for missing id, got %v", err)
	}
}

func TestPauseCalled_ScopeAndCount(t *testing.T) {
	db := newTokenRepoDB(t, &domain.Token{})
	ctx := context.Background()

	seedToken(t, db, "cat1", "G001", domain.StatusCalled, 1)
	seedToken(t, db, "cat2", "B001", domain.StatusCalled, 1)
	seedToken(t, db, "cat1", "G002", domain.StatusWaiting, 2)

	n, err := PauseCalled(ctx, db, "cat1")
	if err != nil || n != 1 {
		t.Fatalf("PauseCalled(cat1): n=%d err=%v", n, err)
	}
	// cat2 untouched by scoped pause
	cur, err := CurrentCalled(ctx, db, "cat2")
	if err != nil || cur.TokenID != "B001" {
		t.Fatalf("cat2 slot should still be occupied: %+v err=%v", cur, err)
	}

	// Global pause clears the rest.
	n, err = PauseCalled(ctx, db, "")
	if err != nil || n != 1 {
		t.Fatalf("PauseCalled(all): n=%d err=%v", n, err)
	}
}

func TestDeleteTokensInScope(t *testing.T) {
	db := newTokenRepoDB(t, &domain.Token{})
	ctx := context.Background()

	seedToken(t, db, "cat1", "G001", domain.StatusWaiting, 1)
	seedToken(t, db, "cat1", "G002", domain.StatusCalled, 2)
	seedToken(t, db, "cat2", "B001", domain.StatusWaiting, 1)

	n, err := DeleteTokensInScope(ctx, db, "cat1")
	if err != nil || n != 2 {
		t.Fatalf("scoped clear: n=%d err=%v", n, err)
	}

	n, err = DeleteTokensInScope(ctx, db, "")
	if err != nil || n != 1 {
		t.Fatalf("global clear: n=%d err=%v", n, err)
	}
}

func TestListActiveTokens_OrderingAndFilters(t *testing.T) {
	db := newTokenRepoDB(t, &domain.Token{})
	ctx := context.Background()

	seedToken(t, db, "cat1", "G003", domain.StatusWaiting, 3)
	seedToken(t, db, "cat1", "G001", domain.StatusCalled, 1)
	seedToken(t, db, "cat1", "G002", domain.StatusWaiting, 2)
	seedToken(t, db, "cat1", "G000", domain.StatusCompleted, 0)
	seedToken(t, db, "cat2", "B001", domain.StatusWaiting, 1)

	out, err := ListActiveTokens(ctx, db, "cat1", "", 0, 10)
	if err != nil {
		t.Fatalf("ListActiveTokens: %v", err)
	}
	if len(out) != 3 || out[0].TokenID != "G001" || out[1].TokenID != "G002" || out[2].TokenID != "G003" {
		t.Fatalf("unexpected order: %+v", out)
	}

	out, err = ListActiveTokens(ctx, db, "cat1", domain.StatusWaiting, 0, 10)
	if err != nil || len(out) != 2 {
		t.Fatalf("status filter: got %d rows err=%v", len(out), err)
	}

	n, err := CountActiveTokens(ctx, db, "", "")
	if err != nil || n != 4 {
		t.Fatalf("CountActiveTokens: n=%d err=%v", n, err)
	}
}
