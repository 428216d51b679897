package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
)

func newQueuePair(t *testing.T) (*TokenService, *QueueService, *domain.Category) {
	t.Helper()
	db := newServiceDB(t)
	cat := mustCategory(t, db, "General", "#112233")
	locks := NewCategoryLocks()
	tokSvc := NewTokenService(db, testQRPolicy(), locks)
	qSvc := NewQueueService(db, locks)
	return tokSvc, qSvc, cat
}

func TestCallNext_EmptyQueue(t *testing.T) {
	_, qSvc, cat := newQueuePair(t)

	if _, err := qSvc.CallNext(context.Background(), "staff1", cat.ID); !errors.Is(err, ErrNoTokensWaiting) {
		t.Fatalf("expected ErrNoTokensWaiting, got %v", err)
	}
	if _, err := qSvc.CallNext(context.Background(), "staff1", ""); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestCallNext_AdvancesInOrderAndSupersedes(t *testing.T) {
	tokSvc, qSvc, cat := newQueuePair(t)
	ctx := context.Background()

	a, _ := tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	b, _ := tokSvc.Create(ctx, "staff1", cat.ID, "", "")

	called, err := qSvc.CallNext(ctx, "staff1", cat.ID)
	if err != nil || called.TokenID != a.Token.TokenID {
		t.Fatalf("first call: got %+v err=%v", called, err)
	}

	// Second call completes the first token and calls the second.
	called, err = qSvc.CallNext(ctx, "staff1", cat.ID)
	if err != nil || called.TokenID != b.Token.TokenID {
		t.Fatalf("second call: got %+v err=%v", called, err)
	}

	prev, err := tokSvc.GetStatus(ctx, a.Token.TokenID)
	if err != nil || prev.Token.Status != domain.StatusCompleted {
		t.Fatalf("superseded token should be completed: %+v err=%v", prev.Token, err)
	}
}

func TestCallNext_SupersessionCommitsEvenWhenQueueEmpties(t *testing.T) {
	tokSvc, qSvc, cat := newQueuePair(t)
	ctx := context.Background()

	a, _ := tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	if _, err := qSvc.CallNext(ctx, "staff1", cat.ID); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Nobody left waiting: the call errors, but the served token still
	// completes.
	if _, err := qSvc.CallNext(ctx, "staff1", cat.ID); !errors.Is(err, ErrNoTokensWaiting) {
		t.Fatalf("expected ErrNoTokensWaiting, got %v", err)
	}
	st, _ := tokSvc.GetStatus(ctx, a.Token.TokenID)
	if st.Token.Status != domain.StatusCompleted {
		t.Fatalf("superseded token not committed: %+v", st.Token)
	}
}

func TestComplete_AutoAdvanceOnlyWhenSlotFrees(t *testing.T) {
	tokSvc, qSvc, cat := newQueuePair(t)
	ctx := context.Background()

	a, _ := tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	b, _ := tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	c, _ := tokSvc.Create(ctx, "staff1", cat.ID, "", "")

	if _, err := qSvc.CallNext(ctx, "staff1", cat.ID); err != nil {
		t.Fatalf("call a: %v", err)
	}

	// Completing a waiting token while a is being served: no promotion.
	completed, next, err := qSvc.Complete(ctx, "staff1", c.Token.TokenID)
	if err != nil || completed.Status != domain.StatusCompleted {
		t.Fatalf("complete waiting: %+v err=%v", completed, err)
	}
	if next != nil {
		t.Fatalf("no auto-advance while the slot is busy, got %+v", next)
	}

	// Completing the served token frees the slot and promotes b.
	completed, next, err = qSvc.Complete(ctx, "staff1", a.Token.TokenID)
	if err != nil {
		t.Fatalf("complete called: %v", err)
	}
	if next == nil || next.TokenID != b.Token.TokenID || next.Status != domain.StatusCalled {
		t.Fatalf("expected b to be auto-called, got %+v", next)
	}

	// Terminal tokens cannot complete twice.
	if _, _, err := qSvc.Complete(ctx, "staff1", a.Token.TokenID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEmergency_PauseThenResumeRestoresOrder(t *testing.T) {
	tokSvc, qSvc, cat := newQueuePair(t)
	ctx := context.Background()

	a, _ := tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	if _, err := qSvc.CallNext(ctx, "staff1", cat.ID); err != nil {
		t.Fatalf("call: %v", err)
	}

	res, err := qSvc.Emergency(ctx, "admin", EmergencyPause, cat.ID)
	if err != nil || res.Affected != 1 {
		t.Fatalf("pause: %+v err=%v", res, err)
	}
	st, _ := tokSvc.GetStatus(ctx, a.Token.TokenID)
	if st.Token.Status != domain.StatusWaiting {
		t.Fatalf("paused token should be waiting: %+v", st.Token)
	}

	// Resume re-calls the lowest position, which is still a.
	res, err = qSvc.Emergency(ctx, "admin", EmergencyResume, cat.ID)
	if err != nil || res.Affected != 1 {
		t.Fatalf("resume: %+v err=%v", res, err)
	}
	st, _ = tokSvc.GetStatus(ctx, a.Token.TokenID)
	if st.Token.Status != domain.StatusCalled {
		t.Fatalf("resume should re-call the lowest position: %+v", st.Token)
	}

	// Resuming again is a no-op while the slot is occupied.
	res, err = qSvc.Emergency(ctx, "admin", EmergencyResume, cat.ID)
	if err != nil || res.Affected != 0 {
		t.Fatalf("second resume should not double-call: %+v err=%v", res, err)
	}
}

func TestEmergency_ClearScopes(t *testing.T) {
	tokSvc, qSvc, cat := newQueuePair(t)
	other := mustCategory(t, tokSvc.DB, "Billing", "#ff0000")
	ctx := context.Background()

	tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	tokSvc.Create(ctx, "staff1", other.ID, "", "")

	res, err := qSvc.Emergency(ctx, "admin", EmergencyClear, cat.ID)
	if err != nil || res.Affected != 2 {
		t.Fatalf("scoped clear: %+v err=%v", res, err)
	}

	// Remaining token clears with the global scope.
	res, err = qSvc.Emergency(ctx, "admin", EmergencyClear, "")
	if err != nil || res.Affected != 1 {
		t.Fatalf("global clear: %+v err=%v", res, err)
	}

	// Artifacts go with their tokens.
	var qrLeft int64
	tokSvc.DB.Model(&domain.QRCode{}).Count(&qrLeft)
	if qrLeft != 0 {
		t.Fatalf("artifacts should cascade with cleared tokens, %d left", qrLeft)
	}

	if _, err := qSvc.Emergency(ctx, "admin", "panic", cat.ID); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestCallNext_ConcurrentSingleCalledSlot(t *testing.T) {
	tokSvc, qSvc, cat := newQueuePair(t)
	tokSvc.LockWait = 10 * time.Second
	qSvc.LockWait = 10 * time.Second
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := tokSvc.Create(ctx, "staff1", cat.ID, "", ""); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	const callers = 4
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			qSvc.CallNext(ctx, "staff1", cat.ID)
		}()
	}
	wg.Wait()

	var called int64
	qSvc.DB.Model(&domain.Token{}).Where("status = ?", domain.StatusCalled).Count(&called)
	if called != 1 {
		t.Fatalf("called-slot invariant violated: %d tokens called", called)
	}

	var completed int64
	qSvc.DB.Model(&domain.Token{}).Where("status = ?", domain.StatusCompleted).Count(&completed)
	if completed != callers-1 {
		t.Fatalf("expected %d superseded completions, got %d", callers-1, completed)
	}
}

func TestLive_GroupsByCategoryInPositionOrder(t *testing.T) {
	tokSvc, qSvc, cat := newQueuePair(t)
	other := mustCategory(t, tokSvc.DB, "Billing", "#ff0000")
	ctx := context.Background()

	tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	tokSvc.Create(ctx, "staff1", cat.ID, "", "")
	tokSvc.Create(ctx, "staff1", other.ID, "", "")

	groups, err := qSvc.Live(ctx, "")
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 lanes, got %d", len(groups))
	}
	for _, g := range groups {
		for i := 1; i < len(g.Tokens); i++ {
			if g.Tokens[i-1].QueuePosition > g.Tokens[i].QueuePosition {
				t.Fatalf("lane %s not position-ordered: %+v", g.Category.Name, g.Tokens)
			}
		}
	}

	one, err := qSvc.Live(ctx, cat.ID)
	if err != nil || len(one) != 1 || len(one[0].Tokens) != 2 {
		t.Fatalf("narrowed view: %+v err=%v", one, err)
	}
}
