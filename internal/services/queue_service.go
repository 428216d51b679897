// Package services – QueueService
//
// This file implements QueueService, the queue-ordering engine: call-next,
// force-complete with auto-advance, emergency controls, and the live queue
// view. The called slot is single-occupancy per category, so every mutation
// here runs under the category lock inside a transaction; two concurrent
// call-next invocations for one category serialize; the second observes the
// post-state of the first.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AishaRafeeq/go-token-backend/internal/domain"
	"github.com/AishaRafeeq/go-token-backend/internal/repo"
)

// Emergency actions.
const (
	EmergencyPause  = "pause"
	EmergencyResume = "resume"
	EmergencyClear  = "clear"
)

// QueueService owns queue advancement and bulk emergency operations.
type QueueService struct {
	DB     *gorm.DB
	Auth   Authorizer
	Events Publisher
	Locks  *CategoryLocks

	// LockWait bounds category lock acquisition; 0 uses the default.
	LockWait time.Duration
}

// NewQueueService constructs a QueueService with default collaborators.
func NewQueueService(db *gorm.DB, locks *CategoryLocks) *QueueService {
	return &QueueService{
		DB:     db,
		Auth:   AllowAll{},
		Events: NopPublisher{},
		Locks:  locks,
	}
}

// CallNext advances a category's queue by one step: the token currently in
// the called slot (if any) is completed by supersession, then the
// lowest-position waiting token is called and returned. ErrNoTokensWaiting
// is the explicit empty-queue signal; when it is returned, any supersession
// that happened first is still committed.
func (s *QueueService) CallNext(ctx context.Context, actor, categoryID string) (*domain.Token, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "CallNext",
		trace.WithAttributes(attribute.String("category.id", categoryID)),
	)
	defer span.End()

	if categoryID == "" {
		return nil, ErrInvalidCategory
	}
	if err := s.Auth.Allow(ctx, actor, ActionCallNext, categoryID); err != nil {
		return nil, err
	}
	if _, err := repo.GetCategory(ctx, s.DB, categoryID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}

	release, err := s.Locks.Acquire(categoryID, s.LockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	var superseded, called *domain.Token
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := repo.CurrentCalled(ctx, tx, categoryID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if cur != nil {
			if err := repo.UpdateTokenStatus(ctx, tx, cur.ID, domain.StatusCompleted); err != nil {
				return err
			}
			cur.Status = domain.StatusCompleted
			superseded = cur
		}

		next, err := repo.NextWaiting(ctx, tx, categoryID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// Empty queue is not a transaction failure: the
				// supersession above must still commit.
				return nil
			}
			return err
		}
		if err := repo.UpdateTokenStatus(ctx, tx, next.ID, domain.StatusCalled); err != nil {
			return err
		}
		next.Status = domain.StatusCalled
		called = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if superseded != nil {
		s.publishUpdate(ctx, actor, superseded)
	}
	if called == nil {
		return nil, ErrNoTokensWaiting
	}
	s.publishUpdate(ctx, actor, called)
	span.SetAttributes(attribute.String("token.id", called.TokenID))
	return called, nil
}

// Complete force-transitions a specific token to completed from any
// non-terminal status. As a side effect it promotes the next lowest-position
// waiting token of the same category into the called slot, but only when
// completion actually freed the slot; completing a waiting token while
// another is being served leaves that service untouched. Returns the
// completed token and the newly called one (nil when the queue is empty).
func (s *QueueService) Complete(ctx context.Context, actor, tokenCode string) (*domain.Token, *domain.Token, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "Complete",
		trace.WithAttributes(attribute.String("token.id", tokenCode)),
	)
	defer span.End()

	tok, err := repo.GetTokenByTokenID(ctx, s.DB, tokenCode)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrTokenNotFound
		}
		return nil, nil, err
	}
	if err := s.Auth.Allow(ctx, actor, ActionComplete, tok.CategoryID); err != nil {
		return nil, nil, err
	}

	release, err := s.Locks.Acquire(tok.CategoryID, s.LockWait)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	var completed, next *domain.Token
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := repo.GetToken(ctx, tx, tok.ID)
		if err != nil {
			return err
		}
		if cur.Terminal() {
			return ErrInvalidTransition
		}
		if err := repo.UpdateTokenStatus(ctx, tx, cur.ID, domain.StatusCompleted); err != nil {
			return err
		}
		cur.Status = domain.StatusCompleted
		completed = cur

		occupied, err := repo.CurrentCalled(ctx, tx, cur.CategoryID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if occupied != nil {
			return nil // slot still busy, no auto-advance
		}
		w, err := repo.NextWaiting(ctx, tx, cur.CategoryID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return err
		}
		if err := repo.UpdateTokenStatus(ctx, tx, w.ID, domain.StatusCalled); err != nil {
			return err
		}
		w.Status = domain.StatusCalled
		next = w
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.publishUpdate(ctx, actor, completed)
	if next != nil {
		s.publishUpdate(ctx, actor, next)
	}
	return completed, next, nil
}

// EmergencyResult reports the outcome of a bulk queue operation.
type EmergencyResult struct {
	Action   string `json:"action"`
	Affected int64  `json:"affected_count"`
}

// Emergency applies a bulk control to one category or, when categoryID is
// empty, to every category:
//
//   - pause: every called token reverts to waiting. Positions are kept, so
//     nothing is lost; the queue simply stops being served.
//   - resume: exactly one token, the lowest-position waiting one, is
//     re-called per affected category whose slot is free.
//   - clear: deletes every token in scope; artifacts cascade, scan history
//     stays. Destructive and deliberately without auto-advance.
//
// Categories are processed in a deterministic order, each under its own
// lock in its own transaction.
func (s *QueueService) Emergency(ctx context.Context, actor, action, categoryID string) (EmergencyResult, error) {
	tr := otel.Tracer("services/QueueService")
	ctx, span := tr.Start(ctx, "Emergency",
		trace.WithAttributes(
			attribute.String("emergency.action", action),
			attribute.String("category.id", categoryID),
		),
	)
	defer span.End()

	switch action {
	case EmergencyPause, EmergencyResume, EmergencyClear:
	default:
		return EmergencyResult{}, ErrInvalidAction
	}
	if err := s.Auth.Allow(ctx, actor, ActionEmergency, categoryID); err != nil {
		return EmergencyResult{}, err
	}

	scope := []string{categoryID}
	if categoryID == "" {
		ids, err := repo.ListCategoryIDs(ctx, s.DB)
		if err != nil {
			return EmergencyResult{}, err
		}
		scope = ids
	} else if _, err := repo.GetCategory(ctx, s.DB, categoryID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return EmergencyResult{}, ErrCategoryNotFound
		}
		return EmergencyResult{}, err
	}

	res := EmergencyResult{Action: action}
	for _, id := range scope {
		n, err := s.emergencyOne(ctx, actor, action, id)
		if err != nil {
			return res, err
		}
		res.Affected += n
	}
	return res, nil
}

// emergencyOne applies one emergency action to a single category under its
// lock.
func (s *QueueService) emergencyOne(ctx context.Context, actor, action, categoryID string) (int64, error) {
	release, err := s.Locks.Acquire(categoryID, s.LockWait)
	if err != nil {
		return 0, err
	}
	defer release()

	var affected int64
	var recalled *domain.Token
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch action {
		case EmergencyPause:
			n, err := repo.PauseCalled(ctx, tx, categoryID)
			affected = n
			return err
		case EmergencyResume:
			if _, err := repo.CurrentCalled(ctx, tx, categoryID); err == nil {
				return nil // already being served
			} else if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			w, err := repo.NextWaiting(ctx, tx, categoryID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return nil
				}
				return err
			}
			if err := repo.UpdateTokenStatus(ctx, tx, w.ID, domain.StatusCalled); err != nil {
				return err
			}
			w.Status = domain.StatusCalled
			recalled = w
			affected = 1
			return nil
		case EmergencyClear:
			n, err := repo.DeleteTokensInScope(ctx, tx, categoryID)
			affected = n
			return err
		}
		return ErrInvalidAction
	})
	if err != nil {
		return 0, err
	}

	switch {
	case recalled != nil:
		s.publishUpdate(ctx, actor, recalled)
	case affected > 0 && action == EmergencyClear:
		s.Events.Publish(ctx, Event{Name: EventQueueCleared, CategoryID: categoryID, Actor: actor})
	case affected > 0:
		s.Events.Publish(ctx, Event{Name: EventTokenUpdated, CategoryID: categoryID, Status: domain.StatusWaiting, Actor: actor})
	}
	return affected, nil
}

// CategoryQueue is one lane of the live queue view.
type CategoryQueue struct {
	Category domain.Category `json:"category"`
	Tokens   []domain.Token  `json:"tokens"`
}

// Live returns the active queue grouped by category, each lane ordered by
// position. An optional categoryID narrows the view to one lane.
func (s *QueueService) Live(ctx context.Context, categoryID string) ([]CategoryQueue, error) {
	var cats []domain.Category
	if categoryID != "" {
		c, err := repo.GetCategory(ctx, s.DB, categoryID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrCategoryNotFound
			}
			return nil, err
		}
		cats = []domain.Category{*c}
	} else {
		var err error
		cats, err = repo.ListCategories(ctx, s.DB)
		if err != nil {
			return nil, err
		}
	}

	out := make([]CategoryQueue, 0, len(cats))
	for _, c := range cats {
		toks, err := repo.ListQueueTokens(ctx, s.DB, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, CategoryQueue{Category: c, Tokens: toks})
	}
	return out, nil
}

// publishUpdate emits a token_updated event for a transition result.
func (s *QueueService) publishUpdate(ctx context.Context, actor string, t *domain.Token) {
	s.Events.Publish(ctx, Event{
		Name:          EventTokenUpdated,
		TokenID:       t.TokenID,
		CategoryID:    t.CategoryID,
		Status:        t.Status,
		QueuePosition: t.QueuePosition,
		Actor:         actor,
	})
}
