// Package services – TokenService
//
// This file implements TokenService, the component that owns the token
// lifecycle: issuance (id allocation, queue position assignment, synchronous
// QR generation), explicit status transitions, and deletion. Identity and
// position assignment read shared per-category state, so every mutation runs
// under the category lock and inside a transaction; issuance either fully
// succeeds (token + artifact) or fully rolls back.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// category and token identifiers.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/AishaRafeeq/go-token-backend/internal/config"
	"github.com/AishaRafeeq/go-token-backend/internal/domain"
	"github.com/AishaRafeeq/go-token-backend/internal/qr"
	"github.com/AishaRafeeq/go-token-backend/internal/repo"
)

// maxTokenIDLen bounds manual codes to the column width.
const maxTokenIDLen = 32

// transitions is the forward-only lifecycle edge table. Absent entries are
// invalid; there are no backward edges.
var transitions = map[string]map[string]bool{
	domain.StatusWaiting: {
		domain.StatusCalled:    true,
		domain.StatusCompleted: true, // bypass for clears and manual overrides
	},
	domain.StatusCalled: {
		domain.StatusCompleted: true,
	},
}

// upperCaser folds the category initial to its uppercase form, including for
// non-ASCII category names.
var upperCaser = cases.Upper(language.Und)

// validTransition reports whether from -> to is an allowed lifecycle edge.
func validTransition(from, to string) bool {
	return transitions[from][to]
}

// TokenService coordinates token issuance, transitions, and deletion.
type TokenService struct {
	DB     *gorm.DB
	Policy config.QRPolicy
	Auth   Authorizer
	Events Publisher
	Locks  *CategoryLocks

	// LockWait bounds category lock acquisition; 0 uses the default.
	LockWait time.Duration

	// Now allows tests to pin the clock. Defaults to time.Now UTC.
	Now func() time.Time
}

// NewTokenService constructs a TokenService with default collaborators.
func NewTokenService(db *gorm.DB, pol config.QRPolicy, locks *CategoryLocks) *TokenService {
	return &TokenService{
		DB:     db,
		Policy: pol,
		Auth:   AllowAll{},
		Events: NopPublisher{},
		Locks:  locks,
	}
}

// now returns the service clock in UTC.
func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Issued bundles the result of a successful creation. QR is nil for manual
// tokens, which never receive an artifact.
type Issued struct {
	Token *domain.Token
	QR    *domain.QRCode
}

// Create issues a new token in the given category.
//
// Semantics:
//   - source is one of public, admin, manual; empty defaults to public.
//   - Generated ids are "<CategoryInitial><NNN>": the uppercased first
//     character of the category name plus a zero-padded sequence one above
//     the highest existing suffix for that category.
//   - manual source requires explicitID, which is stored verbatim after a
//     global uniqueness check (ErrTokenIDTaken on collision) and never
//     triggers QR issuance. Non-manual sources reject explicitID.
//   - Queue position is 1 + max(position among non-terminal tokens of the
//     category), so the first token of a category gets position 1.
//   - For non-manual sources the QR artifact is generated synchronously in
//     the same transaction; a render or persist failure rolls back the whole
//     creation.
//
// Concurrency: the id/position reads and the inserts run under the category
// lock; concurrent creates in one category serialize or fail with
// ErrContention after the bounded wait.
func (s *TokenService) Create(ctx context.Context, actor, categoryID, source, explicitID string) (*Issued, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("category.id", categoryID),
			attribute.String("token.source", source),
		),
	)
	defer span.End()

	if source == "" {
		source = domain.SourcePublic
	}
	switch source {
	case domain.SourcePublic, domain.SourceAdmin, domain.SourceManual:
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidTokenID, source)
	}
	action := ActionIssue
	if source == domain.SourceManual {
		action = ActionManualEntry
	}
	if err := s.Auth.Allow(ctx, actor, action, categoryID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(categoryID) == "" {
		return nil, ErrInvalidCategory
	}

	explicitID = strings.TrimSpace(explicitID)
	if source == domain.SourceManual {
		if explicitID == "" || len(explicitID) > maxTokenIDLen {
			return nil, ErrInvalidTokenID
		}
	} else if explicitID != "" {
		return nil, fmt.Errorf("%w: explicit ids require manual source", ErrInvalidTokenID)
	}

	cat, err := repo.GetCategory(ctx, s.DB, categoryID)
	if err != nil {
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

	now := s.now()
	out := &Issued{}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code := explicitID
		if source != domain.SourceManual {
			code, err = allocateTokenID(ctx, tx, cat)
			if err != nil {
				return err
			}
		} else {
			taken, err := repo.TokenIDExists(ctx, tx, code)
			if err != nil {
				return err
			}
			if taken {
				return ErrTokenIDTaken
			}
		}

		maxPos, err := repo.MaxActivePosition(ctx, tx, categoryID)
		if err != nil {
			return err
		}

		tok := &domain.Token{
			ID:            uuid.NewString(),
			TokenID:       code,
			CategoryID:    categoryID,
			QueuePosition: maxPos + 1,
			Status:        domain.StatusWaiting,
			Source:        source,
			IssuedAt:      now,
			UpdatedAt:     now,
			IssuedBy:      actor,
		}
		if err := repo.CreateToken(ctx, tx, tok); err != nil {
			return err
		}
		out.Token = tok

		if source == domain.SourceManual {
			return nil
		}

		payload := qr.Build(tok, cat, now, s.Policy)
		checksum, err := qr.Checksum(payload)
		if err != nil {
			return err
		}
		img, err := qr.Render(payload, s.Policy)
		if err != nil {
			return fmt.Errorf("qr issuance: %w", err)
		}
		raw, err := payload.Marshal()
		if err != nil {
			return err
		}
		art := &domain.QRCode{
			ID:            uuid.NewString(),
			TokenID:       tok.ID,
			CategoryID:    cat.ID,
			CategoryName:  cat.Name,
			CategoryColor: cat.Color,
			GeneratedAt:   now,
			ExpiresAt:     payload.ExpiresAt,
			Checksum:      checksum,
			Payload:       string(raw),
			Image:         img,
			Format:        s.Policy.Format,
			Status:        domain.QRStatusValid,
			CreatedBy:     actor,
		}
		if err := repo.CreateQRCode(ctx, tx, art); err != nil {
			return err
		}
		out.QR = art
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("token.id", out.Token.TokenID))
	s.Events.Publish(ctx, Event{
		Name:          EventTokenCreated,
		TokenID:       out.Token.TokenID,
		CategoryID:    categoryID,
		Status:        out.Token.Status,
		QueuePosition: out.Token.QueuePosition,
		Actor:         actor,
	})
	return out, nil
}

// allocateTokenID mints the next generated code for a category: uppercase
// initial plus the zero-padded successor of the highest existing suffix.
// When the candidate collides with a manual code the suffix keeps advancing
// until a free code is found.
func allocateTokenID(ctx context.Context, tx *gorm.DB, cat *domain.Category) (string, error) {
	name := strings.TrimSpace(cat.Name)
	if name == "" {
		return "", ErrInvalidCategory
	}
	prefix := upperCaser.String(string([]rune(name)[:1]))

	next, err := repo.MaxTokenSuffix(ctx, tx, cat.ID, prefix)
	if err != nil {
		return "", err
	}
	for {
		next++
		code := fmt.Sprintf("%s%03d", prefix, next)
		taken, err := repo.TokenIDExists(ctx, tx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
}

// Transition moves a token along a lifecycle edge. Invalid edges yield
// ErrInvalidTransition; moving into the called slot while it is occupied by
// another token yields ErrCalledSlotBusy. The check and the write run under
// the category lock inside one transaction.
func (s *TokenService) Transition(ctx context.Context, actor, tokenCode, target string) (*domain.Token, error) {
	tr := otel.Tracer("services/TokenService")
	ctx, span := tr.Start(ctx, "Transition",
		trace.WithAttributes(
			attribute.String("token.id", tokenCode),
			attribute.String("token.target", target),
		),
	)
	defer span.End()

	switch target {
	case domain.StatusCalled, domain.StatusCompleted:
	default:
		return nil, ErrInvalidTransition
	}
	action := ActionComplete
	if target == domain.StatusCalled {
		action = ActionCallNext
	}

	tok, err := repo.GetTokenByTokenID(ctx, s.DB, tokenCode)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if err := s.Auth.Allow(ctx, actor, action, tok.CategoryID); err != nil {
		return nil, err
	}

	release, err := s.Locks.Acquire(tok.CategoryID, s.LockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-read inside the lock; the earlier read may be stale.
		cur, err := repo.GetToken(ctx, tx, tok.ID)
		if err != nil {
			return err
		}
		if !validTransition(cur.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, target)
		}
		if target == domain.StatusCalled {
			occupied, err := repo.CurrentCalled(ctx, tx, cur.CategoryID)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if occupied != nil && occupied.ID != cur.ID {
				return ErrCalledSlotBusy
			}
		}
		if err := repo.UpdateTokenStatus(ctx, tx, cur.ID, target); err != nil {
			return err
		}
		tok = cur
		tok.Status = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Events.Publish(ctx, Event{
		Name:          EventTokenUpdated,
		TokenID:       tok.TokenID,
		CategoryID:    tok.CategoryID,
		Status:        tok.Status,
		QueuePosition: tok.QueuePosition,
		Actor:         actor,
	})
	return tok, nil
}

// Delete removes a token and, through the schema cascade, its QR artifact.
// Scan history referencing the artifact is retained as evidence.
func (s *TokenService) Delete(ctx context.Context, actor, tokenCode string) error {
	tok, err := repo.GetTokenByTokenID(ctx, s.DB, tokenCode)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTokenNotFound
		}
		return err
	}
	if err := s.Auth.Allow(ctx, actor, ActionEmergency, tok.CategoryID); err != nil {
		return err
	}

	release, err := s.Locks.Acquire(tok.CategoryID, s.LockWait)
	if err != nil {
		return err
	}
	defer release()

	if err := repo.DeleteToken(ctx, s.DB, tok.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTokenNotFound
		}
		return err
	}
	s.Events.Publish(ctx, Event{
		Name:       EventTokenUpdated,
		TokenID:    tok.TokenID,
		CategoryID: tok.CategoryID,
		Status:     "deleted",
		Actor:      actor,
	})
	return nil
}

// Status bundles the token with its artifact and last scan, for the status
// overview endpoint. QR and LastScan are nil when absent.
type Status struct {
	Token    *domain.Token
	QR       *domain.QRCode
	LastScan *domain.QRScan
}

// GetStatus resolves a token by public code together with its most recent
// artifact and scan evidence.
func (s *TokenService) GetStatus(ctx context.Context, tokenCode string) (*Status, error) {
	tok, err := repo.GetTokenByTokenID(ctx, s.DB, tokenCode)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	out := &Status{Token: tok}

	art, err := repo.LatestQRForToken(ctx, s.DB, tok.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if art != nil {
		out.QR = art
		scan, err := repo.LastScanForQR(ctx, s.DB, art.ID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		out.LastScan = scan
	}
	return out, nil
}

// ListActive returns a page of non-terminal tokens ordered by position,
// with the total for pagination metadata.
func (s *TokenService) ListActive(ctx context.Context, categoryID, status string, page, pageSize int) ([]domain.Token, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountActiveTokens(ctx, s.DB, categoryID, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Token{}, 0, nil
	}
	items, err := repo.ListActiveTokens(ctx, s.DB, categoryID, status, (page-1)*pageSize, pageSize)
	return items, total, err
}
