// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for the token issue endpoint.
// It validates an Idempotency-Key request header, optionally performs a
// caller-supplied lookup to detect previously completed issuances, and
// annotates the request context so downstream handlers can:
//   - read the normalized key (GetIdempotencyKey)
//   - detect replayed requests (IsReplay)
//   - bypass rate limiting when a replay is served (internal flag)
//
// Persistence stays decoupled behind the narrow IdempotencyLookup function
// type; this middleware owns only the transport concerns.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for unsafe operations such as POST /tokens.
//
// The value is expected to be stable for a given semantic operation so that
// retries (network, client, or server initiated) deduplicate safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state. Unexported and
// reached only through the accessor helpers.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored replay exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates
// presence. Handlers should prefer this over reading the header directly.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware detected that this request would
// replay a previously completed issuance. When true, handlers and the rate
// limiter may short-circuit and serve the persisted result.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation for IdempotencyValidator.
// TTL enforcement happens inside the provided lookup, not here.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative
	// RFC7230-like token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a still-valid issuance exists for
// (actorID, key) at the given time. Implementations typically consult the
// idempotency table, honoring its TTL window.
//
// Return exists=true when the prior response can be replayed; return an
// error only for lookup failures (which must not block normal processing).
type IdempotencyLookup func(ctx context.Context, actorID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it in the request context, and optionally checks for a prior
// completed issuance via the supplied lookup. On a detected replay it sets
// the replay and rate-bypass flags; the handler stays in control of how the
// replayed payload is served.
//
// An absent header makes the middleware a no-op; a malformed header gets a
// 400 with a compact error body.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			actor := actorFromCtx(c)
			now := time.Now().UTC()

			exists, err := lookup(c.Request.Context(), actor, key, now)
			switch {
			case err != nil:
				// A broken store must not reject the request; the
				// handler's own replay check still runs.
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case exists:
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// actorFromCtx extracts the acting identity from the Gin context as set by
// upstream authentication middleware, falling back to the X-Actor-ID header
// and finally "anonymous".
func actorFromCtx(c *gin.Context) string {
	if v, ok := c.Get("actorID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if h := c.GetHeader("X-Actor-ID"); h != "" {
		return h
	}
	return "anonymous"
}
