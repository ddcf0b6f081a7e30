package middleware

import (
	"context"
	"strconv"
	"time"

	redisStore "htlc-escrow/internal/adapter/storage/redis"
	"htlc-escrow/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Endpoint groups with independent limits.
const (
	GroupInstructions = "instructions"
	GroupQueries      = "queries"
	GroupLogin        = "auth_login"
	GroupLedger       = "ledger"
	GroupDashboard    = "dashboard"
)

// RateLimitRule allows Limit requests per Window.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// RateLimitRules maps an endpoint group to its rule. Groups without a rule,
// or with a non-positive limit, are not limited.
type RateLimitRules map[string]RateLimitRule

// DefaultRateLimitRules returns the per-minute limits used when none are
// configured.
func DefaultRateLimitRules() RateLimitRules {
	return RateLimitRules{
		GroupInstructions: {Limit: 100, Window: time.Minute},
		GroupQueries:      {Limit: 300, Window: time.Minute},
		GroupLogin:        {Limit: 10, Window: time.Minute},
		GroupLedger:       {Limit: 30, Window: time.Minute},
		GroupDashboard:    {Limit: 60, Window: time.Minute},
	}
}

// RateCounter counts requests per key in fixed windows.
type RateCounter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redisStore.RateLimitResult, error)
}

// For returns the limiter for group, or a pass-through handler when there is
// no counter or the group is unlimited.
func (r RateLimitRules) For(counter RateCounter, group string, log zerolog.Logger) gin.HandlerFunc {
	rule, ok := r[group]
	if counter == nil || !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return RateLimiter(counter, group, rule, log)
}

// RateLimiter counts each request against the caller's key for group and
// rejects it with RATE_001 once the window is spent. Counter failures let the
// request through.
func RateLimiter(counter RateCounter, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := group + ":" + callerKey(c)

		result, err := counter.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := max(result.ResetAt-time.Now().Unix(), 1)
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			log.Debug().Str("group", group).Str("key", key).Msg("rate limit exceeded")
			abort(c, apperror.ErrRateLimitExceeded())
			return
		}

		c.Next()
	}
}

// callerKey keys the limit by signer, then operator, then client IP.
// The signer header is read before SignerAuth runs, so unauthenticated floods
// are still counted against the key they claim.
func callerKey(c *gin.Context) string {
	if signer := c.GetHeader(HeaderSigner); signer != "" {
		return "signer:" + signer
	}
	if op := c.GetString(CtxOperator); op != "" {
		return "operator:" + op
	}
	return "ip:" + c.ClientIP()
}
