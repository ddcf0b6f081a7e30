package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"
	"htlc-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Header names for the signed request envelope
	HeaderSigner    = "X-Signer"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderRequestID = "X-Request-ID"

	maxNonceLen     = 128
	maxRequestIDLen = 64

	// Context keys
	CtxSigner        = "signer"
	CtxOperator      = "operator"
	CtxRequestID     = "request_id"
	CtxAuditResource = "audit_resource"
)

// EnvelopeWindow bounds how long a signed request stays acceptable.
type EnvelopeWindow struct {
	MaxDrift time.Duration
	NonceTTL time.Duration
}

// DefaultEnvelopeWindow accepts timestamps within 60s of the server clock
// and remembers nonces for 120s.
func DefaultEnvelopeWindow() EnvelopeWindow {
	return EnvelopeWindow{MaxDrift: 60 * time.Second, NonceTTL: 120 * time.Second}
}

func (w EnvelopeWindow) fresh(ts, now int64) bool {
	drift := now - ts
	if drift < 0 {
		drift = -drift
	}
	return drift <= int64(w.MaxDrift/time.Second)
}

// nonceTTL never drops below the span of accepted timestamps, otherwise a
// request signed slightly in the future could be replayed once its nonce
// expires.
func (w EnvelopeWindow) nonceTTL() time.Duration {
	if span := 2 * w.MaxDrift; w.NonceTTL < span {
		return span
	}
	return w.NonceTTL
}

// SignerAuth verifies the ed25519 request envelope.
// Pipeline: Parse signer -> Check timestamp -> Verify signature -> Claim nonce.
// The nonce is claimed only for authentic requests so a forger cannot burn
// nonces belonging to someone else.
func SignerAuth(
	verifier ports.RequestVerifier,
	nonceStore ports.NonceStore,
	window EnvelopeWindow,
	log zerolog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		signerStr := c.GetHeader(HeaderSigner)
		signature := c.GetHeader(HeaderSignature)
		timestampStr := c.GetHeader(HeaderTimestamp)
		nonce := c.GetHeader(HeaderNonce)

		if signerStr == "" || signature == "" || timestampStr == "" || nonce == "" {
			abort(c, apperror.ErrInvalidSignerKey())
			return
		}
		if len(nonce) > maxNonceLen {
			abort(c, apperror.Validation(fmt.Sprintf("nonce longer than %d bytes", maxNonceLen)))
			return
		}
		signer, err := domain.ParsePubkey(signerStr)
		if err != nil {
			abort(c, apperror.ErrInvalidSignerKey())
			return
		}

		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil || !window.fresh(timestamp, time.Now().Unix()) {
			abort(c, apperror.ErrTimestampExpired())
			return
		}

		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abort(c, apperror.Validation("cannot read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		canonical := verifier.BuildCanonicalString(
			c.Request.Method,
			c.Request.URL.Path,
			timestamp,
			nonce,
			string(bodyBytes),
		)
		if !verifier.Verify(signer, canonical, signature) {
			abort(c, apperror.ErrInvalidSignature())
			return
		}

		isNew, err := nonceStore.CheckAndSet(c.Request.Context(), signer.String(), nonce, window.nonceTTL())
		if err != nil {
			log.Warn().Err(err).Str("signer", signer.String()).Msg("nonce store error, allowing request")
		} else if !isNew {
			abort(c, apperror.ErrNonceUsed())
			return
		}

		c.Set(CtxSigner, signer)
		c.Next()
	}
}

// JWTAuth creates a middleware that validates operator JWT tokens.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tokenStr == "" {
			abort(c, apperror.ErrInvalidToken())
			return
		}

		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil {
			log.Debug().Err(err).Msg("rejected operator token")
			abort(c, apperror.ErrInvalidToken())
			return
		}

		c.Set(CtxOperator, claims.Subject)
		c.Next()
	}
}

// SignerFrom returns the verified signer stored by SignerAuth.
func SignerFrom(c *gin.Context) (domain.Pubkey, bool) {
	v, exists := c.Get(CtxSigner)
	if !exists {
		return domain.Pubkey{}, false
	}
	signer, ok := v.(domain.Pubkey)
	return signer, ok
}

// RequestID propagates X-Request-ID, generating one when absent or unusable.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if !usableRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// usableRequestID accepts short printable ASCII ids so a caller cannot
// inject control characters into logs or response headers.
func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// MaxBodySize limits the request body. Reads past the limit fail, which
// surfaces as a validation error when the handler binds the body.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// RequestLogger logs every HTTP request once the handler chain returns.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = log.Error()
		case status >= http.StatusBadRequest:
			event = log.Warn()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(CtxRequestID))
		if signer, ok := SignerFrom(c); ok {
			event = event.Str("signer", signer.String())
		}
		if op := c.GetString(CtxOperator); op != "" {
			event = event.Str("operator", op)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("http request")
	}
}

// Recovery turns a panic into a SYS_001 response.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Str("request_id", c.GetString(CtxRequestID)).
					Msg("panic recovered")
				abort(c, apperror.InternalError(fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}

func abort(c *gin.Context, err *apperror.AppError) {
	response.Error(c, err)
	c.Abort()
}
