package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog creates an audit middleware that logs successful write operations.
// Handlers may name the affected resource with c.Set(CtxAuditResource, id).
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method != http.MethodPost {
			return
		}

		action, resourceType := mapPathToAction(c.FullPath())
		if action == "" {
			return
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})

		kind, actor := actorOf(c)
		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			RequestID:    c.GetString(CtxRequestID),
			ActorKind:    kind,
			Actor:        actor,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.GetString(CtxAuditResource),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now(),
		})
	}
}

func actorOf(c *gin.Context) (domain.ActorKind, string) {
	if signer, ok := SignerFrom(c); ok {
		return domain.ActorSigner, signer.String()
	}
	if op := c.GetString(CtxOperator); op != "" {
		return domain.ActorOperator, op
	}
	return domain.ActorAnonymous, ""
}

func mapPathToAction(route string) (domain.AuditAction, string) {
	switch route {
	case "/api/v1/instructions":
		return domain.AuditActionInstruction, "instruction"
	case "/api/v1/auth/login":
		return domain.AuditActionLogin, "session"
	case "/api/v1/ledger/accounts":
		return domain.AuditActionCreateAccount, "token_account"
	case "/api/v1/ledger/mint":
		return domain.AuditActionMint, "token_account"
	}
	return "", ""
}
