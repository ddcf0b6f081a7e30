package handler

import (
	"net/http"

	"htlc-escrow/internal/adapter/http/middleware"
	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Processor      ports.InstructionProcessor
	ReportingSvc   ports.ReportingService
	LedgerSvc      ports.LedgerAdminService
	AuthSvc        ports.AuthService
	Verifier       ports.RequestVerifier
	NonceStore     ports.NonceStore
	TokenSvc       ports.TokenService
	Deriver        *derive.Deriver
	RateLimitStore middleware.RateCounter // nil = rate limiting disabled
	RateLimits     middleware.RateLimitRules
	Envelope       middleware.EnvelopeWindow
	MaxBodyBytes   int64
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Metrics        http.Handler       // nil = no /metrics endpoint
	Logger         zerolog.Logger
}

const defaultMaxBodyBytes = 1 << 20

// SetupRouter initialises the Gin engine with all routes and middleware.
// Zero-valued limits in deps fall back to the package defaults.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.RateLimits == nil {
		deps.RateLimits = middleware.DefaultRateLimitRules()
	}
	if deps.Envelope.MaxDrift <= 0 {
		deps.Envelope = middleware.DefaultEnvelopeWindow()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(deps.MaxBodyBytes))

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rl := func(group string) gin.HandlerFunc {
		return deps.RateLimits.For(deps.RateLimitStore, group, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Signed instructions ---
	signerAuth := middleware.SignerAuth(deps.Verifier, deps.NonceStore, deps.Envelope, deps.Logger)
	instructionHandler := NewInstructionHandler(deps.Processor)
	v1.POST("/instructions", rl(middleware.GroupInstructions), signerAuth, instructionHandler.Submit)

	// --- Public queries ---
	queryHandler := NewQueryHandler(deps.ReportingSvc, deps.Deriver)
	queries := v1.Group("", rl(middleware.GroupQueries))
	{
		queries.GET("/escrows/:payment_hash", queryHandler.GetEscrow)
		queries.GET("/policies/platform", queryHandler.GetPlatformPolicy)
		queries.GET("/policies/trade/:collector", queryHandler.GetTradePolicy)
		queries.GET("/accounts", queryHandler.ListTokenAccounts)
		queries.GET("/accounts/:address", queryHandler.GetTokenAccount)
		queries.GET("/addresses", queryHandler.DeriveAddress)
	}

	authHandler := NewAuthHandler(deps.AuthSvc)
	v1.POST("/auth/login", rl(middleware.GroupLogin), authHandler.Login)

	// --- JWT-authenticated routes (operator) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	ledgerHandler := NewLedgerHandler(deps.LedgerSvc)
	dashboardHandler := NewDashboardHandler(deps.ReportingSvc)

	ledger := v1.Group("/ledger", jwtAuth, rl(middleware.GroupLedger))
	{
		ledger.POST("/accounts", ledgerHandler.OpenAccount)
		ledger.POST("/mint", ledgerHandler.Fund)
	}

	dashboard := v1.Group("/dashboard", jwtAuth, rl(middleware.GroupDashboard))
	{
		dashboard.GET("/stats", dashboardHandler.GetStats)
	}

	return r
}
