package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"htlc-escrow/config"
	httpHandler "htlc-escrow/internal/adapter/http/handler"
	"htlc-escrow/internal/adapter/http/middleware"
	"htlc-escrow/internal/adapter/metrics"
	"htlc-escrow/internal/adapter/storage/memory"
	pgStorage "htlc-escrow/internal/adapter/storage/postgres"
	redisStorage "htlc-escrow/internal/adapter/storage/redis"
	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/internal/service"
	"htlc-escrow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// backend groups the storage ports selected by storage.driver.
type backend struct {
	records     ports.RecordRepository
	ledger      ports.TokenLedger
	idempotency ports.IdempotencyRepository
	audit       ports.AuditRepository
	deliveries  ports.EventDeliveryRepository
	transactor  ports.DBTransactor
	health      ports.HealthChecker
	close       func()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		os.Exit(hashPassword(os.Args[2:]))
	}

	// Load configuration
	cfg, err := config.Load(os.Getenv("ESC_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting escrowd")

	ctx := context.Background()

	deriver, err := newDeriver(cfg.Program)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid program configuration")
	}
	if cfg.JWT.Secret == "" {
		log.Warn().Msg("jwt.secret is empty, operator endpoints will reject every token")
	}
	if cfg.Operator.PasswordHash == "" {
		log.Warn().Msg("operator.password_hash is empty, operator login is disabled")
	}

	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	if cfg.Operator.PasswordHash != "" {
		if err := hashSvc.Check(cfg.Operator.PasswordHash); err != nil {
			log.Fatal().Err(err).Msg("Invalid operator.password_hash")
		}
	}
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	prom := metrics.New()

	// Initialize business services
	gateway := service.NewTokenGateway(store.ledger, deriver)
	notifier := service.NewEventNotifier(
		cfg.Webhook.URL,
		cfg.Webhook.Secret,
		sigSvc,
		store.deliveries,
		&http.Client{Timeout: cfg.Webhook.Timeout},
		logger.Component(log, "notifier"),
	)
	processor := service.NewProcessor(
		service.NewEscrowService(store.records, gateway, deriver, cfg.Program.LamportsPerByteYear, logger.Component(log, "escrow")),
		service.NewFeePolicyService(store.records, gateway, deriver, cfg.Program.LamportsPerByteYear, logger.Component(log, "fee_policy")),
		store.idempotency,
		idempotencyCache,
		store.transactor,
		notifier,
		prom,
		logger.Component(log, "processor"),
	)
	authSvc := service.NewAuthService(cfg.Operator.Username, cfg.Operator.PasswordHash, hashSvc, tokenSvc)
	reportingSvc := service.NewReportingService(store.records, store.ledger, deriver)
	ledgerSvc := service.NewLedgerAdminService(store.ledger, store.transactor, deriver, logger.Component(log, "ledger"))
	auditSvc := service.NewAuditService(store.audit, logger.Component(log, "audit"))

	if cfg.Server.Mode == gin.ReleaseMode || cfg.Server.Mode == gin.TestMode {
		gin.SetMode(cfg.Server.Mode)
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Processor:      processor,
		ReportingSvc:   reportingSvc,
		LedgerSvc:      ledgerSvc,
		AuthSvc:        authSvc,
		Verifier:       service.NewEd25519RequestVerifier(),
		NonceStore:     nonceStore,
		TokenSvc:       tokenSvc,
		Deriver:        deriver,
		RateLimitStore: rateLimitStore,
		RateLimits:     rateLimitRules(cfg.RateLimit),
		Envelope: middleware.EnvelopeWindow{
			MaxDrift: cfg.Envelope.MaxClockDrift,
			NonceTTL: cfg.Envelope.NonceTTL,
		},
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		HealthCheckers: []ports.HealthChecker{store.health, redisStorage.NewHealthCheck(rdb)},
		AuditSvc:       auditSvc,
		Metrics:        prom.Handler(),
		Logger:         logger.Component(log, "http"),
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := auditSvc.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Audit writes still pending at exit")
	}
	if err := notifier.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Event deliveries still in flight at exit")
	}

	log.Info().Msg("Server exited")
}

func newDeriver(cfg config.ProgramConfig) (*derive.Deriver, error) {
	program, err := domain.ParsePubkey(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program.program_id: %w", err)
	}
	tokenProgram, err := domain.ParsePubkey(cfg.TokenProgramID)
	if err != nil {
		return nil, fmt.Errorf("program.token_program_id: %w", err)
	}
	associated, err := domain.ParsePubkey(cfg.AssociatedTokenProgramID)
	if err != nil {
		return nil, fmt.Errorf("program.associated_token_program_id: %w", err)
	}
	return derive.NewDeriver(program, tokenProgram, associated), nil
}

func rateLimitRules(cfg config.RateLimitConfig) middleware.RateLimitRules {
	if !cfg.Enabled {
		return middleware.RateLimitRules{}
	}
	rule := func(limit int64) middleware.RateLimitRule {
		return middleware.RateLimitRule{Limit: limit, Window: cfg.Window}
	}
	return middleware.RateLimitRules{
		middleware.GroupInstructions: rule(cfg.Instructions),
		middleware.GroupQueries:      rule(cfg.Queries),
		middleware.GroupLogin:        rule(cfg.Login),
		middleware.GroupLedger:       rule(cfg.Ledger),
		middleware.GroupDashboard:    rule(cfg.Dashboard),
	}
}

func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		log.Warn().Msg("Using in-memory storage, state is lost on restart")
		store := memory.NewStore()
		return &backend{
			records:     memory.NewRecordRepo(store),
			ledger:      memory.NewTokenLedger(store),
			idempotency: memory.NewIdempotencyRepo(store),
			audit:       memory.NewAuditRepo(store),
			deliveries:  memory.NewEventDeliveryRepo(store),
			transactor:  memory.NewTransactor(store),
			health:      memory.HealthCheck{},
			close:       func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("PostgreSQL connected")
	return &backend{
		records:     pgStorage.NewRecordRepo(pool),
		ledger:      pgStorage.NewTokenLedger(pool),
		idempotency: pgStorage.NewIdempotencyRepo(pool),
		audit:       pgStorage.NewAuditRepo(pool),
		deliveries:  pgStorage.NewEventDeliveryRepo(pool),
		transactor:  pgStorage.NewTransactor(pool, cfg.Database.LockTimeout),
		health:      pgStorage.NewHealthCheck(pool),
		close:       pool.Close,
	}, nil
}

// hashPassword prints the Argon2id hash for operator.password_hash.
func hashPassword(args []string) int {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(os.Stderr, "usage: escrowd hash-password <password>")
		return 2
	}
	hash, err := service.NewArgon2HashService().Hash(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashing password: %v\n", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}
