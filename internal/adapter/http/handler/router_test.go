package handler_test

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"htlc-escrow/internal/adapter/http/handler"
	"htlc-escrow/internal/adapter/http/middleware"
	"htlc-escrow/internal/adapter/metrics"
	"htlc-escrow/internal/adapter/storage/memory"
	redisStore "htlc-escrow/internal/adapter/storage/redis"
	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/internal/service"
	"htlc-escrow/pkg/response"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	deriver *derive.Deriver
	audit   *memory.AuditRepo
	key     ed25519.PrivateKey
	signer  domain.Pubkey
	nonce   int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.NewStore()
	ledger := memory.NewTokenLedger(store)
	records := memory.NewRecordRepo(store)
	transactor := memory.NewTransactor(store)
	auditRepo := memory.NewAuditRepo(store)
	deriver := derive.NewDeriver(domain.Pubkey{0xE0}, domain.Pubkey{0xE1}, domain.Pubkey{0xE2})
	gateway := service.NewTokenGateway(ledger, deriver)

	hashSvc := service.NewArgon2HashService()
	passwordHash, err := hashSvc.Hash("operator-password")
	require.NoError(t, err)
	tokenSvc := service.NewJWTTokenService("router-test-secret-key-32-bytes!", time.Hour, "escrowd")

	processor := service.NewProcessor(
		service.NewEscrowService(records, gateway, deriver, 0, log),
		service.NewFeePolicyService(records, gateway, deriver, 0, log),
		memory.NewIdempotencyRepo(store),
		redisStore.NewIdempotencyCache(client),
		transactor,
		nil,
		metrics.New(),
		log,
	)

	router := handler.SetupRouter(handler.RouterDeps{
		Processor:      processor,
		ReportingSvc:   service.NewReportingService(records, ledger, deriver),
		LedgerSvc:      service.NewLedgerAdminService(ledger, transactor, deriver, log),
		AuthSvc:        service.NewAuthService("ops", passwordHash, hashSvc, tokenSvc),
		Verifier:       service.NewEd25519RequestVerifier(),
		NonceStore:     redisStore.NewNonceStore(client),
		TokenSvc:       tokenSvc,
		Deriver:        deriver,
		RateLimitStore: redisStore.NewRateLimitStore(client),
		HealthCheckers: []ports.HealthChecker{memory.HealthCheck{}, redisStore.NewHealthCheck(client)},
		AuditSvc:       service.NewAuditService(auditRepo, log),
		Metrics:        metrics.New().Handler(),
		Logger:         log,
	})

	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x42}, ed25519.SeedSize))
	signer, err := domain.PubkeyFromBytes(key.Public().(ed25519.PublicKey))
	require.NoError(t, err)

	return &testServer{t: t, router: router, deriver: deriver, audit: auditRepo, key: key, signer: signer}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// signed builds a signed instruction envelope with a fresh nonce unless one is given.
func (s *testServer) signed(ix domain.Instruction, idemKey string, nonce string, accounts ...domain.Pubkey) *http.Request {
	s.t.Helper()
	data, err := ix.MarshalBinary()
	require.NoError(s.t, err)
	addrs := make([]string, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.String()
	}
	body, err := json.Marshal(map[string]interface{}{"data": data, "accounts": addrs})
	require.NoError(s.t, err)

	if nonce == "" {
		s.nonce++
		nonce = "n-" + strconv.Itoa(s.nonce)
	}
	ts := time.Now().Unix()
	canonical := service.NewEd25519RequestVerifier().BuildCanonicalString(http.MethodPost, "/api/v1/instructions", ts, nonce, string(body))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderSigner, s.signer.String())
	req.Header.Set(middleware.HeaderSignature, service.SignRequest(s.key, canonical))
	req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(middleware.HeaderNonce, nonce)
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	return req
}

func (s *testServer) login() string {
	s.t.Helper()
	body, _ := json.Marshal(map[string]string{"username": "ops", "password": "operator-password"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(req)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data.Token
}

func TestRouter_PlatformPolicyLifecycle(t *testing.T) {
	s := newTestServer(t)
	platform, _ := s.deriver.PlatformPolicy()
	ix := domain.CreatePolicy{Kind: domain.PolicyKindPlatform, FeeCollector: s.signer, FeeBps: 100}

	w := s.do(s.signed(ix, "platform-init", "", s.signer, platform))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	// Same idempotency key with a fresh nonce replays the stored result.
	w = s.do(s.signed(ix, "platform-init", "", s.signer, platform))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get(response.HeaderReplayed))

	// Without a key the instruction is executed again and rejected.
	w = s.do(s.signed(ix, "", "", s.signer, platform))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ESC_012")

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/policies/platform", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), platform.String())
	assert.Contains(t, w.Body.String(), `"fee_bps":100`)

	assert.Eventually(t, func() bool {
		for _, entry := range s.audit.List() {
			if entry.Action == domain.AuditActionInstruction && entry.Actor == s.signer.String() {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_NonceReplayRejected(t *testing.T) {
	s := newTestServer(t)
	platform, _ := s.deriver.PlatformPolicy()
	ix := domain.CreatePolicy{Kind: domain.PolicyKindPlatform, FeeCollector: s.signer, FeeBps: 100}

	w := s.do(s.signed(ix, "", "fixed", s.signer, platform))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(s.signed(ix, "", "fixed", s.signer, platform))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "SEC_004")
}

func TestRouter_UnsignedInstructionRejected(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructions", bytes.NewReader([]byte(`{"data":"AA==","accounts":[]}`)))
	req.Header.Set("Content-Type", "application/json")

	w := s.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_OperatorLedger(t *testing.T) {
	s := newTestServer(t)
	mint := domain.Pubkey{0x33}

	body, _ := json.Marshal(map[string]string{"owner": s.signer.String(), "mint": mint.String()})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/accounts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)

	token := s.login()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/ledger/accounts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := s.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	ata := s.deriver.TokenAccount(s.signer, mint)
	body, _ = json.Marshal(map[string]interface{}{"address": ata.String(), "amount": 750})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/ledger/mint", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/accounts/"+ata.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"amount":750`)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/addresses?kind=token&owner="+s.signer.String()+"&mint="+mint.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ata.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_escrows":0`)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "memory")

	w = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
