package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"htlc-escrow/internal/adapter/http/dto"
	"htlc-escrow/internal/adapter/http/middleware"
	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/internal/core/ports/mocks"
	"htlc-escrow/pkg/apperror"
	"htlc-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	testSigner = domain.Pubkey{1}
	testMint   = domain.Pubkey{2}
	testHash   = domain.Hash{0xAB}
)

func testDeriver() *derive.Deriver {
	return derive.NewDeriver(domain.Pubkey{0xE0}, domain.Pubkey{0xE1}, domain.Pubkey{0xE2})
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "body: %s", w.Body.String())
	return data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ErrorCode
}

// --- Instruction Handler Tests ---

func instructionContext(w *httptest.ResponseRecorder, body interface{}) *gin.Context {
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/api/v1/instructions", body)
	c.Set(middleware.CtxSigner, testSigner)
	return c
}

func TestSubmit_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockProc := mocks.NewMockInstructionProcessor(ctrl)
	h := NewInstructionHandler(mockProc)

	account := domain.Pubkey{9}
	mockProc.EXPECT().Process(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.InstructionRequest) (*ports.InstructionResult, error) {
			assert.Equal(t, testSigner, req.Signer)
			assert.Equal(t, []byte{byte(domain.TagRefund)}, req.Data)
			assert.Equal(t, []domain.Pubkey{account}, req.Accounts)
			assert.Equal(t, "refund-1", req.IdempotencyKey)
			return &ports.InstructionResult{Instruction: "refund", Tag: domain.TagRefund, Signer: testSigner}, nil
		},
	)

	w := httptest.NewRecorder()
	c := instructionContext(w, dto.InstructionRequest{Data: []byte{byte(domain.TagRefund)}, Accounts: []string{account.String()}})
	c.Request.Header.Set("Idempotency-Key", "refund-1")

	h.Submit(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "refund", decodeData(t, w)["instruction"])
	assert.Equal(t, "refund", c.GetString(middleware.CtxAuditResource))
	assert.Empty(t, w.Header().Get(response.HeaderReplayed))
}

func TestSubmit_Replayed(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockProc := mocks.NewMockInstructionProcessor(ctrl)
	h := NewInstructionHandler(mockProc)

	mockProc.EXPECT().Process(gomock.Any(), gomock.Any()).
		Return(&ports.InstructionResult{Instruction: "claim", Replayed: true}, nil)

	w := httptest.NewRecorder()
	h.Submit(instructionContext(w, dto.InstructionRequest{Data: []byte{1}, Accounts: []string{}}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get(response.HeaderReplayed))
}

func TestSubmit_ProcessorRejection(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockProc := mocks.NewMockInstructionProcessor(ctrl)
	h := NewInstructionHandler(mockProc)

	mockProc.EXPECT().Process(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInvalidPreimage())

	w := httptest.NewRecorder()
	h.Submit(instructionContext(w, dto.InstructionRequest{Data: []byte{1}, Accounts: []string{}}))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperror.CodeInvalidPreimage, errorCode(t, w))
}

func TestSubmit_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   interface{}
		header string
	}{
		{"missing data", map[string]interface{}{"accounts": []string{}}, ""},
		{"data not base64", map[string]interface{}{"data": "***", "accounts": []string{}}, ""},
		{"bad account", map[string]interface{}{"data": "AA==", "accounts": []string{"xyz"}}, ""},
		{"bad idempotency key", map[string]interface{}{"data": "AA==", "accounts": []string{}}, "has space"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			h := NewInstructionHandler(mocks.NewMockInstructionProcessor(ctrl))

			w := httptest.NewRecorder()
			c := instructionContext(w, tt.body)
			if tt.header != "" {
				c.Request.Header.Set("Idempotency-Key", tt.header)
			}
			h.Submit(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "REQ_001", errorCode(t, w))
		})
	}
}

func TestSubmit_NoSigner(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewInstructionHandler(mocks.NewMockInstructionProcessor(ctrl))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/api/v1/instructions", dto.InstructionRequest{Data: []byte{1}})
	h.Submit(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Query Handler Tests ---

func TestGetEscrow(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockReport := mocks.NewMockReportingService(ctrl)
	h := NewQueryHandler(mockReport, testDeriver())

	addr := domain.Pubkey{7}
	mockReport.EXPECT().GetEscrow(gomock.Any(), testHash).Return(&ports.EscrowView{
		Address: addr,
		Status:  "ACTIVE",
		Record:  domain.EscrowRecord{PaymentHash: testHash, NetAmount: 1000},
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "payment_hash", Value: testHash.String()}}
	h.GetEscrow(c)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, addr.String(), data["address"])
	assert.Equal(t, "ACTIVE", data["status"])
}

func TestGetEscrow_BadHash(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewQueryHandler(mocks.NewMockReportingService(ctrl), testDeriver())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "payment_hash", Value: "abc"}}
	h.GetEscrow(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEscrow_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockReport := mocks.NewMockReportingService(ctrl)
	h := NewQueryHandler(mockReport, testDeriver())
	mockReport.EXPECT().GetEscrow(gomock.Any(), testHash).Return(nil, apperror.ErrNotFound("escrow"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "payment_hash", Value: testHash.String()}}
	h.GetEscrow(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "REQ_404", errorCode(t, w))
}

func TestGetPolicies(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockReport := mocks.NewMockReportingService(ctrl)
	h := NewQueryHandler(mockReport, testDeriver())

	collector := domain.Pubkey{5}
	mockReport.EXPECT().GetPolicy(gomock.Any(), domain.PolicyKindPlatform, domain.Pubkey{}).
		Return(&ports.PolicyView{Kind: domain.PolicyKindPlatform}, nil)
	mockReport.EXPECT().GetPolicy(gomock.Any(), domain.PolicyKindTrade, collector).
		Return(&ports.PolicyView{Kind: domain.PolicyKindTrade}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	h.GetPlatformPolicy(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PLATFORM", decodeData(t, w)["kind"])

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "collector", Value: collector.String()}}
	h.GetTradePolicy(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "TRADE", decodeData(t, w)["kind"])
}

func TestGetTradePolicy_BadCollector(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewQueryHandler(mocks.NewMockReportingService(ctrl), testDeriver())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "collector", Value: "short"}}
	h.GetTradePolicy(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTokenAccounts(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockReport := mocks.NewMockReportingService(ctrl)
	h := NewQueryHandler(mockReport, testDeriver())

	owner := domain.Pubkey{3}
	acc := domain.TokenAccount{Address: domain.Pubkey{4}, Owner: owner, Mint: testMint, Amount: 250}
	mockReport.EXPECT().GetTokenAccount(gomock.Any(), acc.Address).Return(&acc, nil)
	mockReport.EXPECT().ListTokenAccounts(gomock.Any(), owner).Return(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "address", Value: acc.Address.String()}}
	h.GetTokenAccount(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 250, decodeData(t, w)["amount"])

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?owner="+owner.String(), nil)
	h.ListTokenAccounts(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decodeData(t, w)["accounts"])
}

func TestDeriveAddress(t *testing.T) {
	deriver := testDeriver()
	collector := domain.Pubkey{5}
	owner := domain.Pubkey{6}

	escrowAddr, _ := deriver.Escrow(testHash)
	platformAddr, _ := deriver.PlatformPolicy()
	tradeAddr, _ := deriver.TradePolicy(collector)
	tokenAddr := deriver.TokenAccount(owner, testMint)

	tests := []struct {
		name    string
		query   string
		status  int
		address domain.Pubkey
		hasBump bool
	}{
		{"escrow", "kind=escrow&payment_hash=" + testHash.String(), http.StatusOK, escrowAddr, true},
		{"platform", "kind=platform", http.StatusOK, platformAddr, true},
		{"trade", "kind=trade&collector=" + collector.String(), http.StatusOK, tradeAddr, true},
		{"token", "kind=token&owner=" + owner.String() + "&mint=" + testMint.String(), http.StatusOK, tokenAddr, false},
		{"escrow without hash", "kind=escrow", http.StatusBadRequest, domain.Pubkey{}, false},
		{"trade without collector", "kind=trade", http.StatusBadRequest, domain.Pubkey{}, false},
		{"token without mint", "kind=token&owner=" + owner.String(), http.StatusBadRequest, domain.Pubkey{}, false},
		{"unknown kind", "kind=vault", http.StatusBadRequest, domain.Pubkey{}, false},
		{"bad collector", "kind=trade&collector=zz", http.StatusBadRequest, domain.Pubkey{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			h := NewQueryHandler(mocks.NewMockReportingService(ctrl), deriver)

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/addresses?"+tt.query, nil)
			h.DeriveAddress(c)

			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				assert.Equal(t, "REQ_001", errorCode(t, w))
				return
			}
			data := decodeData(t, w)
			assert.Equal(t, tt.address.String(), data["address"])
			_, hasBump := data["bump"]
			assert.Equal(t, tt.hasBump, hasBump)
		})
	}
}

// --- Ledger Handler Tests ---

func TestOpenAccount(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLedger := mocks.NewMockLedgerAdminService(ctrl)
	h := NewLedgerHandler(mockLedger)

	owner := domain.Pubkey{3}
	addr := domain.Pubkey{4}
	mockLedger.EXPECT().OpenAccount(gomock.Any(), owner, testMint).
		Return(&domain.TokenAccount{Address: addr, Owner: owner, Mint: testMint}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/", dto.OpenAccountRequest{Owner: owner.String(), Mint: testMint.String()})
	h.OpenAccount(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, addr.String(), c.GetString(middleware.CtxAuditResource))
}

func TestOpenAccount_AlreadyExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLedger := mocks.NewMockLedgerAdminService(ctrl)
	h := NewLedgerHandler(mockLedger)
	mockLedger.EXPECT().OpenAccount(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, apperror.ErrAlreadyInitialized())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/", dto.OpenAccountRequest{Owner: testSigner.String(), Mint: testMint.String()})
	h.OpenAccount(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFund(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockLedger := mocks.NewMockLedgerAdminService(ctrl)
	h := NewLedgerHandler(mockLedger)

	addr := domain.Pubkey{4}
	mockLedger.EXPECT().Fund(gomock.Any(), addr, uint64(500)).
		Return(&domain.TokenAccount{Address: addr, Amount: 500}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/", dto.FundRequest{Address: addr.String(), Amount: 500})
	h.Fund(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 500, decodeData(t, w)["amount"])
}

func TestFund_ZeroAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewLedgerHandler(mocks.NewMockLedgerAdminService(ctrl))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/", map[string]interface{}{"address": testSigner.String(), "amount": 0})
	h.Fund(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Auth Handler Tests ---

func TestLogin_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)

	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	mockAuth.EXPECT().Login(gomock.Any(), "ops", "hunter22").Return("jwt-token", expiry, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{Username: "ops", Password: "hunter22"})
	h.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "jwt-token", data["token"])
	assert.Equal(t, "Bearer", data["token_type"])
	assert.Equal(t, "2030-01-01T00:00:00Z", data["expires_at"])
	assert.Equal(t, "ops", c.GetString(middleware.CtxOperator), "login is audited as the operator")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAuth := mocks.NewMockAuthService(ctrl)
	h := NewAuthHandler(mockAuth)
	mockAuth.EXPECT().Login(gomock.Any(), gomock.Any(), gomock.Any()).Return("", time.Time{}, apperror.ErrInvalidCredentials())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/", dto.LoginRequest{Username: "ops", Password: "wrong"})
	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_001", errorCode(t, w))
}

func TestLogin_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewAuthHandler(mocks.NewMockAuthService(ctrl))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/", map[string]string{})
	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Dashboard Handler Tests ---

func TestGetStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockReport := mocks.NewMockReportingService(ctrl)
	h := NewDashboardHandler(mockReport)

	mockReport.EXPECT().GetDashboardStats(gomock.Any()).Return(&ports.EscrowStats{
		TotalEscrows: 3, Active: 1, Claimed: 1, Refunded: 1, ValueLocked: 1015, PlatformPolicy: true,
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	h.GetStats(c)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.EqualValues(t, 3, data["total_escrows"])
	assert.EqualValues(t, 1015, data["value_locked"])
}

func TestGetStats_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockReport := mocks.NewMockReportingService(ctrl)
	h := NewDashboardHandler(mockReport)
	mockReport.EXPECT().GetDashboardStats(gomock.Any()).Return(nil, apperror.InternalError(errors.New("db down")))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	h.GetStats(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// --- Health & docs ---

func TestHealthCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	healthy := mocks.NewMockHealthChecker(ctrl)
	healthy.EXPECT().Name().Return("postgres").AnyTimes()
	healthy.EXPECT().Ping(gomock.Any()).Return(nil).AnyTimes()
	broken := mocks.NewMockHealthChecker(ctrl)
	broken.EXPECT().Name().Return("redis").AnyTimes()
	broken.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused")).AnyTimes()

	r := gin.New()
	r.GET("/ok", HealthCheck(healthy))
	r.GET("/degraded", HealthCheck(healthy, broken))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/degraded", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestSwaggerSpec(t *testing.T) {
	r := gin.New()
	r.GET("/swagger/spec", SwaggerSpec)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/spec", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "openapi:"))
	assert.Contains(t, w.Body.String(), "/api/v1/instructions")

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req := httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestSwaggerUI(t *testing.T) {
	r := gin.New()
	r.GET("/swagger", SwaggerUI)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "url: '/swagger/spec'")
}
