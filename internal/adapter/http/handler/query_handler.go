package handler

import (
	"htlc-escrow/internal/adapter/http/dto"
	"htlc-escrow/internal/core/derive"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"
	"htlc-escrow/pkg/response"

	"github.com/gin-gonic/gin"
)

// QueryHandler serves read-only views of records, balances and addresses.
type QueryHandler struct {
	reportingSvc ports.ReportingService
	deriver      *derive.Deriver
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(reportingSvc ports.ReportingService, deriver *derive.Deriver) *QueryHandler {
	return &QueryHandler{reportingSvc: reportingSvc, deriver: deriver}
}

// GetEscrow handles GET /api/v1/escrows/:payment_hash.
func (h *QueryHandler) GetEscrow(c *gin.Context) {
	hash, err := domain.ParseHash(c.Param("payment_hash"))
	if err != nil {
		response.Error(c, apperror.Validation("payment_hash must be 64 hex characters"))
		return
	}

	view, err := h.reportingSvc.GetEscrow(c.Request.Context(), hash)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// GetPlatformPolicy handles GET /api/v1/policies/platform.
func (h *QueryHandler) GetPlatformPolicy(c *gin.Context) {
	view, err := h.reportingSvc.GetPolicy(c.Request.Context(), domain.PolicyKindPlatform, domain.Pubkey{})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// GetTradePolicy handles GET /api/v1/policies/trade/:collector.
func (h *QueryHandler) GetTradePolicy(c *gin.Context) {
	collector, ok := pubkeyParam(c, "collector")
	if !ok {
		return
	}

	view, err := h.reportingSvc.GetPolicy(c.Request.Context(), domain.PolicyKindTrade, collector)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// GetTokenAccount handles GET /api/v1/accounts/:address.
func (h *QueryHandler) GetTokenAccount(c *gin.Context) {
	address, ok := pubkeyParam(c, "address")
	if !ok {
		return
	}

	acc, err := h.reportingSvc.GetTokenAccount(c.Request.Context(), address)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, acc)
}

// ListTokenAccounts handles GET /api/v1/accounts?owner=.
func (h *QueryHandler) ListTokenAccounts(c *gin.Context) {
	owner, err := domain.ParsePubkey(c.Query("owner"))
	if err != nil {
		response.Error(c, apperror.Validation("owner must be a base58 address"))
		return
	}

	accounts, err := h.reportingSvc.ListTokenAccounts(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	if accounts == nil {
		accounts = []domain.TokenAccount{}
	}
	response.OK(c, dto.TokenAccountListResponse{Owner: owner, Accounts: accounts})
}

// DeriveAddress handles GET /api/v1/addresses.
func (h *QueryHandler) DeriveAddress(c *gin.Context) {
	var q dto.AddressQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(dto.ValidationMessage(err)))
		return
	}

	resp := dto.AddressResponse{Kind: q.Kind}
	switch q.Kind {
	case "escrow":
		hash, _ := domain.ParseHash(q.PaymentHash)
		addr, bump := h.deriver.Escrow(hash)
		resp.Address, resp.Bump = addr, &bump
	case "platform":
		addr, bump := h.deriver.PlatformPolicy()
		resp.Address, resp.Bump = addr, &bump
	case "trade":
		addr, bump := h.deriver.TradePolicy(domain.MustPubkey(q.Collector))
		resp.Address, resp.Bump = addr, &bump
	case "token":
		resp.Address = h.deriver.TokenAccount(domain.MustPubkey(q.Owner), domain.MustPubkey(q.Mint))
	}
	response.OK(c, resp)
}

// pubkeyParam parses a base58 path parameter, writing a validation error on failure.
func pubkeyParam(c *gin.Context, name string) (domain.Pubkey, bool) {
	pk, err := domain.ParsePubkey(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation(name+" must be a base58 address"))
		return domain.Pubkey{}, false
	}
	return pk, true
}
