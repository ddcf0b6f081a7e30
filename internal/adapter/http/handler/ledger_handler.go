package handler

import (
	"htlc-escrow/internal/adapter/http/dto"
	"htlc-escrow/internal/adapter/http/middleware"
	"htlc-escrow/internal/core/domain"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"
	"htlc-escrow/pkg/response"

	"github.com/gin-gonic/gin"
)

// LedgerHandler exposes operator-only token ledger administration.
type LedgerHandler struct {
	ledgerSvc ports.LedgerAdminService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerSvc ports.LedgerAdminService) *LedgerHandler {
	return &LedgerHandler{ledgerSvc: ledgerSvc}
}

// OpenAccount handles POST /api/v1/ledger/accounts.
func (h *LedgerHandler) OpenAccount(c *gin.Context) {
	var req dto.OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.ValidationMessage(err)))
		return
	}

	acc, err := h.ledgerSvc.OpenAccount(c.Request.Context(), domain.MustPubkey(req.Owner), domain.MustPubkey(req.Mint))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResource, acc.Address.String())
	response.Created(c, acc)
}

// Fund handles POST /api/v1/ledger/mint.
func (h *LedgerHandler) Fund(c *gin.Context) {
	var req dto.FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.ValidationMessage(err)))
		return
	}

	acc, err := h.ledgerSvc.Fund(c.Request.Context(), domain.MustPubkey(req.Address), req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResource, acc.Address.String())
	response.OK(c, acc)
}
