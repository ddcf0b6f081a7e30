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

// InstructionHandler submits signed instructions to the processor.
type InstructionHandler struct {
	processor ports.InstructionProcessor
}

// NewInstructionHandler creates a new InstructionHandler.
func NewInstructionHandler(processor ports.InstructionProcessor) *InstructionHandler {
	return &InstructionHandler{processor: processor}
}

// Submit handles POST /api/v1/instructions.
func (h *InstructionHandler) Submit(c *gin.Context) {
	signer, ok := middleware.SignerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidSignerKey())
		return
	}

	var headers dto.InstructionHeaders
	if err := c.ShouldBindHeader(&headers); err != nil {
		response.Error(c, apperror.Validation("invalid Idempotency-Key header"))
		return
	}

	var req dto.InstructionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.ValidationMessage(err)))
		return
	}

	accounts := make([]domain.Pubkey, len(req.Accounts))
	for i, a := range req.Accounts {
		pk, err := domain.ParsePubkey(a)
		if err != nil {
			response.Error(c, apperror.Validation(dto.ValidationMessage(err)))
			return
		}
		accounts[i] = pk
	}

	result, err := h.processor.Process(c.Request.Context(), ports.InstructionRequest{
		Signer:         signer,
		Data:           req.Data,
		Accounts:       accounts,
		IdempotencyKey: headers.IdempotencyKey,
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResource, result.Instruction)
	if result.Replayed {
		response.Replayed(c, result)
		return
	}
	response.Created(c, result)
}
