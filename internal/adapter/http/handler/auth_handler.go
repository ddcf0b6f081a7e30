package handler

import (
	"context"
	"net/http"
	"sync"

	"htlc-escrow/internal/adapter/http/dto"
	"htlc-escrow/internal/adapter/http/middleware"
	"htlc-escrow/internal/core/ports"
	"htlc-escrow/pkg/apperror"
	"htlc-escrow/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles operator authentication.
type AuthHandler struct {
	authSvc ports.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc ports.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(dto.ValidationMessage(err)))
		return
	}

	token, expiry, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxOperator, req.Username)
	response.OK(c, dto.LoginResponse{
		Token:     token,
		ExpiresAt: expiry.UTC(),
		TokenType: "Bearer",
	})
}

// HealthCheck handles GET /health. Dependencies are pinged concurrently and
// any failure reports the service as degraded.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	type depStatus struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	return func(c *gin.Context) {
		var (
			mu         sync.Mutex
			wg         sync.WaitGroup
			deps       = make(map[string]depStatus, len(checkers))
			allHealthy = true
		)
		for _, checker := range checkers {
			wg.Add(1)
			go func(ctx context.Context, checker ports.HealthChecker) {
				defer wg.Done()
				st := depStatus{Status: "healthy"}
				if err := checker.Ping(ctx); err != nil {
					st = depStatus{Status: "unhealthy", Error: err.Error()}
				}
				mu.Lock()
				defer mu.Unlock()
				deps[checker.Name()] = st
				if st.Error != "" {
					allHealthy = false
				}
			}(c.Request.Context(), checker)
		}
		wg.Wait()

		status, httpCode := "healthy", http.StatusOK
		if !allHealthy {
			status, httpCode = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
