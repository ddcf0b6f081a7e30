// Package response writes the JSON envelopes shared by every escrowd endpoint.
package response

import (
	"errors"
	"net/http"
	"time"

	"htlc-escrow/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderReplayed marks a response served from a stored idempotent result.
const HeaderReplayed = "Idempotent-Replayed"

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the standard error envelope. Condition repeats the numeric
// program condition for ESC_ codes so clients can switch on it directly.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Condition *int   `json:"condition,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) {
	success(c, http.StatusOK, data)
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) {
	success(c, http.StatusCreated, data)
}

// Replayed sends a 200 response whose data is a previously stored result.
func Replayed(c *gin.Context, stored interface{}) {
	c.Header(HeaderReplayed, "true")
	success(c, http.StatusOK, stored)
}

// Error maps err onto its AppError envelope. Anything else is a SYS_000 500
// with no internal detail.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorCode: "SYS_000",
			Message:   "Internal server error",
			RequestID: requestID(c),
			Timestamp: now(),
		})
		return
	}

	if appErr.HTTPStatus == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Condition: programCondition(appErr),
		Message:   appErr.Message,
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func programCondition(err *apperror.AppError) *int {
	if v, ok := err.Condition(); ok {
		return &v
	}
	return nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// requestID returns the id set by the RequestID middleware, or a fresh one.
func requestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return uuid.New().String()
}
