package errors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Code is a machine-checkable reason code carried by every error payload.
type Code string

const (
	CodeValidation          Code = "validation_error"
	CodeUnauthorized        Code = "unauthorized"
	CodeAccessDenied        Code = "access_denied"
	CodeNotFound            Code = "not_found"
	CodeRateLimited         Code = "rate_limited"
	CodeInsufficientCredits Code = "insufficient_credits"
	CodeCreditLimitExceeded Code = "credit_limit_exceeded"
	CodeProviderError       Code = "provider_error"
	CodeServiceUnavailable  Code = "service_unavailable"
	CodeInternal            Code = "internal_error"
)

// CustomError carries a user-facing message, a reason code, the HTTP status
// to respond with, optional structured details, and the wrapped internal
// error for logging.
type CustomError struct {
	Code       Code
	Message    string
	StatusCode int
	Details    map[string]interface{}
	Internal   error
}

func (e *CustomError) Error() string {
	return e.Message
}

func (e *CustomError) Unwrap() error {
	return e.Internal
}

func newError(code Code, message string, statusCode int, internal error) *CustomError {
	return &CustomError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// CodeOf returns the reason code of err, or CodeInternal for plain errors.
func CodeOf(err error) Code {
	if ce, ok := err.(*CustomError); ok {
		return ce.Code
	}
	return CodeInternal
}

func NewValidationError(message string) *CustomError {
	return newError(CodeValidation, message, http.StatusBadRequest, nil)
}

func NewUnauthorizedError() *CustomError {
	return newError(CodeUnauthorized, "Unauthorized access", http.StatusUnauthorized, nil)
}

func NewAccessDeniedError(message string) *CustomError {
	return newError(CodeAccessDenied, message, http.StatusForbidden, nil)
}

func NewNotFoundError(message string) *CustomError {
	return newError(CodeNotFound, message, http.StatusNotFound, nil)
}

func NewRateLimitedError() *CustomError {
	return newError(CodeRateLimited, "Rate limit exceeded. Please wait before sending another message.", http.StatusTooManyRequests, nil)
}

// NewInsufficientCreditsError is the structured denial for both preflight
// and settlement failures; it carries the balances so a UI can prompt for a
// purchase.
func NewInsufficientCreditsError(remaining, required float64) *CustomError {
	err := newError(
		CodeInsufficientCredits,
		fmt.Sprintf("Insufficient credits. You have %.2f credits remaining, this action requires %.2f. Please purchase more credits to continue.", remaining, required),
		http.StatusPaymentRequired,
		nil,
	)
	err.Details = map[string]interface{}{
		"insufficient_credits": true,
		"remaining_credits":    remaining,
		"required_credits":     required,
	}
	return err
}

func NewCreditLimitExceededError(limit float64) *CustomError {
	err := newError(
		CodeCreditLimitExceeded,
		fmt.Sprintf("Adding these credits would exceed your credit limit of %.0f. Please contact support for higher limits.", limit),
		http.StatusBadRequest,
		nil,
	)
	err.Details = map[string]interface{}{"credit_limit": limit}
	return err
}

func NewProviderError(message string, internal error) *CustomError {
	return newError(CodeProviderError, message, http.StatusBadGateway, internal)
}

// NewServiceUnavailableError reports an administrator-fatal condition (no
// active configuration, missing credentials) as distinct from user errors.
func NewServiceUnavailableError(message string) *CustomError {
	return newError(CodeServiceUnavailable, message, http.StatusServiceUnavailable, nil)
}

func New500Error(internal error) *CustomError {
	return newError(CodeInternal, "An unexpected error occurred", http.StatusInternalServerError, internal)
}

// HandleError handles the custom error and sends an appropriate JSON response
func HandleError(c *gin.Context, err error) {
	var customErr *CustomError
	var ok bool

	if customErr, ok = err.(*CustomError); !ok {
		customErr = New500Error(err)
	}

	if customErr.Code == CodeInternal {
		log.Error().
			Err(customErr.Internal).
			Str("url", c.Request.URL.String()).
			Msg("Internal Server Error")
	}

	body := gin.H{
		"code":    customErr.Code,
		"message": customErr.Message,
	}
	for k, v := range customErr.Details {
		body[k] = v
	}

	c.JSON(customErr.StatusCode, gin.H{"error": body})
}

// LogAndReturn500 logs an internal error and returns a 500 error
func LogAndReturn500(internal error) *CustomError {
	log.Error().Err(internal).Msg("Internal Server Error")
	return New500Error(internal)
}
