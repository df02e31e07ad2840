package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/serviora/bookpay/internal/gateway"
	orderdomain "github.com/serviora/bookpay/internal/order/domain"
	policydomain "github.com/serviora/bookpay/internal/policy/domain"
	webhookdomain "github.com/serviora/bookpay/internal/webhook/domain"
)

// APIError is the wire form of a request failure.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Message }

var ErrNotFound = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}

func invalidRequestError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "malformed request body"}
}

func newValidationError(field, code, message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: code, Field: field, Message: message}
}

// AbortWithError translates service errors into HTTP responses. Unmapped
// errors become an opaque 500 so internals never leak to callers.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	message := "internal error"

	switch {
	case errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, policydomain.ErrPolicyNotFound):
		status, code, message = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, orderdomain.ErrConflict):
		status, code, message = http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, orderdomain.ErrInvalidAmount),
		errors.Is(err, orderdomain.ErrInvalidCurrency),
		errors.Is(err, orderdomain.ErrInvalidSchedule),
		errors.Is(err, policydomain.ErrInvalidServiceType),
		errors.Is(err, policydomain.ErrInvalidPercentage),
		errors.Is(err, policydomain.ErrInvalidHours),
		errors.Is(err, policydomain.ErrInvalidTiers),
		errors.Is(err, webhookdomain.ErrSignatureInvalid):
		status, code, message = http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, orderdomain.ErrPaymentVerification),
		errors.Is(err, gateway.ErrGatewayDeclined):
		status, code, message = http.StatusPaymentRequired, "payment_failed", err.Error()
	case errors.Is(err, gateway.ErrGatewayTransient):
		status, code, message = http.StatusBadGateway, "gateway_unavailable", err.Error()
	case errors.Is(err, webhookdomain.ErrUnknownProvider):
		status, code, message = http.StatusNotFound, "not_found", err.Error()
	}

	c.AbortWithStatusJSON(status, gin.H{"error": &APIError{
		Status:  status,
		Code:    code,
		Message: message,
	}})
}
