package agentpay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes carried by the typed errors
const (
	ErrCodeBudgetExceeded  = "budget_exceeded"
	ErrCodePaymentDeclined = "payment_declined"
	ErrCodeApprovalTimeout = "approval_timeout"
	ErrCodeRateLimit       = "rate_limit"
	ErrCodeInvalidResponse = "invalid_response"
)

// ErrRequestFailed is returned when the transport gave up without capturing a cause
var ErrRequestFailed = errors.New("agentpay: request failed")

// APIError is the generic failure for a non-success response.
// Every domain error below unwraps to an *APIError.
type APIError struct {
	Message    string
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("agentpay: %s (status %d)", e.Message, e.StatusCode)
}

// NewAPIError creates a generic API error
func NewAPIError(message string, statusCode int, code string) *APIError {
	return &APIError{Message: message, StatusCode: statusCode, Code: code}
}

// BudgetExceededError is returned when a submission is rejected with 402
type BudgetExceededError struct {
	APIError
	Reason string
}

func NewBudgetExceededError(message, reason string) *BudgetExceededError {
	if message == "" {
		message = "Budget exceeded"
	}
	return &BudgetExceededError{
		APIError: APIError{Message: message, StatusCode: http.StatusPaymentRequired, Code: ErrCodeBudgetExceeded},
		Reason:   reason,
	}
}

func (e *BudgetExceededError) Unwrap() error { return &e.APIError }

// PaymentDeclinedError is returned when the transaction reaches the declined state
type PaymentDeclinedError struct {
	APIError
}

func NewPaymentDeclinedError(message string) *PaymentDeclinedError {
	if message == "" {
		message = "Payment declined"
	}
	return &PaymentDeclinedError{
		APIError: APIError{Message: message, StatusCode: http.StatusPaymentRequired, Code: ErrCodePaymentDeclined},
	}
}

func (e *PaymentDeclinedError) Unwrap() error { return &e.APIError }

// TimeoutSource tells which side gave up on an approval
type TimeoutSource string

const (
	// TimeoutSourceServer means the service reported the transaction as timed_out
	TimeoutSourceServer TimeoutSource = "server"
	// TimeoutSourceDeadline means the client stopped polling at its own deadline
	TimeoutSourceDeadline TimeoutSource = "deadline"
)

// ApprovalTimeoutError is returned when an approval never resolved.
// Source distinguishes a server-reported timeout from the local polling deadline.
type ApprovalTimeoutError struct {
	APIError
	Source TimeoutSource
}

func NewApprovalTimeoutError(message string, source TimeoutSource) *ApprovalTimeoutError {
	if message == "" {
		message = "Approval timed out"
	}
	return &ApprovalTimeoutError{
		APIError: APIError{Message: message, StatusCode: http.StatusRequestTimeout, Code: ErrCodeApprovalTimeout},
		Source:   source,
	}
}

func (e *ApprovalTimeoutError) Unwrap() error { return &e.APIError }

// RateLimitError is returned on 429. RetryAfter is the server hint in seconds, if any.
type RateLimitError struct {
	APIError
	RetryAfter *int
}

func NewRateLimitError(message string, retryAfter *int) *RateLimitError {
	if message == "" {
		message = "Too many requests"
	}
	return &RateLimitError{
		APIError:   APIError{Message: message, StatusCode: http.StatusTooManyRequests, Code: ErrCodeRateLimit},
		RetryAfter: retryAfter,
	}
}

func (e *RateLimitError) Unwrap() error { return &e.APIError }

// ResponseSchemaError is returned when a success response breaks the wire contract
type ResponseSchemaError struct {
	APIError
	MissingFields []string
}

func NewResponseSchemaError(statusCode int, missing []string, cause error) *ResponseSchemaError {
	msg := "invalid response body"
	switch {
	case cause != nil:
		msg = fmt.Sprintf("invalid response body: %v", cause)
	case len(missing) > 0:
		msg = "response missing required fields: " + strings.Join(missing, ", ")
	}
	return &ResponseSchemaError{
		APIError:      APIError{Message: msg, StatusCode: statusCode, Code: ErrCodeInvalidResponse},
		MissingFields: missing,
	}
}

func (e *ResponseSchemaError) Unwrap() error { return &e.APIError }

// TransportError is returned when every attempt failed at the network level
type TransportError struct {
	Method   string
	Path     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("agentpay: %s %s failed after %d attempts: %v", e.Method, e.Path, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
