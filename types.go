package agentpay

import "time"

// TransactionStatus is the server-owned state of a transaction
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusDeclined  TransactionStatus = "declined"
	StatusTimedOut  TransactionStatus = "timed_out"
)

// IsTerminal reports whether no further transition can occur.
// Any status outside the three terminal values counts as pending.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusTimedOut:
		return true
	}
	return false
}

// DefaultCurrency is used when a PaymentRequest leaves Currency empty
const DefaultCurrency = "USD"

// PaymentRequest describes one submission.
// Empty Purpose, Merchant and Context are sent as null.
type PaymentRequest struct {
	AmountCents    int64
	Currency       string
	Purpose        string
	Merchant       string
	IdempotencyKey string
	Context        map[string]any

	// OperationID names the logical operation for key reservation.
	// Never sent to the server.
	OperationID string
}

// paymentRequestBody is the POST /v1/payment-request payload
type paymentRequestBody struct {
	AmountCents    int64          `json:"amount_cents"`
	Currency       string         `json:"currency"`
	Purpose        *string        `json:"purpose"`
	Merchant       *string        `json:"merchant"`
	Context        map[string]any `json:"context"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// PaymentResult is the accepted submission
type PaymentResult struct {
	Status        TransactionStatus `json:"status"`
	TransactionID string            `json:"transaction_id"`
	Idempotent    *bool             `json:"idempotent,omitempty"`
}

// Transaction is the read-only view returned by GET /v1/transactions/{id}
type Transaction struct {
	ID          string            `json:"id"`
	Status      TransactionStatus `json:"status"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Purpose     string            `json:"purpose"`
	Merchant    string            `json:"merchant"`
	CreatedAt   string            `json:"created_at"`

	// Raw holds every field of the response body
	Raw map[string]any `json:"-"`
}

// ApprovalResult is returned once a transaction completes
type ApprovalResult struct {
	Status TransactionStatus `json:"status"`
}

// errorBody is the error payload shared by both endpoints
type errorBody struct {
	Error      *string `json:"error"`
	Reason     *string `json:"reason"`
	RetryAfter *int    `json:"retry_after"`
}

// OutcomeEvent is published when polling reaches a terminal state
type OutcomeEvent struct {
	TransactionID string            `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	Outcome       string            `json:"outcome"`
	Polls         int               `json:"polls"`
	Waited        time.Duration     `json:"waited_ns"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Outcome labels used in events and metrics
const (
	OutcomeCompleted        = "completed"
	OutcomeDeclined         = "declined"
	OutcomeTimedOut         = "timed_out"
	OutcomeDeadlineExceeded = "deadline_exceeded"
)
