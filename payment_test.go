package agentpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentServer(t *testing.T, status int, body string, inspect func(map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment-request", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		if inspect != nil {
			inspect(payload)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestPayRequestSuccess(t *testing.T) {
	var got map[string]any
	server := paymentServer(t, http.StatusCreated,
		`{"status":"pending","transaction_id":"tx_123"}`,
		func(p map[string]any) { got = p })
	defer server.Close()

	c := newTestClient(t, server.URL, WithClock(newFakeClock()))
	result, err := c.PayRequest(context.Background(), PaymentRequest{
		AmountCents: 1500,
		Merchant:    "acme",
		Context:     map[string]any{"task": "t-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, result.Status)
	assert.Equal(t, "tx_123", result.TransactionID)
	assert.Nil(t, result.Idempotent)

	assert.Equal(t, float64(1500), got["amount_cents"])
	assert.Equal(t, "USD", got["currency"])
	assert.Equal(t, "acme", got["merchant"])
	assert.Contains(t, got, "purpose")
	assert.Nil(t, got["purpose"])
	assert.Equal(t, map[string]any{"task": "t-1"}, got["context"])

	key, _ := got["idempotency_key"].(string)
	assert.Regexp(t, `^sdk-[0-9a-f]{16}-\d+$`, key)
	assert.Equal(t, HashSegment(DeriveIdempotencyKey(1500, "acme", "", map[string]any{"task": "t-1"}, newFakeClock().Now())), HashSegment(key))
}

func TestPayRequestNullOptionals(t *testing.T) {
	var got map[string]any
	server := paymentServer(t, http.StatusOK,
		`{"status":"completed","transaction_id":"tx_1","idempotent":true}`,
		func(p map[string]any) { got = p })
	defer server.Close()

	c := newTestClient(t, server.URL)
	result, err := c.PayRequest(context.Background(), PaymentRequest{
		AmountCents:    200,
		Currency:       "EUR",
		IdempotencyKey: "caller-key",
	})
	require.NoError(t, err)

	require.NotNil(t, result.Idempotent)
	assert.True(t, *result.Idempotent)
	assert.Equal(t, "caller-key", got["idempotency_key"])
	assert.Equal(t, "EUR", got["currency"])
	for _, field := range []string{"purpose", "merchant", "context"} {
		assert.Contains(t, got, field)
		assert.Nil(t, got[field], field)
	}
}

func TestPayRequestEmptyContextSentAsNull(t *testing.T) {
	var got map[string]any
	server := paymentServer(t, http.StatusOK, `{"status":"pending","transaction_id":"tx_1"}`,
		func(p map[string]any) { got = p })
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.PayRequest(context.Background(), PaymentRequest{
		AmountCents: 100,
		Context:     map[string]any{},
	})
	require.NoError(t, err)

	assert.Contains(t, got, "context")
	assert.Nil(t, got["context"])
}

func TestPayRequestKeepsExplicitEmptyMessage(t *testing.T) {
	t.Run("budget", func(t *testing.T) {
		server := paymentServer(t, http.StatusPaymentRequired, `{"error":"","reason":"daily_cap"}`, nil)
		defer server.Close()

		_, err := newTestClient(t, server.URL).PayRequest(context.Background(), PaymentRequest{AmountCents: 100})

		var budgetErr *BudgetExceededError
		require.ErrorAs(t, err, &budgetErr)
		assert.Empty(t, budgetErr.Message)
		assert.Equal(t, "daily_cap", budgetErr.Reason)
	})
	t.Run("rate limit", func(t *testing.T) {
		server := paymentServer(t, http.StatusTooManyRequests, `{"error":""}`, nil)
		defer server.Close()

		_, err := newTestClient(t, server.URL).PayRequest(context.Background(), PaymentRequest{AmountCents: 100})

		var rateErr *RateLimitError
		require.ErrorAs(t, err, &rateErr)
		assert.Empty(t, rateErr.Message)
	})
}

func TestPayRequestBudgetExceeded(t *testing.T) {
	server := paymentServer(t, http.StatusPaymentRequired, `{"error":"limit reached","reason":"daily_cap"}`, nil)
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.PayRequest(context.Background(), PaymentRequest{AmountCents: 100})

	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, "limit reached", budgetErr.Message)
	assert.Equal(t, "daily_cap", budgetErr.Reason)
	assert.Equal(t, http.StatusPaymentRequired, budgetErr.StatusCode)
	assert.Equal(t, ErrCodeBudgetExceeded, budgetErr.Code)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrCodeBudgetExceeded, apiErr.Code)
}

func TestPayRequestBudgetExceededDefaults(t *testing.T) {
	server := paymentServer(t, http.StatusPaymentRequired, ``, nil)
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.PayRequest(context.Background(), PaymentRequest{AmountCents: 100})

	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, "Budget exceeded", budgetErr.Message)
	assert.Empty(t, budgetErr.Reason)
}

func TestPayRequestRateLimited(t *testing.T) {
	server := paymentServer(t, http.StatusTooManyRequests, `{"error":"slow down","retry_after":30}`, nil)
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.PayRequest(context.Background(), PaymentRequest{AmountCents: 100})

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "slow down", rateErr.Message)
	require.NotNil(t, rateErr.RetryAfter)
	assert.Equal(t, 30, *rateErr.RetryAfter)
}

func TestPayRequestRateLimitedDefaults(t *testing.T) {
	server := paymentServer(t, http.StatusTooManyRequests, `{}`, nil)
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.PayRequest(context.Background(), PaymentRequest{AmountCents: 100})

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "Too many requests", rateErr.Message)
	assert.Nil(t, rateErr.RetryAfter)
}

func TestPayRequestGenericErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"error field", http.StatusBadRequest, `{"error":"amount_cents must be positive"}`, "amount_cents must be positive"},
		{"raw text", http.StatusForbidden, `forbidden by policy`, "forbidden by policy"},
		{"empty body", http.StatusNotFound, ``, "Not Found"},
		{"explicit empty error", http.StatusBadRequest, `{"error":""}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := paymentServer(t, tt.status, tt.body, nil)
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.PayRequest(context.Background(), PaymentRequest{AmountCents: 100})

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.status, apiErr.StatusCode)

			var budgetErr *BudgetExceededError
			assert.False(t, errors.As(err, &budgetErr))
		})
	}
}

func TestPayRequestMissingTransactionID(t *testing.T) {
	server := paymentServer(t, http.StatusOK, `{"status":"pending"}`, nil)
	defer server.Close()

	c := newTestClient(t, server.URL)
	result, err := c.PayRequest(context.Background(), PaymentRequest{AmountCents: 100})
	assert.Nil(t, result)

	var schemaErr *ResponseSchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"transaction_id"}, schemaErr.MissingFields)
	assert.Equal(t, ErrCodeInvalidResponse, schemaErr.Code)
}

func TestPayRequestInvalidSuccessBody(t *testing.T) {
	server := paymentServer(t, http.StatusOK, `not json`, nil)
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.PayRequest(context.Background(), PaymentRequest{AmountCents: 100})

	var schemaErr *ResponseSchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Empty(t, schemaErr.MissingFields)
}

type memoryKeyStore struct {
	keys map[string]string
	err  error
}

func (m *memoryKeyStore) Reserve(_ context.Context, operationID, candidate string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if key, ok := m.keys[operationID]; ok {
		return key, nil
	}
	m.keys[operationID] = candidate
	return candidate, nil
}

func TestPayRequestReservesKeyPerOperation(t *testing.T) {
	var keys []string
	server := paymentServer(t, http.StatusOK, `{"status":"pending","transaction_id":"tx_1"}`,
		func(p map[string]any) { keys = append(keys, p["idempotency_key"].(string)) })
	defer server.Close()

	clock := newFakeClock()
	store := &memoryKeyStore{keys: map[string]string{}}
	c := newTestClient(t, server.URL, WithClock(clock), WithKeyStore(store))

	req := PaymentRequest{AmountCents: 100, Merchant: "acme", OperationID: "op-42"}
	_, err := c.PayRequest(context.Background(), req)
	require.NoError(t, err)

	clock.Sleep(context.Background(), 5*time.Second)
	_, err = c.PayRequest(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], store.keys["op-42"])
}

func TestPayRequestKeyStoreFailure(t *testing.T) {
	c := newTestClient(t, "https://approvals.test",
		WithHTTPClient(&scriptedDoer{steps: []step{{status: 200, body: `{}`}}}),
		WithKeyStore(&memoryKeyStore{err: errors.New("redis down")}))

	_, err := c.PayRequest(context.Background(), PaymentRequest{AmountCents: 100, OperationID: "op-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}
