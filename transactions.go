package agentpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// GetTransaction fetches the current state of a transaction.
// Non-2xx responses become an *APIError and a body without a string status
// becomes a *ResponseSchemaError. Every other field is best-effort.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	return c.getTransaction(ctx, transactionID, true)
}

func (c *Client) getTransaction(ctx context.Context, transactionID string, requireStatus bool) (*Transaction, error) {
	resp, err := c.transport.Do(ctx, http.MethodGet, pathTransactions+url.PathEscape(transactionID), nil, nil)
	if err != nil {
		return nil, err
	}

	if !resp.OK() {
		return nil, genericError(resp, parseErrorBody(resp.Body))
	}

	return decodeTransaction(resp, requireStatus)
}

// decodeTransaction reads status and keeps the whole body in Raw. The typed
// fields are filled only when the server sent the expected JSON type.
func decodeTransaction(resp *Response, requireStatus bool) (*Transaction, error) {
	var raw map[string]any
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, NewResponseSchemaError(resp.StatusCode, nil, err)
	}

	status, ok := raw["status"].(string)
	if !ok && requireStatus {
		return nil, NewResponseSchemaError(resp.StatusCode, []string{"status"}, nil)
	}

	return &Transaction{
		ID:          stringField(raw, "id"),
		Status:      TransactionStatus(status),
		AmountCents: int64Field(raw, "amount_cents"),
		Currency:    stringField(raw, "currency"),
		Purpose:     stringField(raw, "purpose"),
		Merchant:    stringField(raw, "merchant"),
		CreatedAt:   stringField(raw, "created_at"),
		Raw:         raw,
	}, nil
}

func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func int64Field(raw map[string]any, key string) int64 {
	switch v := raw[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}
