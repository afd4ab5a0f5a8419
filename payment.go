package agentpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// PayRequest submits req and maps the response.
//
// Without an explicit IdempotencyKey the key is reserved through the KeyStore
// when OperationID is set, otherwise derived from the request semantics.
func (c *Client) PayRequest(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	ctx, span := c.tracer.Start(ctx, "agentpay.pay_request")
	defer span.End()

	key, err := c.idempotencyKey(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	body := paymentRequestBody{
		AmountCents:    req.AmountCents,
		Currency:       currency,
		Purpose:        optional(req.Purpose),
		Merchant:       optional(req.Merchant),
		Context:        nilIfEmpty(req.Context),
		IdempotencyKey: key,
	}
	span.SetAttributes(
		attribute.Int64("agentpay.amount_cents", req.AmountCents),
		attribute.String("agentpay.currency", currency),
		attribute.String("agentpay.idempotency_key", key),
	)

	resp, err := c.transport.Do(ctx, http.MethodPost, pathPaymentRequest, nil, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !resp.OK() {
		err := mapPaymentError(resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Payment request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return nil, err
	}

	result, err := decodePaymentResult(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("agentpay.transaction_id", result.TransactionID))
	c.logger.Info("Payment request submitted",
		zap.String("transaction_id", result.TransactionID),
		zap.String("status", string(result.Status)),
		zap.String("idempotency_key", key),
		zap.Bool("idempotent", result.Idempotent != nil && *result.Idempotent),
	)
	return result, nil
}

func (c *Client) idempotencyKey(ctx context.Context, req PaymentRequest) (string, error) {
	if req.IdempotencyKey != "" {
		return req.IdempotencyKey, nil
	}

	derived := DeriveIdempotencyKey(req.AmountCents, req.Merchant, req.Purpose, req.Context, c.clock.Now())
	if req.OperationID == "" || c.keys == nil {
		return derived, nil
	}

	key, err := c.keys.Reserve(ctx, req.OperationID, derived)
	if err != nil {
		return "", fmt.Errorf("failed to reserve idempotency key for operation %s: %w", req.OperationID, err)
	}
	return key, nil
}

func decodePaymentResult(resp *Response) (*PaymentResult, error) {
	var body struct {
		Status        *string `json:"status"`
		TransactionID *string `json:"transaction_id"`
		Idempotent    *bool   `json:"idempotent"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, NewResponseSchemaError(resp.StatusCode, nil, err)
	}

	var missing []string
	if body.Status == nil {
		missing = append(missing, "status")
	}
	if body.TransactionID == nil {
		missing = append(missing, "transaction_id")
	}
	if len(missing) > 0 {
		return nil, NewResponseSchemaError(resp.StatusCode, missing, nil)
	}

	return &PaymentResult{
		Status:        TransactionStatus(*body.Status),
		TransactionID: *body.TransactionID,
		Idempotent:    body.Idempotent,
	}, nil
}

func mapPaymentError(resp *Response) error {
	body := parseErrorBody(resp.Body)

	// an explicit "error" is used verbatim, even when empty
	switch resp.StatusCode {
	case http.StatusPaymentRequired:
		err := NewBudgetExceededError("", deref(body.Reason))
		if body.Error != nil {
			err.Message = *body.Error
		}
		return err
	case http.StatusTooManyRequests:
		err := NewRateLimitError("", body.RetryAfter)
		if body.Error != nil {
			err.Message = *body.Error
		}
		return err
	}
	return genericError(resp, body)
}

func genericError(resp *Response, body errorBody) *APIError {
	if body.Error != nil {
		return NewAPIError(*body.Error, resp.StatusCode, "")
	}
	msg := string(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return NewAPIError(msg, resp.StatusCode, "")
}

// parseErrorBody treats an empty or non-JSON body as {}
func parseErrorBody(raw []byte) errorBody {
	var body errorBody
	if len(raw) == 0 {
		return body
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return errorBody{}
	}
	return body
}

func nilIfEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
