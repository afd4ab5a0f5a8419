package agentpay

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type pollState int

const (
	statePolling pollState = iota
	stateCompleted
	stateDeclined
	stateTimedOut
	stateDeadlineExceeded
)

func (s pollState) outcome() string {
	switch s {
	case stateCompleted:
		return OutcomeCompleted
	case stateDeclined:
		return OutcomeDeclined
	case stateTimedOut:
		return OutcomeTimedOut
	case stateDeadlineExceeded:
		return OutcomeDeadlineExceeded
	}
	return "polling"
}

// nextState maps an observed status; anything non-terminal keeps polling
func nextState(status TransactionStatus) pollState {
	switch status {
	case StatusCompleted:
		return stateCompleted
	case StatusDeclined:
		return stateDeclined
	case StatusTimedOut:
		return stateTimedOut
	}
	return statePolling
}

type pollOptions struct {
	interval time.Duration
	maxWait  time.Duration
}

// PollOption overrides the client's polling configuration for one call
type PollOption func(*pollOptions)

// WithPollInterval overrides the poll interval; zero keeps the client default
func WithPollInterval(d time.Duration) PollOption {
	return func(o *pollOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithMaxWait overrides the overall deadline; zero keeps the client default
func WithMaxWait(d time.Duration) PollOption {
	return func(o *pollOptions) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

// WaitForApproval polls the transaction until it reaches a terminal status
// or the deadline passes.
//
// completed returns a result, declined returns *PaymentDeclinedError and
// timed_out returns *ApprovalTimeoutError with TimeoutSourceServer. Reaching
// the deadline first returns *ApprovalTimeoutError with TimeoutSourceDeadline.
// Fetch errors are returned as-is. A body without a status counts as pending.
func (c *Client) WaitForApproval(ctx context.Context, transactionID string, opts ...PollOption) (*ApprovalResult, error) {
	o := pollOptions{interval: c.config.PollInterval, maxWait: c.config.MaxWait}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "agentpay.wait_for_approval")
	defer span.End()
	span.SetAttributes(
		attribute.String("agentpay.transaction_id", transactionID),
		attribute.Int64("agentpay.poll_interval_ms", o.interval.Milliseconds()),
		attribute.Int64("agentpay.max_wait_ms", o.maxWait.Milliseconds()),
	)

	start := c.clock.Now()
	deadline := start.Add(o.maxWait)
	state := statePolling
	var status TransactionStatus
	polls := 0

	for state == statePolling {
		if !c.clock.Now().Before(deadline) {
			state = stateDeadlineExceeded
			break
		}

		tx, err := c.getTransaction(ctx, transactionID, false)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		polls++
		c.metrics.observePollTick()

		status = tx.Status
		state = nextState(status)
		if state != statePolling {
			break
		}

		c.logger.Debug("Transaction still pending",
			zap.String("transaction_id", transactionID),
			zap.String("status", string(status)),
			zap.Int("polls", polls),
		)
		if err := c.clock.Sleep(ctx, o.interval); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	c.finish(ctx, transactionID, state, status, polls, c.clock.Now().Sub(start))
	span.SetAttributes(
		attribute.String("agentpay.outcome", state.outcome()),
		attribute.Int("agentpay.polls", polls),
	)

	switch state {
	case stateCompleted:
		return &ApprovalResult{Status: status}, nil
	case stateDeclined:
		err := NewPaymentDeclinedError("")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	case stateTimedOut:
		err := NewApprovalTimeoutError("", TimeoutSourceServer)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	default:
		err := NewApprovalTimeoutError("", TimeoutSourceDeadline)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
}

// finish records a terminal state and hands it to the publisher.
// Publish failures never change the result.
func (c *Client) finish(ctx context.Context, transactionID string, state pollState, status TransactionStatus, polls int, waited time.Duration) {
	outcome := state.outcome()
	c.metrics.observeOutcome(outcome)
	c.logger.Info("Transaction reached terminal state",
		zap.String("transaction_id", transactionID),
		zap.String("outcome", outcome),
		zap.Int("polls", polls),
		zap.Duration("waited", waited),
	)

	if c.publisher == nil {
		return
	}
	event := OutcomeEvent{
		TransactionID: transactionID,
		Status:        status,
		Outcome:       outcome,
		Polls:         polls,
		Waited:        waited,
		Timestamp:     c.clock.Now(),
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("Failed to publish outcome event",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
	}
}
