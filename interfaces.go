package agentpay

import (
	"context"
	"net/http"
	"time"
)

// HTTPDoer is the subset of *http.Client the transport needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeyStore reserves one idempotency key per logical operation.
// Reserve stores candidate if the operation has no key yet and returns
// whichever key is now reserved.
type KeyStore interface {
	Reserve(ctx context.Context, operationID, candidate string) (string, error)
}

// EventPublisher receives terminal approval outcomes
type EventPublisher interface {
	Publish(ctx context.Context, event OutcomeEvent) error
}

// Clock is the time source for backoff and polling
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
