// Package agentpay submits payment-authorization requests to an approval
// service and waits for them to be resolved.
package agentpay

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = 30 * time.Minute

	userAgent = "agentpay-go/1.0.0"

	pathPaymentRequest = "/v1/payment-request"
	pathTransactions   = "/v1/transactions/"
)

// Config configures a Client
type Config struct {
	// BaseURL of the approval service; a trailing slash is trimmed
	BaseURL string `validate:"required,url"`

	// APIKey is sent as a bearer credential on every request
	APIKey string `validate:"required"`

	// PollInterval between status fetches (optional, defaults to 5s)
	PollInterval time.Duration `validate:"gte=0"`

	// MaxWait bounds WaitForApproval (optional, defaults to 30m)
	MaxWait time.Duration `validate:"gte=0"`
}

// Client talks to the approval service. It is immutable after New and safe
// for concurrent use.
type Client struct {
	config    Config
	transport *Transport
	clock     Clock
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	keys      KeyStore
	publisher EventPublisher
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the default client with its 30s timeout
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) { c.transport.httpClient = doer }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer("agentpay") }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithKeyStore enables key reservation for requests that set OperationID
func WithKeyStore(ks KeyStore) Option {
	return func(c *Client) { c.keys = ks }
}

// WithEventPublisher receives an OutcomeEvent whenever polling terminates
func WithEventPublisher(p EventPublisher) Option {
	return func(c *Client) { c.publisher = p }
}

// WithClock replaces the wall clock used for backoff, polling and key derivation
func WithClock(clock Clock) Option {
	return func(c *Client) { c.clock = clock }
}

var validate = validator.New()

// New validates cfg, fills defaults and builds a Client
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid agentpay config: %w", err)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = DefaultMaxWait
	}

	c := &Client{
		config: cfg,
		transport: &Transport{
			baseURL:    cfg.BaseURL,
			apiKey:     cfg.APIKey,
			userAgent:  userAgent,
			httpClient: &http.Client{Timeout: requestTimeout},
		},
		clock:  systemClock{},
		logger: zap.NewNop(),
		tracer: otel.Tracer("agentpay"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.transport.clock = c.clock
	c.transport.logger = c.logger
	c.transport.tracer = c.tracer
	c.transport.metrics = c.metrics

	return c, nil
}

// Config returns the effective configuration
func (c *Client) Config() Config {
	return c.config
}

// Transport exposes the retrying transport for calls the client does not wrap
func (c *Client) Transport() *Transport {
	return c.transport
}
