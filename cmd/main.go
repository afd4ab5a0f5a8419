package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/agentpay"
	"github.com/akylbek/payment-system/agentpay/internal/api"
	"github.com/akylbek/payment-system/agentpay/internal/config"
	"github.com/akylbek/payment-system/agentpay/internal/events"
	"github.com/akylbek/payment-system/agentpay/internal/repository"
	"github.com/akylbek/payment-system/agentpay/internal/telemetry"
)

const serviceName = "agentpay-cli"

const (
	exitOK       = 0
	exitFailure  = 1
	exitRejected = 2
)

type flags struct {
	amount      int64
	currency    string
	purpose     string
	merchant    string
	key         string
	operationID string
	context     string
	wait        bool
}

func parseFlags(args []string) (*flags, map[string]any, error) {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	f := &flags{}
	fs.Int64Var(&f.amount, "amount", 0, "amount in minor currency units")
	fs.StringVar(&f.currency, "currency", agentpay.DefaultCurrency, "ISO currency code")
	fs.StringVar(&f.purpose, "purpose", "", "purpose of the payment")
	fs.StringVar(&f.merchant, "merchant", "", "merchant name")
	fs.StringVar(&f.key, "key", "", "explicit idempotency key")
	fs.StringVar(&f.operationID, "operation", "", "logical operation id for key reservation (needs REDIS_URL)")
	fs.StringVar(&f.context, "context", "", "JSON object attached to the request")
	fs.BoolVar(&f.wait, "wait", false, "wait for the transaction to reach a terminal state")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if f.amount <= 0 {
		return nil, nil, errors.New("-amount must be a positive integer")
	}

	var reqContext map[string]any
	if f.context != "" {
		if err := json.Unmarshal([]byte(f.context), &reqContext); err != nil {
			return nil, nil, fmt.Errorf("-context must be a JSON object: %w", err)
		}
	}
	return f, reqContext, nil
}

// exitCode maps a failure to the process exit status
func exitCode(err error) int {
	var (
		budget   *agentpay.BudgetExceededError
		declined *agentpay.PaymentDeclinedError
		timeout  *agentpay.ApprovalTimeoutError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &budget), errors.As(err, &declined), errors.As(err, &timeout):
		return exitRejected
	}
	return exitFailure
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, reqContext, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}

	// Initialize telemetry
	if err := telemetry.InitTelemetry(telemetry.Options{
		ServiceName:    serviceName,
		Version:        "1.0.0",
		LogLevel:       cfg.LogLevel,
		JaegerEndpoint: cfg.JaegerEndpoint,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		return exitFailure
	}
	defer telemetry.Shutdown(context.Background())

	logger := telemetry.Logger
	reg := prometheus.NewRegistry()

	opts := []agentpay.Option{
		agentpay.WithLogger(logger),
		agentpay.WithMetrics(agentpay.NewMetrics(reg)),
	}

	// Connect to Redis for key reservation
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer redisClient.Close()
		opts = append(opts, agentpay.WithKeyStore(repository.NewIdempotencyKeyRepository(redisClient, repository.DefaultKeyTTL)))
	} else if f.operationID != "" {
		logger.Warn("-operation ignored without REDIS_URL", zap.String("operation_id", f.operationID))
	}

	// Publish outcomes to Kafka
	if cfg.KafkaBrokers != "" {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		opts = append(opts, agentpay.WithEventPublisher(publisher))
	}

	client, err := agentpay.New(agentpay.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		PollInterval: cfg.PollInterval(),
		MaxWait:      cfg.MaxWait(),
	}, opts...)
	if err != nil {
		logger.Error("Failed to create client", zap.Error(err))
		return exitFailure
	}

	if cfg.MetricsPort != "" {
		srv := &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: api.NewRouter(serviceName, reg, telemetry.Tracer),
		}
		go func() {
			logger.Info("Metrics server starting", zap.String("port", cfg.MetricsPort))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := client.PayRequest(ctx, agentpay.PaymentRequest{
		AmountCents:    f.amount,
		Currency:       f.currency,
		Purpose:        f.purpose,
		Merchant:       f.merchant,
		IdempotencyKey: f.key,
		Context:        reqContext,
		OperationID:    f.operationID,
	})
	if err != nil {
		logger.Error("Payment request failed", zap.Error(err))
		return exitCode(err)
	}
	printJSON(result)

	if !f.wait || result.Status.IsTerminal() {
		return terminalExit(result.Status)
	}

	approval, err := client.WaitForApproval(ctx, result.TransactionID)
	if err != nil {
		logger.Error("Approval failed",
			zap.String("transaction_id", result.TransactionID),
			zap.Error(err),
		)
		return exitCode(err)
	}
	printJSON(approval)
	return exitOK
}

// terminalExit maps a status returned directly by the submission
func terminalExit(status agentpay.TransactionStatus) int {
	switch status {
	case agentpay.StatusDeclined, agentpay.StatusTimedOut:
		return exitRejected
	}
	return exitOK
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
