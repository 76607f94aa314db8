package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classification tells the executor how to treat a failed call.
type Classification struct {
	Retryable     bool
	RecordFailure bool
}

type Classifier func(err error) Classification

// Executor guards calls to the generative backend with a circuit breaker
// per operation name and an optional bounded retry.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn under the breaker for operation. A nil classifier uses Transient.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil callback for %s", operation)
	}
	if classify == nil {
		classify = Transient
	}
	if !e.cfg.BreakerEnabled {
		return e.retry(ctx, operation, fn, classify)
	}

	_, err := e.breaker(operation, classify).Execute(func() (any, error) {
		return nil, e.retry(ctx, operation, fn, classify)
	})
	return err
}

func (e *Executor) retry(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	backoff := e.cfg.RetryInitialBackoff
	var err error
	for attempt := 1; attempt <= e.cfg.RetryMaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !classify(err).Retryable || attempt == e.cfg.RetryMaxAttempts {
			return err
		}

		slog.Warn("Call failed, will retry.",
			"operation", operation,
			"attempt", attempt,
			"maxAttempts", e.cfg.RetryMaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff = min(time.Duration(float64(backoff)*e.cfg.RetryMultiplier), e.cfg.RetryMaxBackoff)
	}
	return err
}

func (e *Executor) breaker(operation string, classify Classifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}
	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker changed state.", "operation", name, "from", from.String(), "to", to.String())
		},
	}
	cb := gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[operation] = cb
	return cb
}

// IsCircuitOpen reports whether err was produced by an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Transient retries only throttling and availability failures of the Google
// APIs. Caller cancellation never counts against the breaker.
func Transient(err error) Classification {
	if errors.Is(err, context.Canceled) {
		return Classification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Retryable: false, RecordFailure: true}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return Classification{Retryable: true, RecordFailure: true}
		}
		return Classification{Retryable: false, RecordFailure: gerr.Code >= 500}
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
			return Classification{Retryable: true, RecordFailure: true}
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition, codes.Unauthenticated:
			return Classification{Retryable: false, RecordFailure: false}
		}
	}
	return Classification{Retryable: false, RecordFailure: true}
}
