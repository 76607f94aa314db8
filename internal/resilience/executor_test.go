package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestExecuteRetriesTransientFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	})

	attempts := 0
	err := exec.Execute(context.Background(), "extract", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return status.Error(codes.Unavailable, "backend unavailable")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDefaultMakesOneAttempt(t *testing.T) {
	exec := NewExecutor(DefaultConfig())

	attempts := 0
	errBackend := status.Error(codes.Unavailable, "down")
	err := exec.Execute(context.Background(), "extract", func(context.Context) error {
		attempts++
		return errBackend
	}, nil)
	if !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
	})

	attempts := 0
	err := exec.Execute(context.Background(), "extract", func(context.Context) error {
		attempts++
		return status.Error(codes.InvalidArgument, "bad mime type")
	}, nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	})

	errBackend := errors.New("transport closed")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "chat", func(context.Context) error {
			return errBackend
		}, nil)
		if !errors.Is(err, errBackend) {
			t.Fatalf("iteration %d: expected backend error, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "chat", func(context.Context) error {
		t.Fatal("open circuit must not call the operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}

	// Breakers are per operation.
	if err := exec.Execute(context.Background(), "extract", func(context.Context) error { return nil }, nil); err != nil {
		t.Fatalf("unrelated operation should not be tripped: %v", err)
	}
}

func TestExecuteNilCallback(t *testing.T) {
	if err := NewExecutor(DefaultConfig()).Execute(context.Background(), "x", nil, nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
}

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Classification
	}{
		{"canceled", context.Canceled, Classification{Retryable: false, RecordFailure: false}},
		{"deadline", context.DeadlineExceeded, Classification{Retryable: false, RecordFailure: true}},
		{"http 429", &googleapi.Error{Code: http.StatusTooManyRequests}, Classification{Retryable: true, RecordFailure: true}},
		{"http 400", &googleapi.Error{Code: http.StatusBadRequest}, Classification{Retryable: false, RecordFailure: false}},
		{"http 500", &googleapi.Error{Code: http.StatusInternalServerError}, Classification{Retryable: false, RecordFailure: true}},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), Classification{Retryable: true, RecordFailure: true}},
		{"grpc permission", status.Error(codes.PermissionDenied, "iam"), Classification{Retryable: false, RecordFailure: false}},
		{"plain", errors.New("boom"), Classification{Retryable: false, RecordFailure: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Transient(tc.err); got != tc.want {
				t.Fatalf("Transient(%v) = %+v, want %+v", tc.err, got, tc.want)
			}
		})
	}
}
