package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var errUpstream = errors.New("upstream failure")

func newTestBreaker(maxFailures, maxRequests int) *CircuitBreaker {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return New(Config{
		Name:        "test",
		MaxFailures: maxFailures,
		Timeout:     50 * time.Millisecond,
		MaxRequests: maxRequests,
	}, logger)
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(context.Background(), fail)
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name        string
		scenario    func(t *testing.T, cb *CircuitBreaker)
		expectedEnd State
	}{
		{
			name: "closed_to_open_after_max_failures",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				for i := 0; i < 3; i++ {
					if err := cb.Execute(context.Background(), fail); !errors.Is(err, errUpstream) {
						t.Errorf("Expected upstream error, got %v", err)
					}
				}
			},
			expectedEnd: StateOpen,
		},
		{
			name: "open_rejects_without_calling",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				trip(cb, 3)
				called := false
				err := cb.Execute(context.Background(), func(context.Context) error {
					called = true
					return nil
				})
				if !errors.Is(err, ErrCircuitBreakerOpen) {
					t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
				}
				if called {
					t.Error("Expected function not to run while open")
				}
			},
			expectedEnd: StateOpen,
		},
		{
			name: "half_open_to_closed_on_success",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				trip(cb, 3)
				time.Sleep(60 * time.Millisecond)
				if err := cb.Execute(context.Background(), succeed); err != nil {
					t.Errorf("Expected success, got %v", err)
				}
			},
			expectedEnd: StateClosed,
		},
		{
			name: "half_open_to_open_on_failure",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				trip(cb, 3)
				time.Sleep(60 * time.Millisecond)
				cb.Execute(context.Background(), fail)
			},
			expectedEnd: StateOpen,
		},
		{
			name: "success_resets_failure_count",
			scenario: func(t *testing.T, cb *CircuitBreaker) {
				trip(cb, 2)
				cb.Execute(context.Background(), succeed)
				trip(cb, 2)
			},
			expectedEnd: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := newTestBreaker(3, 1)
			tt.scenario(t, cb)
			if cb.State() != tt.expectedEnd {
				t.Errorf("Expected state %s, got %s", tt.expectedEnd, cb.State())
			}
		})
	}
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	cb := newTestBreaker(1, 1)
	trip(cb, 1)
	time.Sleep(60 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected second half-open probe to be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful probe, got %s", cb.State())
	}
}

func TestIsFailureClassifiesErrors(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	errRejected := errors.New("token rejected")

	cb := New(Config{
		Name:        "auth",
		MaxFailures: 2,
		Timeout:     time.Minute,
		MaxRequests: 1,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errRejected)
		},
	}, logger)

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return errRejected })
		if !errors.Is(err, errRejected) {
			t.Fatalf("Expected caller error to pass through, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected caller errors not to open the circuit, got %s", cb.State())
	}

	trip(cb, 2)
	if cb.State() != StateOpen {
		t.Errorf("Expected upstream errors to open the circuit, got %s", cb.State())
	}
}

func TestCancelledContextIsNotCounted(t *testing.T) {
	cb := newTestBreaker(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, succeed)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if got := cb.Metrics()["total_requests"].(int64); got != 0 {
		t.Errorf("Expected no counted requests, got %d", got)
	}
}

func TestMetricsDoNotCountRejectedRequests(t *testing.T) {
	cb := newTestBreaker(2, 1)

	cb.Execute(context.Background(), succeed)
	trip(cb, 2)
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), succeed)
	}

	metrics := cb.Metrics()
	if metrics["total_requests"].(int64) != 3 {
		t.Errorf("Expected 3 total requests, got %d", metrics["total_requests"])
	}
	if metrics["total_successes"].(int64) != 1 {
		t.Errorf("Expected 1 success, got %d", metrics["total_successes"])
	}
	if metrics["total_failures"].(int64) != 2 {
		t.Errorf("Expected 2 failures, got %d", metrics["total_failures"])
	}
	if metrics["total_rejected"].(int64) != 3 {
		t.Errorf("Expected 3 rejected, got %d", metrics["total_rejected"])
	}
	if metrics["state"].(string) != "open" {
		t.Errorf("Expected open state in metrics, got %s", metrics["state"])
	}
}

func TestExecuteConcurrentAccess(t *testing.T) {
	cb := newTestBreaker(1000, 2)

	const numGoroutines = 50
	const numIterations = 10

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				if (id+j)%3 == 0 {
					cb.Execute(context.Background(), fail)
				} else {
					cb.Execute(context.Background(), succeed)
				}
			}
		}(i)
	}
	wg.Wait()

	metrics := cb.Metrics()
	totalRequests := metrics["total_requests"].(int64)
	totalFailures := metrics["total_failures"].(int64)
	totalSuccesses := metrics["total_successes"].(int64)

	if totalRequests != numGoroutines*numIterations {
		t.Errorf("Expected %d requests, got %d", numGoroutines*numIterations, totalRequests)
	}
	if totalRequests != totalFailures+totalSuccesses {
		t.Errorf("Inconsistent metrics: total_requests=%d, total_failures=%d, total_successes=%d",
			totalRequests, totalFailures, totalSuccesses)
	}
}

func TestReset(t *testing.T) {
	cb := newTestBreaker(1, 1)
	trip(cb, 1)

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected closed after reset, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Expected success after reset, got %v", err)
	}
}

func TestStringRepresentation(t *testing.T) {
	cb := newTestBreaker(3, 1)
	trip(cb, 1)

	want := "CircuitBreaker(name=test, state=closed, failures=1/3)"
	if got := cb.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
