package circuitbreaker

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestConfigValidation(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	tests := []struct {
		name            string
		config          Config
		expectedName    string
		expectedMax     int
		expectedTimeout time.Duration
		expectedReqs    int
	}{
		{
			name:            "valid_config",
			config:          Config{Name: "stripe", MaxFailures: 5, Timeout: 30 * time.Second, MaxRequests: 3},
			expectedName:    "stripe",
			expectedMax:     5,
			expectedTimeout: 30 * time.Second,
			expectedReqs:    3,
		},
		{
			name:            "empty_name_gets_default",
			config:          Config{MaxFailures: 5, Timeout: 30 * time.Second, MaxRequests: 3},
			expectedName:    "unnamed",
			expectedMax:     5,
			expectedTimeout: 30 * time.Second,
			expectedReqs:    3,
		},
		{
			name:            "zero_values_get_defaults",
			config:          Config{Name: "auth"},
			expectedName:    "auth",
			expectedMax:     5,
			expectedTimeout: 30 * time.Second,
			expectedReqs:    1,
		},
		{
			name:            "negative_values_get_defaults",
			config:          Config{Name: "auth", MaxFailures: -1, Timeout: -time.Second, MaxRequests: -1},
			expectedName:    "auth",
			expectedMax:     5,
			expectedTimeout: 30 * time.Second,
			expectedReqs:    1,
		},
		{
			name:            "values_too_high_are_capped",
			config:          Config{Name: "auth", MaxFailures: 5000, Timeout: time.Hour, MaxRequests: 500},
			expectedName:    "auth",
			expectedMax:     1000,
			expectedTimeout: 10 * time.Minute,
			expectedReqs:    100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := New(tt.config, logger)
			defer cb.Shutdown()

			if cb.name != tt.expectedName {
				t.Errorf("Expected name %s, got %s", tt.expectedName, cb.name)
			}
			if cb.maxFailures != tt.expectedMax {
				t.Errorf("Expected MaxFailures %d, got %d", tt.expectedMax, cb.maxFailures)
			}
			if cb.timeout != tt.expectedTimeout {
				t.Errorf("Expected Timeout %v, got %v", tt.expectedTimeout, cb.timeout)
			}
			if cb.maxRequests != tt.expectedReqs {
				t.Errorf("Expected MaxRequests %d, got %d", tt.expectedReqs, cb.maxRequests)
			}
			if cb.State() != StateClosed {
				t.Errorf("Expected initial state closed, got %s", cb.State())
			}
		})
	}
}

func TestConfigCoherenceWarning(t *testing.T) {
	var logBuffer strings.Builder
	logger := logrus.New()
	logger.SetOutput(&logBuffer)
	logger.SetLevel(logrus.WarnLevel)

	_ = New(Config{
		Name:        "coherence-test",
		MaxFailures: 3,
		Timeout:     30 * time.Second,
		MaxRequests: 5,
	}, logger)

	if !strings.Contains(logBuffer.String(), "MaxRequests is greater than MaxFailures") {
		t.Error("Expected warning about MaxRequests > MaxFailures")
	}
}

func TestCallbackPoolOnlyWithCallback(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	without := New(Config{Name: "no-callback", MaxFailures: 3, Timeout: time.Second, MaxRequests: 1}, logger)
	if without.callbackPool != nil {
		t.Error("Expected no callback pool without OnStateChange")
	}
	without.Shutdown()

	with := New(Config{
		Name:          "with-callback",
		MaxFailures:   3,
		Timeout:       time.Second,
		MaxRequests:   1,
		OnStateChange: func(name string, from State, to State) {},
	}, logger)
	defer with.Shutdown()

	if with.callbackPool == nil {
		t.Fatal("Expected callback pool to be initialized")
	}
	if with.callbackPool.workers != defaultCallbackWorkers {
		t.Errorf("Expected %d workers, got %d", defaultCallbackWorkers, with.callbackPool.workers)
	}
	if cap(with.callbackPool.eventChan) != defaultCallbackWorkers*2 {
		t.Errorf("Expected event channel capacity %d, got %d", defaultCallbackWorkers*2, cap(with.callbackPool.eventChan))
	}
}
