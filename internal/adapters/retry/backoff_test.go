package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"
)

func testConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		MaxRetries:      3,
		Multiplier:      2.0,
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline exceeded", context.DeadlineExceeded, false},
		{"connection refused", &net.OpError{Err: syscall.ECONNREFUSED}, true},
		{"connection reset", &net.OpError{Err: syscall.ECONNRESET}, true},
		{"broken pipe", &net.OpError{Err: syscall.EPIPE}, true},
		{"nxdomain", &net.DNSError{IsNotFound: true}, false},
		{"transient dns failure", &net.DNSError{IsTimeout: true}, true},
		{"generic error", errors.New("some error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		if got := IsRetryableHTTPStatus(tt.status); got != tt.expected {
			t.Errorf("IsRetryableHTTPStatus(%d) = %v, want %v", tt.status, got, tt.expected)
		}
	}
}

func TestWithBackoffHTTP_Success(t *testing.T) {
	attempts := 0
	err := WithBackoffHTTP(context.Background(), testConfig(), func() (int, error) {
		attempts++
		return http.StatusOK, nil
	})

	if err != nil {
		t.Errorf("WithBackoffHTTP() error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("WithBackoffHTTP() attempts = %d, want 1", attempts)
	}
}

func TestWithBackoffHTTP_RetryableStatus(t *testing.T) {
	attempts := 0
	err := WithBackoffHTTP(context.Background(), testConfig(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return http.StatusServiceUnavailable, nil
		}
		return http.StatusOK, nil
	})

	if err != nil {
		t.Errorf("WithBackoffHTTP() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("WithBackoffHTTP() attempts = %d, want 3", attempts)
	}
}

func TestWithBackoffHTTP_NonRetryableStatus(t *testing.T) {
	attempts := 0
	err := WithBackoffHTTP(context.Background(), testConfig(), func() (int, error) {
		attempts++
		return http.StatusBadRequest, nil
	})

	if err == nil {
		t.Error("WithBackoffHTTP() error = nil, want non-nil")
	}
	if attempts != 1 {
		t.Errorf("WithBackoffHTTP() attempts = %d, want 1 (should not retry 4xx errors)", attempts)
	}
}

func TestWithBackoffHTTP_RetryableErrorThenSuccess(t *testing.T) {
	attempts := 0
	err := WithBackoffHTTP(context.Background(), testConfig(), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, &net.OpError{Err: syscall.ECONNREFUSED}
		}
		return http.StatusOK, nil
	})

	if err != nil {
		t.Errorf("WithBackoffHTTP() error = %v, want nil", err)
	}
	if attempts != 2 {
		t.Errorf("WithBackoffHTTP() attempts = %d, want 2", attempts)
	}
}

func TestWithBackoffHTTP_MaxRetriesWithStatus(t *testing.T) {
	attempts := 0
	err := WithBackoffHTTP(context.Background(), testConfig(), func() (int, error) {
		attempts++
		return http.StatusServiceUnavailable, nil
	})

	if err == nil {
		t.Error("WithBackoffHTTP() error = nil, want non-nil after exhausting retries")
	}
	if attempts != 4 {
		t.Errorf("WithBackoffHTTP() attempts = %d, want 4 (initial + 3 retries)", attempts)
	}
}

func TestWithBackoffHTTP_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- WithBackoffHTTP(ctx, BackoffConfig{
			InitialInterval: time.Second,
			MaxInterval:     time.Second,
			MaxRetries:      5,
			Multiplier:      2.0,
		}, func() (int, error) {
			attempts++
			return http.StatusServiceUnavailable, nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WithBackoffHTTP() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WithBackoffHTTP did not observe cancellation")
	}
}
