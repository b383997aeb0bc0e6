package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeTimer fires immediately and records every requested delay.
type fakeTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func (f *fakeTimer) Start(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.c = make(chan time.Time, 1)
	f.c <- time.Now()
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.c
}

func (f *fakeTimer) recorded() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func newTestInvoker(maxAttempts int, timeout time.Duration) (*Invoker, *fakeTimer) {
	timer := &fakeTimer{}
	return NewInvoker(maxAttempts, timeout, WithTimer(func() backoff.Timer { return timer })), timer
}

func TestInvokerRetriesWithExponentialDelay(t *testing.T) {
	inv, timer := newTestInvoker(3, time.Second)

	calls := 0
	err := inv.Invoke(context.Background(), func(context.Context) error {
		calls++
		return status.Errorf(codes.Unavailable, "attempt %d", calls)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "attempt 3", status.Convert(err).Message())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, timer.recorded())
}

func TestInvokerStopsOnSuccess(t *testing.T) {
	inv, timer := newTestInvoker(5, time.Second)

	calls := 0
	err := inv.Invoke(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, timer.recorded())
}

func TestInvokerDoesNotRetryCallerErrors(t *testing.T) {
	inv, timer := newTestInvoker(3, time.Second)

	calls := 0
	err := inv.Invoke(context.Background(), func(context.Context) error {
		calls++
		return status.Error(codes.InvalidArgument, "bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Empty(t, timer.recorded())
}

func TestInvokerSingleAttempt(t *testing.T) {
	inv, _ := newTestInvoker(0, time.Second)
	assert.Equal(t, 1, inv.MaxAttempts())

	calls := 0
	err := inv.Invoke(context.Background(), func(context.Context) error {
		calls++
		return status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestInvokerTimesOutUncooperativeCalls(t *testing.T) {
	inv, _ := newTestInvoker(2, 20*time.Millisecond)

	release := make(chan struct{})
	defer close(release)

	err := inv.Invoke(context.Background(), func(context.Context) error {
		<-release
		return nil
	})

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Attempt)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestInvokerHonoursCallerCancellation(t *testing.T) {
	inv, _ := newTestInvoker(3, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := inv.Invoke(ctx, func(context.Context) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestInvokerReturnsValueOfSuccessfulAttempt(t *testing.T) {
	inv, _ := newTestInvoker(3, time.Second)

	calls := 0
	v, err := inv.invoke(context.Background(), func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			return "partial", status.Error(codes.Unavailable, "down")
		}
		return "second", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestInvokerKeepsValueWhenContextEndsAfterSuccess(t *testing.T) {
	inv, _ := newTestInvoker(1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, err := inv.invoke(ctx, func(context.Context) (any, error) {
		cancel()
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "attempt timeout", err: &TimeoutError{Attempt: 1, Timeout: time.Second}, want: true},
		{name: "plain error", err: errors.New("broken pipe"), want: true},
		{name: "unavailable", err: status.Error(codes.Unavailable, ""), want: true},
		{name: "resource exhausted", err: status.Error(codes.ResourceExhausted, ""), want: true},
		{name: "invalid argument", err: status.Error(codes.InvalidArgument, ""), want: false},
		{name: "not found", err: status.Error(codes.NotFound, ""), want: false},
		{name: "unauthenticated", err: status.Error(codes.Unauthenticated, ""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
