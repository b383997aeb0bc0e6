package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rainbow-me/service-runtime/common/logger"
)

const (
	DefaultBaseDelay = 100 * time.Millisecond
)

// TimeoutError reports an attempt that did not finish within the per-attempt timeout.
// It surfaces to callers as DeadlineExceeded.
type TimeoutError struct {
	Attempt int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d timed out after %s", e.Attempt, e.Timeout)
}

func (e *TimeoutError) GRPCStatus() *status.Status {
	return status.New(codes.DeadlineExceeded, e.Error())
}

// IsTransient is the default retry classifier: timeouts, connectivity failures and
// errors without a gRPC status are retried; caller errors and cancellation are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TimeoutError
	if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() { //nolint:exhaustive
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Unknown:
		return true
	default:
		return false
	}
}

// Invoker runs an outbound call with a per-attempt timeout, retrying transient failures
// with exponential backoff. The delay after failed attempt n is 2^n times the base delay.
// Only the last attempt's error is returned.
type Invoker struct {
	maxAttempts int
	timeout     time.Duration
	baseDelay   time.Duration
	retryable   func(error) bool
	newTimer    func() backoff.Timer
	log         *logger.Logger
}

type InvokerOption func(*Invoker)

// WithBaseDelay changes the 100ms base of the backoff schedule.
func WithBaseDelay(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		i.baseDelay = d
	}
}

// WithRetryable replaces IsTransient as the retry classifier.
func WithRetryable(f func(error) bool) InvokerOption {
	return func(i *Invoker) {
		i.retryable = f
	}
}

// WithTimer supplies the timer used between attempts. Tests use it to observe delays.
func WithTimer(f func() backoff.Timer) InvokerOption {
	return func(i *Invoker) {
		i.newTimer = f
	}
}

// WithInvokerLogger logs every retry. Defaults to the context logger.
func WithInvokerLogger(log *logger.Logger) InvokerOption {
	return func(i *Invoker) {
		i.log = log
	}
}

// NewInvoker allows up to maxAttempts attempts (at least one), each bounded by timeout.
// A non-positive timeout leaves attempts bounded only by the caller's context.
func NewInvoker(maxAttempts int, timeout time.Duration, opts ...InvokerOption) *Invoker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	i := &Invoker{
		maxAttempts: maxAttempts,
		timeout:     timeout,
		baseDelay:   DefaultBaseDelay,
		retryable:   IsTransient,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// MaxAttempts returns the attempt bound.
func (i *Invoker) MaxAttempts() int {
	return i.maxAttempts
}

// Timeout returns the per-attempt timeout.
func (i *Invoker) Timeout() time.Duration {
	return i.timeout
}

// Invoke calls fn until it succeeds, fails with a non-retryable error, or the attempts
// run out. Cancelling ctx stops further attempts.
func (i *Invoker) Invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := i.invoke(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// invoke is Invoke for calls that produce a value. The value of the successful attempt
// is handed back on the caller's goroutine.
func (i *Invoker) invoke(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	var value any
	attempt := 0
	operation := func() error {
		attempt++
		v, err := i.attempt(ctx, attempt, fn)
		if err != nil {
			if !i.retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		value = v
		return nil
	}

	notify := func(err error, delay time.Duration) {
		i.logger(ctx).Debug("retrying outbound call",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
	}

	var timer backoff.Timer
	if i.newTimer != nil {
		timer = i.newTimer()
	}

	if err := backoff.RetryNotifyWithTimer(operation, i.schedule(ctx), notify, timer); err != nil {
		return nil, err
	}
	return value, nil
}

// schedule yields 2×base, 4×base, 8×base... with no jitter, bounded to maxAttempts-1 retries.
func (i *Invoker) schedule(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     2 * i.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	return backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(i.maxAttempts-1)) //nolint:gosec
}

type outcome struct {
	value any
	err   error
}

// attempt runs fn once. fn keeps running in the background if it ignores the timeout;
// its late result is dropped.
func (i *Invoker) attempt(ctx context.Context, n int, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i.timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		v, err := fn(attemptCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &TimeoutError{Attempt: n, Timeout: i.timeout}
	}
}

func (i *Invoker) logger(ctx context.Context) *logger.Logger {
	if i.log != nil {
		return i.log
	}
	return logger.FromContext(ctx)
}
