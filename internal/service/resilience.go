package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
)

// ResilientCaller wraps an opaque remote call with a per-key circuit breaker,
// a per-attempt deadline and a retry policy. It knows nothing about what the
// call does.
type ResilientCaller struct {
	retry       *RetryPolicy
	breakers    *BreakerRegistry
	callTimeout time.Duration
	logger      *logging.Logger
	onRetry     RetryNotifyFunc
}

// ResilientCallerOption configures a ResilientCaller.
type ResilientCallerOption func(*ResilientCaller)

// WithCallTimeout bounds each individual attempt.
func WithCallTimeout(d time.Duration) ResilientCallerOption {
	return func(c *ResilientCaller) {
		c.callTimeout = d
	}
}

// WithRetryNotify registers a callback invoked before each retry wait.
func WithRetryNotify(fn RetryNotifyFunc) ResilientCallerOption {
	return func(c *ResilientCaller) {
		c.onRetry = fn
	}
}

// WithCallerLogger sets the logger.
func WithCallerLogger(l *logging.Logger) ResilientCallerOption {
	return func(c *ResilientCaller) {
		c.logger = l
	}
}

// NewResilientCaller creates a caller. Nil arguments fall back to defaults.
func NewResilientCaller(retry *RetryPolicy, breakers *BreakerRegistry, opts ...ResilientCallerOption) *ResilientCaller {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if breakers == nil {
		breakers = NewBreakerRegistry(DefaultBreakerConfig(), nil, nil)
	}
	c := &ResilientCaller{
		retry:    retry,
		breakers: breakers,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breakers returns the breaker registry.
func (c *ResilientCaller) Breakers() *BreakerRegistry {
	return c.breakers
}

// Call invokes fn for key. Every attempt first passes the key's breaker; an
// open breaker fails fast with *core.CircuitOpenError and is not retried.
// Transient failures are retried with backoff.
func (c *ResilientCaller) Call(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	start := time.Now()
	logger := c.logger.WithKey(key)

	err := c.retry.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		return c.attempt(ctx, key, fn)
	}, func(attempt int, err error, delay time.Duration) {
		completionRetriesTotal.WithLabelValues(key).Inc()
		logger.Warn("transient failure, retrying",
			"attempt", attempt,
			"delay", delay.Round(time.Millisecond),
			"error", err)
		if c.onRetry != nil {
			c.onRetry(attempt, err, delay)
		}
	})

	completionCallDuration.WithLabelValues(key).Observe(time.Since(start).Seconds())
	completionCallsTotal.WithLabelValues(key, callResult(err)).Inc()
	return err
}

func (c *ResilientCaller) attempt(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	breaker := c.breakers.Get(key)
	if err := breaker.Allow(); err != nil {
		return err
	}

	attemptCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	err := fn(attemptCtx)
	if err == nil {
		breaker.RecordSuccess()
		return nil
	}

	// The attempt deadline fired while the caller is still waiting.
	var domErr *core.DomainError
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.As(err, &domErr) {
		err = core.ErrTimeout(fmt.Sprintf("call %q exceeded %s", key, c.callTimeout)).WithCause(err)
	}

	if countsAgainstBreaker(err) {
		breaker.RecordFailure()
	} else {
		breaker.Release()
	}
	return err
}

// countsAgainstBreaker reports whether a failure says something about the
// downstream's health.
func countsAgainstBreaker(err error) bool {
	if core.IsTransient(err) {
		return true
	}
	return core.GetCategory(err) == core.ErrCatInternal
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case core.IsCircuitOpen(err):
		return "circuit_open"
	case core.IsCategory(err, core.ErrCatCancelled):
		return "cancelled"
	default:
		return "failure"
	}
}

// ResilientCompleter routes a Completer through a ResilientCaller under one key.
type ResilientCompleter struct {
	caller *ResilientCaller
	key    string
	next   core.Completer
}

// NewResilientCompleter wraps next.
func NewResilientCompleter(caller *ResilientCaller, key string, next core.Completer) *ResilientCompleter {
	return &ResilientCompleter{caller: caller, key: key, next: next}
}

// Complete implements core.Completer.
func (r *ResilientCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := r.caller.Call(ctx, r.key, func(ctx context.Context) error {
		resp, err := r.next.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
