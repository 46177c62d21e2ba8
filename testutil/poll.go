package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/metrics"
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultInterval = time.Second
)

// ErrorPolicy decides what a predicate error does to a wait.
type ErrorPolicy int

const (
	// SwallowAndRetry treats a predicate error as "not yet".
	SwallowAndRetry ErrorPolicy = iota
	// PropagateErrors aborts the wait on the first predicate error.
	PropagateErrors
)

func (p ErrorPolicy) String() string {
	switch p {
	case SwallowAndRetry:
		return "swallow_and_retry"
	case PropagateErrors:
		return "propagate_errors"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", int(p))
	}
}

// ParseErrorPolicy parses the config names of the policies.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "swallow_and_retry", "swallow":
		return SwallowAndRetry, nil
	case "propagate_errors", "propagate":
		return PropagateErrors, nil
	default:
		return 0, fmt.Errorf("unknown error policy %q", s)
	}
}

// Result is what a predicate returns: NotYet, Pending with the state observed
// so far, or Ready with a value.
type Result[T any] struct {
	value    T
	ready    bool
	observed bool
}

func Ready[T any](v T) Result[T] {
	return Result[T]{value: v, ready: true, observed: true}
}

func NotYet[T any]() Result[T] {
	return Result[T]{}
}

// Pending is not ready yet but carries what was observed. Poll returns the last
// pending value together with a timeout or an aborting error.
func Pending[T any](v T) Result[T] {
	return Result[T]{value: v, observed: true}
}

// Value returns the ready value.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.ready
}

// Predicate reads ledger state and reports whether the awaited condition holds.
// It is invoked repeatedly and must not mutate anything.
type Predicate[T any] func(ctx context.Context) (Result[T], error)

// ErrTimeout matches every *TimeoutError with errors.Is.
var ErrTimeout = errors.New("timed out waiting for condition")

// TimeoutError means the predicate never became ready within Timeout.
type TimeoutError struct {
	Description string
	Timeout     time.Duration
	Attempts    int
	// LastErr is the last swallowed predicate error, if any.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s (%d attempts)", e.Timeout, e.Description, e.Attempts)
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// Poller waits for predicates with a bounded timeout.
type Poller struct {
	Timeout     time.Duration
	Interval    time.Duration
	ErrorPolicy ErrorPolicy
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

// NewPoller returns a poller with the default timeout, interval and policy.
func NewPoller(log *zap.Logger) Poller {
	return Poller{
		Timeout:     DefaultTimeout,
		Interval:    DefaultInterval,
		ErrorPolicy: SwallowAndRetry,
		Logger:      log,
	}
}

// WithTimeout returns a copy of p using timeout.
func (p Poller) WithTimeout(timeout time.Duration) Poller {
	p.Timeout = timeout
	return p
}

// WithPolicy returns a copy of p using policy.
func (p Poller) WithPolicy(policy ErrorPolicy) Poller {
	p.ErrorPolicy = policy
	return p
}

func (p Poller) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

func (p Poller) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultInterval
	}
	return p.Interval
}

func (p Poller) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Poll evaluates pred every interval until it is ready, the timeout elapses or
// ctx is done. Ledger rejections and invariant violations always abort the wait.
// A timeout or an aborting error returns the last Pending value.
func Poll[T any](ctx context.Context, p Poller, description string, pred Predicate[T]) (T, error) {
	var zero, last T
	timeout, interval := p.timeout(), p.interval()
	log := p.logger().With(zap.String("wait", description))

	start := time.Now()
	deadline := start.Add(timeout)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	finish := func(outcome string) {
		p.Metrics.WaitFinished(description, outcome, time.Since(start))
	}

	log.Info("waiting for condition", zap.Duration("timeout", timeout), zap.Duration("interval", interval))

	var (
		attempts int
		lastErr  error
	)
	for {
		attempts++
		p.Metrics.PollAttempt(description)

		res, err := pred(waitCtx)
		if res.observed {
			last = res.value
		}
		switch {
		case err != nil && ctx.Err() != nil:
			finish("error")
			return zero, ctx.Err()
		case err != nil && (p.ErrorPolicy == PropagateErrors || ibc.IsFatal(err)):
			if waitCtx.Err() != nil && !ibc.IsFatal(err) {
				// the predicate ran into the wait deadline
				lastErr = err
				break
			}
			finish("error")
			log.Warn("condition check failed", zap.Int("attempts", attempts), zap.Error(err))
			return last, fmt.Errorf("waiting for %s: %w", description, err)
		case err != nil:
			lastErr = err
			p.Metrics.SwallowedError(description)
			log.Debug("condition check failed, retrying", zap.Int("attempt", attempts), zap.Error(err))
		default:
			if v, ok := res.Value(); ok {
				finish("ready")
				log.Info("condition met", zap.Int("attempts", attempts), zap.Duration("elapsed", time.Since(start)))
				return v, nil
			}
			log.Debug("condition not met yet", zap.Int("attempt", attempts))
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		sleep := interval
		if remaining < sleep {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			finish("error")
			return zero, ctx.Err()
		case <-timer.C:
		}
		if !time.Now().Before(deadline) {
			break
		}
	}

	finish("timeout")
	terr := &TimeoutError{Description: description, Timeout: timeout, Attempts: attempts, LastErr: lastErr}
	log.Warn("condition not met before timeout", zap.Int("attempts", attempts), zap.Error(lastErr))
	return last, terr
}

// Wait is Poll for conditions that carry no value.
func (p Poller) Wait(ctx context.Context, description string, cond func(ctx context.Context) (bool, error)) error {
	_, err := Poll(ctx, p, description, func(ctx context.Context) (Result[struct{}], error) {
		ok, err := cond(ctx)
		if err != nil || !ok {
			return NotYet[struct{}](), err
		}
		return Ready(struct{}{}), nil
	})
	return err
}

// WaitForCondition polls fn every pollingInterval until it returns true, returns
// an error or timeoutAfter elapses.
func WaitForCondition(timeoutAfter, pollingInterval time.Duration, fn func() (bool, error)) error {
	p := Poller{Timeout: timeoutAfter, Interval: pollingInterval, ErrorPolicy: PropagateErrors}
	return p.Wait(context.Background(), "condition", func(context.Context) (bool, error) {
		return fn()
	})
}

// ExpectTimeout turns a wait that was supposed to time out into a success.
// A wait that succeeded means the condition became true when it must not have.
func ExpectTimeout(err error) error {
	switch {
	case err == nil:
		return &ibc.InvariantViolation{
			Invariant: "never",
			Subject:   "negative wait",
			Expected:  "timeout",
			Observed:  "condition became true",
		}
	case errors.Is(err, ErrTimeout):
		return nil
	default:
		return err
	}
}

// AssertNever fails if cond becomes true before the poller's timeout.
func AssertNever(ctx context.Context, p Poller, description string, cond func(ctx context.Context) (bool, error)) error {
	err := ExpectTimeout(p.Wait(ctx, description, cond))
	var violation *ibc.InvariantViolation
	if errors.As(err, &violation) && violation.Invariant == "never" {
		violation.Subject = description
	}
	return err
}
