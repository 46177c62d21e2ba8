package testutil

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dymensionxyz/ibc-convergence/ibc"
	"github.com/dymensionxyz/ibc-convergence/metrics"
)

func fastPoller(t *testing.T, timeout time.Duration) Poller {
	return Poller{
		Timeout:  timeout,
		Interval: 10 * time.Millisecond,
		Logger:   zaptest.NewLogger(t),
		Metrics:  metrics.NewCollector(),
	}
}

func TestPollTimesOut(t *testing.T) {
	p := fastPoller(t, 200*time.Millisecond)
	start := time.Now()
	_, err := Poll(context.Background(), p, "never", func(context.Context) (Result[int], error) {
		return NotYet[int](), nil
	})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "never", terr.Description)
	require.Greater(t, terr.Attempts, 1)
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	require.Less(t, elapsed, 400*time.Millisecond)
}

func TestPollReadyAfterAttempts(t *testing.T) {
	p := fastPoller(t, 10*time.Second)
	var calls int32
	start := time.Now()
	v, err := Poll(context.Background(), p, "third time", func(context.Context) (Result[string], error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return NotYet[string](), nil
		}
		return Ready("done"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "done", v)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
	require.Less(t, time.Since(start), time.Second)
}

func TestPollErrorPolicy(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("swallow and retry", func(t *testing.T) {
		var calls int32
		v, err := Poll(context.Background(), fastPoller(t, 5*time.Second), "flaky", func(context.Context) (Result[int], error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return NotYet[int](), boom
			}
			return Ready(7), nil
		})
		require.NoError(t, err)
		require.Equal(t, 7, v)
	})

	t.Run("swallowed error is reported on timeout", func(t *testing.T) {
		_, err := Poll(context.Background(), fastPoller(t, 50*time.Millisecond), "down", func(context.Context) (Result[int], error) {
			return NotYet[int](), boom
		})
		require.ErrorIs(t, err, ErrTimeout)
		require.ErrorIs(t, err, boom)
	})

	t.Run("propagate errors", func(t *testing.T) {
		var calls int32
		p := fastPoller(t, 5*time.Second).WithPolicy(PropagateErrors)
		_, err := Poll(context.Background(), p, "flaky", func(context.Context) (Result[int], error) {
			atomic.AddInt32(&calls, 1)
			return NotYet[int](), boom
		})
		require.ErrorIs(t, err, boom)
		require.NotErrorIs(t, err, ErrTimeout)
		require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("fatal errors always abort", func(t *testing.T) {
		for _, fatal := range []error{
			&ibc.LedgerRejection{Code: 11, RawLog: "out of gas"},
			&ibc.InvariantViolation{Invariant: "unique_event", Subject: "recv_packet"},
		} {
			var calls int32
			_, err := Poll(context.Background(), fastPoller(t, 5*time.Second), "fatal", func(context.Context) (Result[int], error) {
				atomic.AddInt32(&calls, 1)
				return NotYet[int](), fatal
			})
			require.ErrorIs(t, err, fatal)
			require.EqualValues(t, 1, atomic.LoadInt32(&calls))
		}
	})
}

func TestPollContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := Poll(ctx, fastPoller(t, 10*time.Second), "canceled", func(context.Context) (Result[int], error) {
		return NotYet[int](), nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitForCondition(t *testing.T) {
	n := 0
	err := WaitForCondition(time.Second, 5*time.Millisecond, func() (bool, error) {
		n++
		return n == 2, nil
	})
	require.NoError(t, err)

	err = WaitForCondition(30*time.Millisecond, 5*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestNegativeAssertions(t *testing.T) {
	require.NoError(t, ExpectTimeout(&TimeoutError{Description: "x"}))
	require.Error(t, ExpectTimeout(nil))
	other := errors.New("other")
	require.ErrorIs(t, ExpectTimeout(other), other)

	p := fastPoller(t, 50*time.Millisecond)
	require.NoError(t, AssertNever(context.Background(), p, "balance change", func(context.Context) (bool, error) {
		return false, nil
	}))

	err := AssertNever(context.Background(), p, "balance change", func(context.Context) (bool, error) {
		return true, nil
	})
	var violation *ibc.InvariantViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "balance change", violation.Subject)
}

func TestParseErrorPolicy(t *testing.T) {
	p, err := ParseErrorPolicy("propagate_errors")
	require.NoError(t, err)
	require.Equal(t, PropagateErrors, p)

	p, err = ParseErrorPolicy("")
	require.NoError(t, err)
	require.Equal(t, SwallowAndRetry, p)
	require.Equal(t, "swallow_and_retry", p.String())

	_, err = ParseErrorPolicy("ignore")
	require.Error(t, err)
}

func TestPollReturnsLastPendingValue(t *testing.T) {
	var calls int32
	v, err := Poll(context.Background(), fastPoller(t, 60*time.Millisecond), "counter", func(context.Context) (Result[int32], error) {
		return Pending(atomic.AddInt32(&calls, 1)), nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, atomic.LoadInt32(&calls), v)

	v, err = Poll(context.Background(), fastPoller(t, 5*time.Second), "violated", func(context.Context) (Result[int32], error) {
		return Pending(int32(7)), &ibc.InvariantViolation{Invariant: "counter"}
	})
	var violation *ibc.InvariantViolation
	require.ErrorAs(t, err, &violation)
	require.EqualValues(t, 7, v)
}
