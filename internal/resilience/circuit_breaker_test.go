package resilience

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("test", cfg)
	cb.now = clock.Now
	return cb, clock
}

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 3, ResetTimeout: time.Second, MonitoringPeriod: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 3, ResetTimeout: time.Second, MonitoringPeriod: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
		require.NoError(t, cb.Execute(ctx, ok))
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, int64(3), cb.Metrics().FailureCount)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.ErrorCode(err))
	assert.Equal(t, "Circuit breaker 'test' is OPEN", schema.Message(err))
}

func TestCircuitBreaker_HalfOpenTrialSuccessCloses(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Second})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	m := cb.Metrics()
	assert.Zero(t, m.FailureCount)
	assert.Zero(t, m.SuccessCount)
}

func TestCircuitBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Second})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)

	clock.Advance(2 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// Timer restarted from the trial failure.
	err := cb.Execute(ctx, ok)
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.ErrorCode(err))
}

func TestCircuitBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Second})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.Equal(t, StateHalfOpen, cb.State())
	err := cb.Execute(ctx, ok)
	assert.Equal(t, schema.ErrCodeCircuitOpen, schema.ErrorCode(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanickingTrialReopens(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	assert.PanicsWithValue(t, "store exploded", func() {
		_ = cb.Execute(ctx, func(context.Context) error { panic("store exploded") })
	})
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, int64(2), cb.Metrics().FailureCount)

	clock.Advance(time.Second)
	called := false
	require.NoError(t, cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicCountsAsFailureWhenClosed(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Hour})

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ConcurrentCallersKeepCountsConsistent(t *testing.T) {
	cb := NewCircuitBreaker("concurrent", Config{FailureThreshold: 1 << 30, MonitoringPeriod: time.Hour})
	ctx := context.Background()

	const workers, calls = 16, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				if (w+i)%3 == 0 {
					_ = cb.Execute(ctx, fail)
				} else {
					_ = cb.Execute(ctx, ok)
				}
			}
		}(w)
	}
	wg.Wait()

	m := cb.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.Equal(t, int64(workers*calls), m.TotalRequests)
	assert.Equal(t, m.TotalRequests, m.SuccessCount+m.FailureCount)
}

func TestCircuitBreaker_ExpectedErrorsIgnored(t *testing.T) {
	cb, _ := newTestBreaker(Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ExpectedErrors: []ErrorMatcher{
			MessageMatcher("not found"),
			PatternMatcher{Re: regexp.MustCompile(`^validation:`)},
		},
	})
	ctx := context.Background()

	for _, e := range []error{errors.New("not found"), errors.New("validation: bad id")} {
		e := e
		assert.Equal(t, e, cb.Execute(ctx, func(context.Context) error { return e }))
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Metrics().FailureCount)
}

func TestCircuitBreaker_MonitoringPeriodForgetsOldFailures(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 2, ResetTimeout: time.Minute, MonitoringPeriod: 10 * time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(11 * time.Second)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Callbacks(t *testing.T) {
	var transitions []string
	var failures, successes int
	cb, clock := newTestBreaker(Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
		OnFailure: func(string, error) { failures++ },
		OnSuccess: func(string) { successes++ },
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, ok)

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, successes)
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 10})
	ctx := context.Background()

	_ = cb.Execute(ctx, ok)
	_ = cb.Execute(ctx, ok)
	_ = cb.Execute(ctx, ok)
	_ = cb.Execute(ctx, fail)

	m := cb.Metrics()
	assert.Equal(t, "test", m.Name)
	assert.Equal(t, StateClosed, m.State)
	assert.Equal(t, int64(3), m.SuccessCount)
	assert.Equal(t, int64(1), m.FailureCount)
	assert.Equal(t, int64(4), m.TotalRequests)
	assert.InDelta(t, 0.25, m.FailureRate, 1e-9)
	require.NotNil(t, m.LastFailureTime)
	assert.Equal(t, clock.Now(), *m.LastFailureTime)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Metrics().TotalRequests)
	assert.NoError(t, cb.Execute(context.Background(), ok))
}

func TestExecuteValue(t *testing.T) {
	cb := NewCircuitBreaker("v", Config{})
	n, err := ExecuteValue(context.Background(), cb, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestState_JSONName(t *testing.T) {
	b, err := StateHalfOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "HALF_OPEN", string(b))
}
