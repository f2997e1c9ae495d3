package resilience

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jaqedu/jaqflow/pkg/schema"
)

// State represents the state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, rejecting calls
	StateHalfOpen              // Probing recovery with a single trial call
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrorMatcher decides whether an error is "expected" and must not count as a failure.
type ErrorMatcher interface {
	Match(err error) bool
}

// MessageMatcher matches errors whose message (or EngineError code) equals the string.
type MessageMatcher string

func (m MessageMatcher) Match(err error) bool {
	s := string(m)
	return err.Error() == s || schema.Message(err) == s || schema.ErrorCode(err) == s
}

// PatternMatcher matches errors whose message matches the regular expression.
type PatternMatcher struct {
	Re *regexp.Regexp
}

func (m PatternMatcher) Match(err error) bool {
	return m.Re != nil && m.Re.MatchString(err.Error())
}

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures within
	// MonitoringPeriod before opening.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a trial call is allowed.
	ResetTimeout time.Duration
	// MonitoringPeriod bounds the failure window; older failures are forgotten.
	MonitoringPeriod time.Duration
	// ExpectedErrors never count as failures and never change state.
	ExpectedErrors []ErrorMatcher

	OnStateChange func(name string, from, to State)
	OnFailure     func(name string, err error)
	OnSuccess     func(name string)
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		MonitoringPeriod: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = d.MonitoringPeriod
	}
	return c
}

// Metrics is a point-in-time snapshot of a breaker.
type Metrics struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	SuccessCount    int64      `json:"success_count"`
	FailureCount    int64      `json:"failure_count"`
	TotalRequests   int64      `json:"total_requests"`
	FailureRate     float64    `json:"failure_rate"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
}

// CircuitBreaker guards calls to an unreliable collaborator.
type CircuitBreaker struct {
	name   string
	config Config
	now    func() time.Time

	mu              sync.Mutex
	state           State
	failures        int // consecutive failures in the current window
	windowStart     time.Time
	lastFailureTime time.Time
	trialInFlight   bool
	successCount    int64
	failureCount    int64
	totalRequests   int64
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: cfg.withDefaults(),
		now:    time.Now,
		state:  StateClosed,
	}
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state. An open breaker whose reset timeout has
// elapsed still reports OPEN until the next call attempts the trial.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs op through the breaker. While OPEN, op is not invoked and an
// EngineError with code CIRCUIT_OPEN is returned. A panic in op is recorded
// as a failure and re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	trial, err := cb.beforeCall()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterCall(trial, fmt.Errorf("circuit breaker %s: operation panicked: %v", cb.name, r))
			panic(r)
		}
	}()
	err = op(ctx)
	cb.afterCall(trial, err)
	return err
}

// ExecuteValue runs op through cb and returns its value.
func ExecuteValue[T any](ctx context.Context, cb *CircuitBreaker, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		out = v
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) beforeCall() (trial bool, err error) {
	var changed bool
	var from State

	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.config.ResetTimeout {
			cb.mu.Unlock()
			return false, cb.openError()
		}
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.trialInFlight = true
		trial = true
	case StateHalfOpen:
		if cb.trialInFlight {
			cb.mu.Unlock()
			return false, cb.openError()
		}
		cb.trialInFlight = true
		trial = true
	}
	cb.totalRequests++
	cb.mu.Unlock()

	if changed {
		cb.notifyStateChange(from, StateHalfOpen)
	}
	return trial, nil
}

func (cb *CircuitBreaker) afterCall(trial bool, err error) {
	if err != nil && cb.isExpected(err) {
		cb.mu.Lock()
		if trial {
			cb.trialInFlight = false
		}
		cb.mu.Unlock()
		return
	}

	if err == nil {
		cb.onSuccess(trial)
		return
	}
	cb.onFailure(trial, err)
}

func (cb *CircuitBreaker) onSuccess(trial bool) {
	var changed bool
	var from State

	cb.mu.Lock()
	if trial {
		// Recovery starts a fresh count.
		cb.trialInFlight = false
		from, changed = cb.state, cb.state != StateClosed
		cb.state = StateClosed
		cb.failures = 0
		cb.windowStart = time.Time{}
		cb.successCount, cb.failureCount = 0, 0
	} else {
		cb.successCount++
		cb.failures = 0
		cb.windowStart = time.Time{}
	}
	cb.mu.Unlock()

	if changed {
		cb.notifyStateChange(from, StateClosed)
	}
	if cb.config.OnSuccess != nil {
		cb.config.OnSuccess(cb.name)
	}
}

func (cb *CircuitBreaker) onFailure(trial bool, err error) {
	var changed bool
	var from State

	cb.mu.Lock()
	now := cb.now()
	cb.failureCount++
	cb.lastFailureTime = now

	if trial {
		cb.trialInFlight = false
		from, changed = cb.state, cb.state != StateOpen
		cb.state = StateOpen
	} else {
		if cb.windowStart.IsZero() || now.Sub(cb.windowStart) > cb.config.MonitoringPeriod {
			cb.windowStart = now
			cb.failures = 0
		}
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold {
			from, changed = cb.state, true
			cb.state = StateOpen
		}
	}
	cb.mu.Unlock()

	if cb.config.OnFailure != nil {
		cb.config.OnFailure(cb.name, err)
	}
	if changed {
		cb.notifyStateChange(from, StateOpen)
	}
}

func (cb *CircuitBreaker) isExpected(err error) bool {
	for _, m := range cb.config.ExpectedErrors {
		if m != nil && m.Match(err) {
			return true
		}
	}
	return errors.Is(err, context.Canceled)
}

func (cb *CircuitBreaker) notifyStateChange(from, to State) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) openError() error {
	return schema.NewErrorf(schema.ErrCodeCircuitOpen, "Circuit breaker '%s' is OPEN", cb.name).
		WithDetails(map[string]any{"breaker": cb.name})
}

// Metrics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := Metrics{
		Name:          cb.name,
		State:         cb.state,
		SuccessCount:  cb.successCount,
		FailureCount:  cb.failureCount,
		TotalRequests: cb.totalRequests,
	}
	if cb.totalRequests > 0 {
		m.FailureRate = float64(cb.failureCount) / float64(cb.totalRequests)
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		m.LastFailureTime = &t
	}
	return m
}

// Reset forces the breaker back to CLOSED with zeroed counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.windowStart = time.Time{}
	cb.lastFailureTime = time.Time{}
	cb.trialInFlight = false
	cb.successCount, cb.failureCount, cb.totalRequests = 0, 0, 0
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notifyStateChange(from, StateClosed)
	}
}
