package utils

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// CircuitBreaker guards calls to an unreliable collaborator, such as the
// notification sink. Transitions closed -> open once the failure ratio
// trips over a full counting window, then half-open after the timeout to
// let a few requests test recovery.
type CircuitBreaker struct {
	name         string
	maxRequests  uint32
	timeout      time.Duration
	failureRatio float64

	mutex      sync.Mutex
	state      State
	counts     Counts
	expiry     time.Time
	generation uint64
}

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

var (
	ErrBreakerOpen     = errors.New("circuit breaker is open")
	ErrTooManyHalfOpen = errors.New("too many requests while circuit breaker is half-open")
)

// NewCircuitBreaker builds a breaker from the caller's policy knobs.
// maxRequests is both the counting-window size while closed and the
// request cap while half-open; timeout is how long the breaker stays
// open before testing recovery.
func NewCircuitBreaker(name string, maxRequests uint32, timeout time.Duration, failureRatio float64) *CircuitBreaker {
	if maxRequests == 0 {
		maxRequests = 100
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.6
	}
	return &CircuitBreaker{
		name:         name,
		maxRequests:  maxRequests,
		timeout:      timeout,
		failureRatio: failureRatio,
		state:        StateClosed,
	}
}

func (cb *CircuitBreaker) Execute(ctx context.Context, req func() (interface{}, error)) (interface{}, error) {
	generation, err := cb.beforeRequest()
	if err != nil {
		return nil, err
	}

	defer func() {
		if e := recover(); e != nil {
			cb.afterRequest(generation, false)
			panic(e)
		}
	}()

	result, err := req()
	cb.afterRequest(generation, err == nil)
	return result, err
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state, generation := cb.currentState(time.Now())

	switch {
	case state == StateOpen:
		return generation, ErrBreakerOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.maxRequests:
		return generation, ErrTooManyHalfOpen
	}

	cb.counts.Requests++
	return generation, nil
}

func (cb *CircuitBreaker) afterRequest(before uint64, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)
	if generation != before {
		// The window rolled over while the request was in flight;
		// its outcome belongs to the previous generation.
		return
	}

	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	if state == StateHalfOpen || cb.readyToTrip() {
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) readyToTrip() bool {
	return cb.counts.Requests >= cb.maxRequests &&
		float64(cb.counts.TotalFailures)/float64(cb.counts.Requests) >= cb.failureRatio
}

func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.newGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

// setState is the only place state changes, so every transition gets a
// named log line.
func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	failures := cb.counts.TotalFailures
	cb.state = state
	cb.newGeneration(now)

	switch state {
	case StateOpen:
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"from", prev.String(),
			"failures", failures,
			"timeout", cb.timeout)
	default:
		slog.Info("circuit breaker state changed",
			"name", cb.name,
			"from", prev.String(),
			"to", state.String())
	}
}

func (cb *CircuitBreaker) newGeneration(now time.Time) {
	cb.generation++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		cb.expiry = now.Add(cb.timeout)
	case StateOpen:
		cb.expiry = now.Add(cb.timeout)
	default:
		cb.expiry = time.Time{}
	}
}
