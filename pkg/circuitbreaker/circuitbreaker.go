package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail fast
	StateHalfOpen              // a few trial calls decide
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// SuccessThreshold successes while half-open close it again.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before trial calls.
	OpenTimeout time.Duration
	// MaxHalfOpenCalls caps concurrent trial calls.
	MaxHalfOpenCalls int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Second,
		MaxHalfOpenCalls: 1,
	}
}

type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	halfOpenCalls int
	openedAt      time.Time

	onStateChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.MaxHalfOpenCalls <= 0 {
		config.MaxHalfOpenCalls = 1
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// OnStateChange registers fn, called with the lock released.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrOpen without calling fn. Errors from fn are returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrOpen
	}
	err := fn(ctx)
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	var change func()
	defer func() {
		cb.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return false
		}
		change = cb.transitionLocked(StateHalfOpen)
		cb.halfOpenCalls = 1
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.config.MaxHalfOpenCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	var change func()
	defer func() {
		cb.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	if cb.state == StateHalfOpen {
		cb.halfOpenCalls--
	}

	if success {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				change = cb.transitionLocked(StateClosed)
			}
		}
		return
	}

	cb.successes = 0
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
		change = cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
		cb.halfOpenCalls = 0
	}
	if to == StateClosed {
		cb.halfOpenCalls = 0
	}

	if fn := cb.onStateChange; fn != nil {
		return func() { fn(from, to) }
	}
	return nil
}
