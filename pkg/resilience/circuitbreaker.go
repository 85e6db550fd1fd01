package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"claw-companion/backend/pkg/logger"
)

// ErrOpen is returned without calling through while the breaker is open
var ErrOpen = errors.New("circuit open")

// State of a circuit breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds configuration for a circuit breaker
type Config struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
	// Counts reports whether err should count as a failure. Defaults to
	// every non-nil error except context cancellation.
	Counts func(err error) bool
	Now    func() time.Time
}

// DefaultConfig returns the breaker settings used for remote calls
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing dependency until RetryTimeout has
// passed, then lets trial calls through
type CircuitBreaker struct {
	cfg   Config
	log   *logger.Logger
	mutex sync.Mutex

	state           State
	failureCount    uint
	successCount    uint
	nextAttemptTime time.Time

	totalRequests uint64
	totalFailures uint64
	openCount     uint64
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(cfg Config, log *logger.Logger) *CircuitBreaker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &CircuitBreaker{cfg: cfg, log: log, state: StateClosed}
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrOpen
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.cfg.Now().Before(cb.nextAttemptTime) {
			return false
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.log.Info("circuit breaker half-open", "name", cb.cfg.Name)
	case StateHalfOpen:
		if cb.successCount >= cb.cfg.SuccessThreshold {
			return false
		}
	}
	cb.totalRequests++
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !cb.cfg.Counts(err) {
		switch cb.state {
		case StateClosed:
			cb.failureCount = 0
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.cfg.SuccessThreshold {
				cb.state = StateClosed
				cb.failureCount = 0
				cb.log.Info("circuit breaker closed", "name", cb.cfg.Name)
			}
		}
		return
	}

	cb.totalFailures++
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.open(err)
		}
	case StateHalfOpen:
		cb.open(err)
	}
}

func (cb *CircuitBreaker) open(cause error) {
	cb.state = StateOpen
	cb.openCount++
	cb.nextAttemptTime = cb.cfg.Now().Add(cb.cfg.RetryTimeout)
	cb.log.Warn("circuit breaker opened",
		"name", cb.cfg.Name,
		"failures", cb.failureCount,
		"error", cause.Error(),
		"next_attempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Metrics returns counters for the health endpoint
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return map[string]interface{}{
		"name":           cb.cfg.Name,
		"state":          string(cb.state),
		"total_requests": cb.totalRequests,
		"total_failures": cb.totalFailures,
		"open_count":     cb.openCount,
	}
}
