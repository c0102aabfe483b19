// Package resilience provides the circuit breaker and retry policy wrapped
// around every outbound agent call.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// Default circuit breaker settings.
const (
	DefaultFailureThreshold uint32        = 5
	DefaultOpenTimeout      time.Duration = 60 * time.Second
	DefaultSuccessThreshold uint32        = 2
)

// BreakerConfig configures a destination circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32 `yaml:"failure_threshold"`
	// OpenTimeout is how long the circuit stays open before admitting probes.
	OpenTimeout time.Duration `yaml:"open_timeout"`
	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	SuccessThreshold uint32 `yaml:"success_threshold"`
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	return c
}

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// StateListener is notified after every state transition.
type StateListener func(destination string, from, to State)

// Breaker guards calls to one destination. Transitions are serialized by
// gobreaker's internal lock, so a Breaker is safe for concurrent use.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker creates a breaker for destination. Zero config fields fall
// back to the defaults.
func NewBreaker(destination string, cfg BreakerConfig, logger *slog.Logger, listener StateListener) *Breaker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	threshold := cfg.FailureThreshold

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        destination,
		MaxRequests: cfg.SuccessThreshold,
		Interval:    0, // consecutive failures never reset on a timer
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"destination", name,
				"from", fromGobreaker(from).String(),
				"to", fromGobreaker(to).String(),
			)
			if listener != nil {
				listener(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
		// A reachable destination that answers with a well-formed error is healthy.
		IsSuccessful: func(err error) bool {
			return !domain.IsDestinationFailure(err)
		},
		// An abandoned call says nothing about the destination either way.
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCircuitOpen)
		},
	})

	return &Breaker{name: destination, cb: cb}
}

// Execute runs fn through the breaker. While the circuit is open, or while
// half-open probes are already in flight, it fails fast with an error
// wrapping domain.ErrCircuitOpen and fn is not called.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewDomainError("Breaker.Execute", domain.ErrCircuitOpen,
			fmt.Sprintf("destination %q", b.name))
	}
	return err
}

// Name returns the destination this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying any pending open-timeout expiry.
func (b *Breaker) State() State { return fromGobreaker(b.cb.State()) }

// Counts returns the current failure/success counts.
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }

// BreakerSet lazily holds one breaker per destination for the process lifetime.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	logger   *slog.Logger
	listener StateListener
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty set sharing cfg across destinations.
func NewBreakerSet(cfg BreakerConfig, logger *slog.Logger, listener StateListener) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		logger:   logger,
		listener: listener,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for destination, creating it on first use.
func (s *BreakerSet) Get(destination string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[destination]
	if !ok {
		b = NewBreaker(destination, s.cfg, s.logger, s.listener)
		s.breakers[destination] = b
	}
	return b
}

// States returns a snapshot of every known destination's state.
func (s *BreakerSet) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State()
	}
	return out
}
