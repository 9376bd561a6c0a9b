// Package circuit provides circuit breakers for routes and upstream
// reasoning providers.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/LeeJc02/ShopMate/pkg/fault"
)

// State represents the current state of a circuit breaker.
type State int

const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Probing whether the downstream recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"` // Consecutive failures before opening
	Cooldown         time.Duration `json:"cooldown"`          // Time to wait before admitting a probe
}

// DefaultConfig returns the route breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Snapshot is a point-in-time copy of a breaker's state.
type Snapshot struct {
	Name                  string    `json:"name"`
	State                 State     `json:"state"`
	ConsecutiveFailures   int       `json:"consecutive_failures"`
	OpenedAt              time.Time `json:"opened_at,omitempty"`
	HalfOpenProbeInFlight bool      `json:"half_open_probe_in_flight"`
}

// Error is returned when a call is short-circuited.
type Error struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

func (e *Error) Unwrap() error {
	return fault.ErrCircuitOpen
}

// Ticket is handed out by Allow and must be settled exactly once with
// Record or Release.
type Ticket struct {
	probe      bool
	generation uint64
}

// Probe reports whether the ticket is the single half-open probe.
func (t Ticket) Probe() bool {
	return t.probe
}

// TransitionFunc observes state changes.
type TransitionFunc func(name string, from, to State)

type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

func WithTransitionHook(fn TransitionFunc) Option {
	return func(b *Breaker) {
		b.onTransition = fn
	}
}

// Breaker is a mutex-guarded consecutive-failure breaker that admits exactly
// one probe while half-open.
type Breaker struct {
	name         string
	config       Config
	now          func() time.Time
	onTransition TransitionFunc

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
	generation    uint64
}

// New creates a new circuit breaker with the given configuration.
func New(name string, config Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	b := &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

// Allow checks if a call may proceed. It returns *Error while the circuit is
// open or while another probe is in flight.
func (b *Breaker) Allow() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return Ticket{generation: b.generation}, nil

	case Open:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.config.Cooldown {
			return Ticket{}, &Error{Name: b.name, State: Open, RetryAfter: b.config.Cooldown - elapsed}
		}
		b.transition(HalfOpen)
		b.probeInFlight = true
		return Ticket{probe: true, generation: b.generation}, nil

	case HalfOpen:
		if b.probeInFlight {
			return Ticket{}, &Error{Name: b.name, State: HalfOpen}
		}
		b.probeInFlight = true
		return Ticket{probe: true, generation: b.generation}, nil
	}
	return Ticket{}, &Error{Name: b.name, State: b.state}
}

// Record settles a ticket with the call's outcome.
func (b *Breaker) Record(t Ticket, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.generation != b.generation {
		return
	}

	if t.probe {
		b.probeInFlight = false
		if success {
			b.failures = 0
			b.transition(Closed)
			return
		}
		b.failures++
		b.openedAt = b.now()
		b.transition(Open)
		return
	}

	// Calls admitted before the circuit opened may finish late; only a
	// closed circuit counts them.
	if b.state != Closed {
		return
	}
	if success {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.config.FailureThreshold {
		b.openedAt = b.now()
		b.transition(Open)
	}
}

// Release settles a ticket without counting it either way.
func (b *Breaker) Release(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.probe && t.generation == b.generation {
		b.probeInFlight = false
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                  b.name,
		State:                 b.state,
		ConsecutiveFailures:   b.failures,
		OpenedAt:              b.openedAt,
		HalfOpenProbeInFlight: b.probeInFlight,
	}
}

// Reset manually resets the circuit breaker to closed state. Tickets issued
// before the reset are ignored when settled.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generation++
	b.failures = 0
	b.openedAt = time.Time{}
	b.probeInFlight = false
	b.transition(Closed)
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}
