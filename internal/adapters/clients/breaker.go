package clients

import (
	"sync"
	"time"

	"github.com/jsamuelsen/quotekeeper/internal/platform/config"
)

// State is the position of a Breaker.
type State int

// Breaker states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// Breaker stops calls to a failing service. It opens after MaxFailures
// consecutive failures, rejects everything for Timeout, then admits up to
// HalfOpenLimit probes. The first failed probe reopens it; HalfOpenLimit
// successful probes close it.
//
// Every transition starts a new generation. Outcomes reported against an
// older generation are dropped, so a slow request admitted while closed
// cannot close a breaker that has since opened.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	probeLimit  int
	now         func() time.Time
	onChange    func(from, to State)

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int
	inFlight   int
	passed     int
	openedAt   time.Time
}

// NewBreaker creates a closed breaker. Non-positive settings fall back to
// 5 failures, 30s and 1 probe.
func NewBreaker(cfg config.CircuitBreakerConfig) *Breaker {
	b := &Breaker{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Timeout,
		probeLimit:  cfg.HalfOpenLimit,
		now:         time.Now,
	}

	if b.maxFailures <= 0 {
		b.maxFailures = 5
	}

	if b.cooldown <= 0 {
		b.cooldown = 30 * time.Second
	}

	if b.probeLimit <= 0 {
		b.probeLimit = 1
	}

	return b
}

// OnChange registers fn to run after each transition. fn runs outside the
// breaker lock. Set it before the breaker is shared.
func (b *Breaker) OnChange(fn func(from, to State)) {
	b.onChange = fn
}

// State reports the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.expire()
	state := b.state
	b.mu.Unlock()

	b.notify(from, to)

	return state
}

// Acquire asks to make a call. It returns the generation to pass to Release,
// or ErrCircuitOpen when the call must not be made.
func (b *Breaker) Acquire() (uint64, error) {
	b.mu.Lock()
	from, to := b.expire()

	var err error

	switch b.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight+b.passed >= b.probeLimit {
			err = ErrCircuitOpen
		} else {
			b.inFlight++
		}
	}

	gen := b.generation
	b.mu.Unlock()

	b.notify(from, to)

	return gen, err
}

// Release reports the outcome of a call admitted under generation gen.
func (b *Breaker) Release(gen uint64, ok bool) {
	b.mu.Lock()

	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	from, to := b.state, b.state

	switch b.state {
	case StateClosed:
		if ok {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.maxFailures {
				to = b.moveTo(StateOpen)
			}
		}
	case StateHalfOpen:
		b.inFlight--
		if !ok {
			to = b.moveTo(StateOpen)
			break
		}

		b.passed++
		if b.passed >= b.probeLimit {
			to = b.moveTo(StateClosed)
		}
	}

	b.mu.Unlock()

	b.notify(from, to)
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	to := b.moveTo(StateClosed)
	b.mu.Unlock()

	b.notify(from, to)
}

// expire moves an open breaker whose cooldown has elapsed to half-open.
// Callers hold mu.
func (b *Breaker) expire() (from, to State) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateOpen, b.moveTo(StateHalfOpen)
	}

	return b.state, b.state
}

// moveTo starts a new generation in state s. Callers hold mu.
func (b *Breaker) moveTo(s State) State {
	b.state = s
	b.generation++
	b.failures = 0
	b.inFlight = 0
	b.passed = 0

	if s == StateOpen {
		b.openedAt = b.now()
	}

	return s
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
