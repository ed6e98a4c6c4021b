package clients

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen/quotekeeper/internal/platform/config"
)

// fakeClock is a settable time source for breaker tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures, probes int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(config.CircuitBreakerConfig{
		MaxFailures:   failures,
		Timeout:       time.Minute,
		HalfOpenLimit: probes,
	})
	b.now = clock.now

	return b, clock
}

// fail runs n admitted calls that all fail.
func fail(t *testing.T, b *Breaker, n int) {
	t.Helper()

	for range n {
		gen, err := b.Acquire()
		require.NoError(t, err)
		b.Release(gen, false)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(config.CircuitBreakerConfig{})

	assert.Equal(t, 5, b.maxFailures)
	assert.Equal(t, 30*time.Second, b.cooldown)
	assert.Equal(t, 1, b.probeLimit)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 1)

	fail(t, b, 2)
	assert.Equal(t, StateClosed, b.State())

	fail(t, b, 1)
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Acquire()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, 1)

	fail(t, b, 2)

	gen, err := b.Acquire()
	require.NoError(t, err)
	b.Release(gen, true)

	fail(t, b, 2)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, 2)
	fail(t, b, 1)

	clock.advance(59 * time.Second)
	assert.Equal(t, StateOpen, b.State())

	clock.advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_ProbesCloseIt(t *testing.T) {
	b, clock := newTestBreaker(1, 2)
	fail(t, b, 1)
	clock.advance(time.Minute)

	first, err := b.Acquire()
	require.NoError(t, err)
	second, err := b.Acquire()
	require.NoError(t, err)

	_, err = b.Acquire()
	require.ErrorIs(t, err, ErrCircuitOpen, "probe limit reached")

	b.Release(first, true)
	assert.Equal(t, StateHalfOpen, b.State())

	b.Release(second, true)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 2)
	fail(t, b, 1)
	clock.advance(time.Minute)

	gen, err := b.Acquire()
	require.NoError(t, err)
	b.Release(gen, false)

	assert.Equal(t, StateOpen, b.State())

	clock.advance(30 * time.Second)
	_, err = b.Acquire()
	assert.ErrorIs(t, err, ErrCircuitOpen, "cooldown restarts on reopen")
}

func TestBreaker_StaleOutcomesAreIgnored(t *testing.T) {
	b, clock := newTestBreaker(1, 1)

	slow, err := b.Acquire()
	require.NoError(t, err)

	fail(t, b, 1)
	require.Equal(t, StateOpen, b.State())

	b.Release(slow, true)
	assert.Equal(t, StateOpen, b.State())

	clock.advance(time.Minute)
	probe, err := b.Acquire()
	require.NoError(t, err)

	b.Release(slow, false)
	assert.Equal(t, StateHalfOpen, b.State())

	b.Release(probe, true)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OnChangeAndReset(t *testing.T) {
	b, clock := newTestBreaker(1, 1)

	var seen []string
	b.OnChange(func(from, to State) {
		seen = append(seen, from.String()+"->"+to.String())
	})

	fail(t, b, 1)
	clock.advance(time.Minute)
	_ = b.State()
	b.Reset()
	b.Reset()

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, seen)
}
