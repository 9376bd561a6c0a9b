package circuit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeJc02/ShopMate/pkg/fault"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("after_sales", Config{FailureThreshold: threshold, Cooldown: cooldown}, WithClock(clock.Now))
	return b, clock
}

func fail(t *testing.T, b *Breaker) {
	t.Helper()
	ticket, err := b.Allow()
	require.NoError(t, err)
	b.Record(ticket, false)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		fail(t, b)
		assert.Equal(t, Closed, b.State())
	}
	fail(t, b)
	assert.Equal(t, Open, b.State())

	_, err := b.Allow()
	require.Error(t, err)
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, Open, cerr.State)
	assert.Equal(t, 30*time.Second, cerr.RetryAfter)
	assert.True(t, errors.Is(err, fault.ErrCircuitOpen))
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	fail(t, b)
	fail(t, b)
	ticket, err := b.Allow()
	require.NoError(t, err)
	b.Record(ticket, true)
	fail(t, b)
	fail(t, b)

	snap := b.Snapshot()
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, 2, snap.ConsecutiveFailures)
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	fail(t, b)
	require.Equal(t, Open, b.State())

	clock.Advance(10 * time.Second)
	probe, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, probe.Probe())
	assert.True(t, b.Snapshot().HalfOpenProbeInFlight)

	_, err = b.Allow()
	require.Error(t, err, "second caller must be rejected while the probe is in flight")

	b.Record(probe, true)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)

	_, err = b.Allow()
	assert.NoError(t, err)
}

func TestProbeFailureRestartsCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	fail(t, b)

	clock.Advance(10 * time.Second)
	probe, err := b.Allow()
	require.NoError(t, err)
	b.Record(probe, false)
	assert.Equal(t, Open, b.State())

	clock.Advance(5 * time.Second)
	_, err = b.Allow()
	require.Error(t, err)

	clock.Advance(5 * time.Second)
	_, err = b.Allow()
	require.NoError(t, err)
}

func TestReleaseFreesProbeWithoutTransition(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	fail(t, b)
	clock.Advance(time.Second)

	probe, err := b.Allow()
	require.NoError(t, err)
	b.Release(probe)

	snap := b.Snapshot()
	assert.Equal(t, HalfOpen, snap.State)
	assert.False(t, snap.HalfOpenProbeInFlight)
	assert.Equal(t, 1, snap.ConsecutiveFailures)

	next, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, next.Probe())
}

func TestResetIgnoresStaleTickets(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	fail(t, b)
	clock.Advance(time.Second)
	probe, err := b.Allow()
	require.NoError(t, err)

	b.Reset()
	b.Record(probe, false)

	assert.Equal(t, Closed, b.State())
}

func TestLateResultsIgnoredWhileOpen(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	early, err := b.Allow()
	require.NoError(t, err)

	fail(t, b)
	fail(t, b)
	require.Equal(t, Open, b.State())

	b.Record(early, true)
	assert.Equal(t, Open, b.State())
}

func TestTransitionHook(t *testing.T) {
	var seen []string
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New("r", Config{FailureThreshold: 1, Cooldown: time.Second},
		WithClock(clock.Now),
		WithTransitionHook(func(name string, from, to State) {
			seen = append(seen, from.String()+"->"+to.String())
		}))

	fail(t, b)
	clock.Advance(time.Second)
	probe, err := b.Allow()
	require.NoError(t, err)
	b.Record(probe, true)

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, seen)
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	b, _ := newTestBreaker(1000, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := b.Allow()
			if err == nil {
				b.Record(ticket, false)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, b.Snapshot().ConsecutiveFailures)
}

func TestSetIsolatesNames(t *testing.T) {
	set := NewSet(Config{FailureThreshold: 1, Cooldown: time.Minute})
	ticket, err := set.Get("order_query").Allow()
	require.NoError(t, err)
	set.Get("order_query").Record(ticket, false)

	assert.Equal(t, Open, set.Snapshot("order_query").State)
	assert.Equal(t, Closed, set.Snapshot("chitchat").State)
	assert.False(t, set.Reset("unknown"))
	assert.True(t, set.Reset("order_query"))
	assert.Equal(t, Closed, set.Snapshot("order_query").State)
	assert.Len(t, set.All(), 1)
}
