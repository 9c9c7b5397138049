package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quizroom/quizroom/internal/clock"
)

func TestCountdown_expiresExactlyOnce(t *testing.T) {
	t.Parallel()

	var expired int
	c := clock.NewCountdown(clock.Config{
		Duration: 3,
		OnExpire: func() { expired++ },
	})

	require.Equal(t, 3, c.TimeLeft())

	c.Tick()
	c.Tick()
	require.Equal(t, 1, c.TimeLeft())
	require.Zero(t, expired)

	c.Tick()
	require.Equal(t, 0, c.TimeLeft())
	require.Equal(t, 1, expired)

	// ticks after expiry are no-ops until reset
	c.Tick()
	c.Tick()
	require.Equal(t, 0, c.TimeLeft())
	require.Equal(t, 1, expired)
}

func TestCountdown_resetRearms(t *testing.T) {
	t.Parallel()

	var expired int
	c := clock.NewCountdown(clock.Config{
		Duration: 2,
		OnExpire: func() { expired++ },
	})

	c.Tick()
	c.Tick()
	require.Equal(t, 1, expired)

	c.Reset()
	require.Equal(t, 2, c.TimeLeft())

	c.Tick()
	c.Tick()
	require.Equal(t, 2, expired)
}

func TestCountdown_cancelIsIdempotent(t *testing.T) {
	t.Parallel()

	var expired int
	c := clock.NewCountdown(clock.Config{
		Duration: 1,
		OnExpire: func() { expired++ },
	})

	// canceling without starting is safe, and twice too
	c.Cancel()
	c.Cancel()

	c.Tick()
	require.Zero(t, expired, "a canceled countdown never fires")
}

func TestCountdown_startDrivesTicks(t *testing.T) {
	t.Parallel()

	ticks := make(chan time.Time)
	ft := &fakeTicker{c: ticks}

	done := make(chan struct{})
	c := clock.NewCountdown(clock.Config{
		Duration: 2,
		OnExpire: func() { close(done) },
		NewTickerFunc: func(d time.Duration) clock.Ticker {
			require.Equal(t, time.Second, d)
			return ft
		},
	})

	c.Start()
	c.Start() // second start is a no-op

	ticks <- time.Now()
	ticks <- time.Now()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not expire")
	}

	c.Cancel()
	require.Eventually(t, ft.stopped, 2*time.Second, 10*time.Millisecond, "cancel should stop the ticker")
}

type fakeTicker struct {
	mu      sync.Mutex
	c       chan time.Time
	stopCnt int
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCnt++
}

func (f *fakeTicker) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCnt > 0
}
