// Package clock provides the per-question countdown for game sessions.
package clock

import (
	"sync"
	"time"
)

const DefaultDuration = 10

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Config struct {
	// Duration is the number of ticks per question, defaults to DefaultDuration.
	Duration int

	// Interval is the wall time between ticks, defaults to one second.
	Interval time.Duration

	// OnExpire is invoked exactly once per countdown when it reaches zero.
	OnExpire func()

	// NewTickerFunc is injectable for deterministic tests.
	NewTickerFunc func(d time.Duration) Ticker
}

// Countdown decrements once per interval while running, signals expiry exactly
// once on reaching zero, then stops until Reset. All operations are safe to
// call concurrently; Cancel is idempotent and safe even if Start was never
// called.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	duration  int
	expired   bool
	started   bool
	canceled  bool
	done      chan struct{}

	interval  time.Duration
	onExpire  func()
	newTicker func(d time.Duration) Ticker
}

func NewCountdown(c Config) *Countdown {
	if c.Duration == 0 {
		c.Duration = DefaultDuration
	}
	if c.Interval == 0 {
		c.Interval = time.Second
	}
	if c.OnExpire == nil {
		c.OnExpire = func() {}
	}
	if c.NewTickerFunc == nil {
		c.NewTickerFunc = newRealTicker
	}

	return &Countdown{
		remaining: c.Duration,
		duration:  c.Duration,
		done:      make(chan struct{}),
		interval:  c.Interval,
		onExpire:  c.OnExpire,
		newTicker: c.NewTickerFunc,
	}
}

// Start launches the tick loop. Calling Start more than once has no effect.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.started || c.canceled {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	t := c.newTicker(c.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-t.C():
				c.Tick()
			}
		}
	}()
}

// Tick decrements the countdown by one. On reaching zero it fires OnExpire
// once; further ticks are no-ops until Reset.
func (c *Countdown) Tick() {
	c.mu.Lock()
	if c.expired || c.canceled || c.remaining == 0 {
		c.mu.Unlock()
		return
	}

	c.remaining--
	fire := c.remaining == 0
	if fire {
		c.expired = true
	}
	c.mu.Unlock()

	// outside the lock: the handler typically re-enters the owning session
	if fire {
		c.onExpire()
	}
}

// Reset rearms the countdown to its full duration.
func (c *Countdown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remaining = c.duration
	c.expired = false
}

// Cancel stops the tick loop for good. A canceled countdown never fires.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.canceled {
		return
	}
	c.canceled = true
	close(c.done)
}

// TimeLeft reports the remaining ticks of the current question.
func (c *Countdown) TimeLeft() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remaining
}

type realTicker struct {
	t *time.Ticker
}

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
