package timer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the tick cadence used when none is configured.
const DefaultInterval = time.Second

// Event is delivered to a countdown's sink. Remaining is whole seconds left
// until the deadline. Expired is set on the final event only.
type Event struct {
	Handle    uint64
	Remaining int
	Expired   bool
}

// Factory starts countdowns on a shared clock.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Factory struct {
	clock    clockwork.Clock
	interval time.Duration
	nextID   atomic.Uint64
}

// NewFactory returns a Factory ticking every interval (capped at one second).
func NewFactory(clock clockwork.Clock, interval time.Duration) *Factory {
	if interval <= 0 || interval > time.Second {
		interval = DefaultInterval
	}
	return &Factory{clock: clock, interval: interval}
}

// Clock exposes the clock countdowns are measured against.
func (f *Factory) Clock() clockwork.Clock {
	return f.clock
}

// Countdown is a running timer. Its remaining time is always derived from a
// fixed deadline, so late or missed ticks never shift it.
type Countdown struct {
	id       uint64
	clock    clockwork.Clock
	deadline time.Time
	interval time.Duration
	sink     func(Event)

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Start begins a countdown of d. sink receives a tick every interval with the
// remaining seconds and exactly one Expired event once the deadline passes,
// unless the countdown is cancelled first. sink runs on the countdown's own
// goroutine.
func (f *Factory) Start(d time.Duration, sink func(Event)) *Countdown {
	c := &Countdown{
		id:       f.nextID.Add(1),
		clock:    f.clock,
		deadline: f.clock.Now().Add(d),
		interval: f.interval,
		sink:     sink,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// ID is the handle identifying this countdown.
func (c *Countdown) ID() uint64 {
	return c.id
}

// Deadline is the absolute expiry time.
func (c *Countdown) Deadline() time.Time {
	return c.deadline
}

// Remaining returns whole seconds left, rounded up and never negative.
func (c *Countdown) Remaining() int {
	return remainingSeconds(c.deadline.Sub(c.clock.Now()))
}

// Cancel stops the countdown. It is safe to call more than once and after
// expiry, where it does nothing.
func (c *Countdown) Cancel() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed when the countdown goroutine has exited.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

func (c *Countdown) run() {
	defer close(c.done)

	last := c.Remaining()
	t := c.clock.NewTimer(c.nextWait())
	defer t.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-t.Chan():
		}

		remaining := c.Remaining()
		if remaining > last {
			remaining = last
		}

		if !c.clock.Now().Before(c.deadline) {
			if last != 0 && !c.emit(Event{Handle: c.id, Remaining: 0}) {
				return
			}
			c.emit(Event{Handle: c.id, Expired: true})
			return
		}

		if remaining < last {
			last = remaining
			if !c.emit(Event{Handle: c.id, Remaining: remaining}) {
				return
			}
		}
		t.Reset(c.nextWait())
	}
}

// emit delivers e unless the countdown was cancelled.
func (c *Countdown) emit(e Event) bool {
	select {
	case <-c.stop:
		return false
	default:
	}
	c.sink(e)
	return true
}

func (c *Countdown) nextWait() time.Duration {
	wait := c.deadline.Sub(c.clock.Now())
	if wait > c.interval {
		wait = c.interval
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func remainingSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int(secs)
}
