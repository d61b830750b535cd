// Package timer implements the question countdown.
//
// Remaining time is always derived from a wall-clock anchor rather than by
// counting ticks, so a client that joins late or restarts recovers the same
// remaining time as everyone else.
package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/internal/scheduler"
)

// TickInterval is how often callbacks fire while running.
const TickInterval = time.Second

// TickFunc receives the remaining seconds and the current limit.
type TickFunc func(remaining, limit int)

// Countdown is a one-question timer with a one-time reduction and a forced zero.
type Countdown struct {
	clock clockwork.Clock

	mu            sync.Mutex
	limit         int
	originalLimit int
	remaining     int
	anchor        *time.Time
	reduced       bool
	running       bool
	expired       bool
	loop          *scheduler.Task

	onTick   []TickFunc
	onExpire []func()
}

// New creates a stopped countdown. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{clock: clock}
}

// Start resets the countdown to limitSeconds. When startedAt is given the
// remaining time is limit minus the time elapsed since then; otherwise the
// countdown is anchored to now. Start fires one tick immediately.
func (c *Countdown) Start(limitSeconds int, startedAt *time.Time) {
	c.mu.Lock()
	c.stopLoopLocked()

	anchor := c.clock.Now()
	if startedAt != nil {
		anchor = *startedAt
	}
	c.limit = limitSeconds
	c.originalLimit = limitSeconds
	c.anchor = &anchor
	c.reduced = false
	c.expired = false
	c.running = true
	c.remaining = c.computeLocked()
	c.mu.Unlock()

	log.Debug().Int("limit", limitSeconds).Time("anchor", anchor).Msg("countdown started")

	c.tick()

	c.mu.Lock()
	if c.running {
		c.loop = scheduler.Every(c.clock, TickInterval, c.tick)
	}
	c.mu.Unlock()
}

// computeLocked derives remaining seconds from the anchor, flooring elapsed
// time and clamping at zero. Without an anchor it counts down by one.
func (c *Countdown) computeLocked() int {
	if c.anchor == nil {
		return max(0, c.remaining-1)
	}
	elapsed := int(c.clock.Now().Sub(*c.anchor) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return max(0, c.limit-elapsed)
}

func (c *Countdown) tick() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.remaining = c.computeLocked()
	remaining, limit := c.remaining, c.limit
	callbacks := append([]TickFunc(nil), c.onTick...)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(remaining, limit)
	}
	if remaining == 0 {
		c.expire()
	}
}

// expire stops the loop and fires the expiry callbacks, at most once per Start.
func (c *Countdown) expire() {
	c.mu.Lock()
	if c.expired {
		c.mu.Unlock()
		return
	}
	c.expired = true
	c.running = false
	c.stopLoopLocked()
	callbacks := append([]func(){}, c.onExpire...)
	c.mu.Unlock()

	log.Debug().Msg("countdown expired")
	for _, fn := range callbacks {
		fn()
	}
}

// ReduceTimeByOneThird cuts the remaining time by a third (rounded down) and
// re-anchors to now with the reduced value as the new limit. It applies at
// most once per question and reports whether it did anything.
func (c *Countdown) ReduceTimeByOneThird() bool {
	c.mu.Lock()
	if c.reduced || !c.running {
		c.mu.Unlock()
		return false
	}
	remaining := c.computeLocked()
	remaining -= remaining / 3
	now := c.clock.Now()
	c.remaining = remaining
	c.limit = remaining
	c.anchor = &now
	c.reduced = true
	limit := c.limit
	callbacks := append([]TickFunc(nil), c.onTick...)
	c.mu.Unlock()

	log.Info().Int("remaining", remaining).Msg("countdown reduced by a third")
	for _, fn := range callbacks {
		fn(remaining, limit)
	}
	return true
}

// ForceToZero zeroes remaining and limit and fires the tick callbacks with
// (0, 0). It does not run the expiry callbacks.
func (c *Countdown) ForceToZero() {
	c.mu.Lock()
	c.stopLoopLocked()
	c.running = false
	c.remaining = 0
	c.limit = 0
	c.anchor = nil
	callbacks := append([]TickFunc(nil), c.onTick...)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(0, 0)
	}
}

// Stop halts the countdown and clears its anchor. Calling it again is a no-op.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLoopLocked()
	c.running = false
	c.anchor = nil
}

func (c *Countdown) stopLoopLocked() {
	if c.loop != nil {
		c.loop.Stop()
		c.loop = nil
	}
}

// Remaining returns the seconds left, recomputed from the anchor while running.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running && c.anchor != nil {
		return c.computeLocked()
	}
	return c.remaining
}

func (c *Countdown) TimeLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

func (c *Countdown) OriginalTimeLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.originalLimit
}

func (c *Countdown) Reduced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reduced
}

func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Progress returns remaining/limit, or 0 when the limit is 0.
func (c *Countdown) Progress() float64 {
	remaining := c.Remaining()
	c.mu.Lock()
	limit := c.limit
	c.mu.Unlock()
	if limit == 0 {
		return 0
	}
	return float64(remaining) / float64(limit)
}

func (c *Countdown) OnTick(fn TickFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = append(c.onTick, fn)
}

func (c *Countdown) OnExpire(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpire = append(c.onExpire, fn)
}

// RemoveCallbacks drops every registered tick and expiry callback.
func (c *Countdown) RemoveCallbacks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = nil
	c.onExpire = nil
}

// FormatTime renders seconds as MM:SS.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
