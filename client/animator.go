package client

import (
	"sync"
	"time"
)

const (
	defaultStepSize = 0.5
	defaultTick     = 30 * time.Millisecond
)

// FrameFunc receives every rendered percent value, in order. It is called
// from the animator's tick goroutine.
type FrameFunc func(percent float64)

// AnimatorConfig tunes the animation speed.
type AnimatorConfig struct {
	// StepSize is how many percentage points the displayed value moves
	// per tick.
	StepSize float64
	// Tick is the interval between rendered frames.
	Tick time.Duration
	// OnFrame is invoked for each rendered frame.
	OnFrame FrameFunc
}

// Animator interpolates the displayed percentage from its current value
// through a queue of pending targets. Targets play back-to-back, one full
// animation each, so a burst of server-side jumps is still seen as
// continuous motion through every intermediate state.
//
// One animator belongs to one rendered transfer view; there is never more
// than one active drain loop.
type Animator struct {
	stepSize float64
	tick     time.Duration
	onFrame  FrameFunc

	mu        sync.Mutex
	current   float64
	target    *float64
	queue     []float64
	animating bool
	stopped   bool
	quit      chan struct{}
}

// NewAnimator creates an animator starting at the given displayed value.
func NewAnimator(start float64, cfg AnimatorConfig) *Animator {
	if cfg.StepSize <= 0 {
		cfg.StepSize = defaultStepSize
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	return &Animator{
		stepSize: cfg.StepSize,
		tick:     cfg.Tick,
		onFrame:  cfg.OnFrame,
		current:  start,
		quit:     make(chan struct{}),
	}
}

// PushTarget queues a new target percentage. Pushing a value equal to the
// last queued target (or to the current value when nothing is pending) is
// a no-op, so repeated delivery of the same terminal value never restarts
// or duplicates an animation.
func (a *Animator) PushTarget(p float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped || p == a.lastPendingLocked() {
		return
	}

	if a.animating {
		a.queue = append(a.queue, p)
		return
	}

	a.target = &p
	a.animating = true
	go a.drain()
}

// Current returns the currently displayed value.
func (a *Animator) Current() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Animating reports whether a drain loop is active.
func (a *Animator) Animating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.animating
}

// Stop halts the drain loop. Pending targets are discarded and further
// pushes are ignored; call it when the view is torn down.
func (a *Animator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.queue = nil
	a.target = nil
	a.mu.Unlock()
	close(a.quit)
}

// lastPendingLocked is the value a new push is compared against: the tail
// of the queue, else the in-flight target, else the displayed value.
func (a *Animator) lastPendingLocked() float64 {
	if len(a.queue) > 0 {
		return a.queue[len(a.queue)-1]
	}
	if a.target != nil {
		return *a.target
	}
	return a.current
}

// drain steps the displayed value toward the active target on each tick,
// clamping on overshoot, then immediately picks up the next queued target
// until the queue is empty.
func (a *Animator) drain() {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			a.mu.Lock()
			a.animating = false
			a.mu.Unlock()
			return
		case <-ticker.C:
			a.mu.Lock()
			if a.stopped || a.target == nil {
				a.animating = false
				a.mu.Unlock()
				return
			}

			target := *a.target
			if a.current < target {
				a.current += a.stepSize
				if a.current > target {
					a.current = target
				}
			} else if a.current > target {
				a.current -= a.stepSize
				if a.current < target {
					a.current = target
				}
			}
			frame := a.current

			done := false
			if a.current == target {
				if len(a.queue) > 0 {
					next := a.queue[0]
					a.queue = a.queue[1:]
					a.target = &next
				} else {
					a.target = nil
					a.animating = false
					done = true
				}
			}
			onFrame := a.onFrame
			a.mu.Unlock()

			if onFrame != nil {
				onFrame(frame)
			}
			if done {
				return
			}
		}
	}
}
