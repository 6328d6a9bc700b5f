package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []float64
}

func (r *frameRecorder) record(p float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, p)
}

func (r *frameRecorder) all() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.frames...)
}

func newTestAnimator(start float64) (*Animator, *frameRecorder) {
	rec := &frameRecorder{}
	a := NewAnimator(start, AnimatorConfig{
		StepSize: 10,
		Tick:     time.Millisecond,
		OnFrame:  rec.record,
	})
	return a, rec
}

func waitIdle(t *testing.T, a *Animator) {
	t.Helper()
	require.Eventually(t, func() bool { return !a.Animating() }, 2*time.Second, time.Millisecond)
}

func TestAnimator_PlaysQueuedTargetsInOrder(t *testing.T) {
	a, rec := newTestAnimator(0)
	defer a.Stop()

	// A burst of server-side jumps queued while idle
	a.PushTarget(30)
	a.PushTarget(70)
	a.PushTarget(100)

	waitIdle(t, a)
	assert.Equal(t, 100.0, a.Current())

	frames := rec.all()
	require.NotEmpty(t, frames)

	// Every intermediate pause point is rendered exactly, in order
	assert.Contains(t, frames, 30.0)
	assert.Contains(t, frames, 70.0)
	assert.Equal(t, 100.0, frames[len(frames)-1])

	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i], frames[i-1], "displayed value must never move backwards")
	}
}

func TestAnimator_ClampsOnOvershoot(t *testing.T) {
	a, rec := newTestAnimator(0)
	defer a.Stop()

	// 25 is not a multiple of the step size, so the last step overshoots
	a.PushTarget(25)
	waitIdle(t, a)

	assert.Equal(t, 25.0, a.Current())
	frames := rec.all()
	assert.Equal(t, []float64{10, 20, 25}, frames)
}

func TestAnimator_DuplicatePushIsNoOp(t *testing.T) {
	a, _ := newTestAnimator(0)
	defer a.Stop()

	a.PushTarget(100)
	a.PushTarget(100)
	a.PushTarget(100)

	waitIdle(t, a)
	assert.Equal(t, 100.0, a.Current())

	// Reaching the value and pushing it again must not restart anything
	a.PushTarget(100)
	assert.False(t, a.Animating())
}

func TestAnimator_PushWhileIdleAtValue(t *testing.T) {
	a, rec := newTestAnimator(50)
	defer a.Stop()

	a.PushTarget(50)
	time.Sleep(10 * time.Millisecond)

	assert.False(t, a.Animating())
	assert.Empty(t, rec.all())
}

func TestAnimator_StopHaltsDrain(t *testing.T) {
	a, _ := newTestAnimator(0)

	a.PushTarget(100)
	a.Stop()

	require.Eventually(t, func() bool { return !a.Animating() }, time.Second, time.Millisecond)
	assert.Less(t, a.Current(), 100.0)

	// Pushes after Stop are ignored
	a.PushTarget(100)
	assert.False(t, a.Animating())
}

func TestAnimator_TargetArrivingMidAnimation(t *testing.T) {
	a, rec := newTestAnimator(0)
	defer a.Stop()

	a.PushTarget(30)
	// Let the first animation get going, then queue the next jump
	require.Eventually(t, func() bool { return a.Current() >= 10 }, time.Second, time.Millisecond)
	a.PushTarget(70)

	waitIdle(t, a)
	assert.Equal(t, 70.0, a.Current())

	frames := rec.all()
	assert.Contains(t, frames, 30.0, "first target is still rendered before the second plays")
}
