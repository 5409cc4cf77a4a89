package pool

import (
	"context"
	"sync"
	"time"
)

var (
	timerPool = sync.Pool{}
)

// GetTimer gets a timer from the pool and resets it to the given duration.
func GetTimer(d time.Duration) *time.Timer {
	timer, ok := timerPool.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}
	ResetAndDrainTimer(timer, d)
	return timer
}

// ReleaseTimer stops the timer, drains its channel, and returns it to the pool.
func ReleaseTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	stopAndDrain(timer)
	timerPool.Put(timer)
}

// ResetAndDrainTimer stops the timer, drains the channel, and starts it again with new duration.
func ResetAndDrainTimer(timer *time.Timer, d time.Duration) {
	if timer == nil {
		return
	}
	stopAndDrain(timer)
	timer.Reset(d)
}

// Sleep pauses for d using a pooled timer. It returns ctx.Err() if ctx is
// done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := GetTimer(d)
	defer ReleaseTimer(t)
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stopAndDrain(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
