// Package pacing provides the fixed politeness delays applied between
// search requests and between published posts.
package pacing

import (
	"context"
	"time"
)

// Pauser sleeps between paced operations.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Timer pauses on a real timer and returns early when ctx is done.
type Timer struct{}

// Pause blocks for delay or until ctx is canceled.
func (Timer) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Recorder records requested pauses without sleeping. Tests use it to assert
// pacing without slowing down.
type Recorder struct {
	Delays []time.Duration
}

// Pause records delay.
func (r *Recorder) Pause(_ context.Context, delay time.Duration) {
	r.Delays = append(r.Delays, delay)
}
