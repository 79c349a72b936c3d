package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalRunsTaskRepeatedly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	s := NewInterval(ctx, 10*time.Millisecond)
	s.RunImmediately = true

	done := make(chan struct{})
	go func() {
		s.Start(func() { runs.Add(1) })
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestIntervalRunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	s := NewInterval(ctx, time.Hour)
	s.RunImmediately = true

	done := make(chan struct{})
	go func() {
		s.Start(func() { runs.Add(1) })
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(1), runs.Load())
}

func TestIntervalWaitsWhenNotImmediate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	s := NewInterval(ctx, time.Hour)

	done := make(chan struct{})
	go func() {
		s.Start(func() { runs.Add(1) })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(0), runs.Load())
}

func TestIntervalRejectsInvalidInterval(t *testing.T) {
	s := NewInterval(context.Background(), 0)
	ran := false
	s.Start(func() { ran = true }) // returns immediately
	assert.False(t, ran)
}

func TestIntervalNilSafe(t *testing.T) {
	var s *Interval
	s.Start(func() {})

	s = NewInterval(context.Background(), time.Second)
	s.Start(nil)
}
