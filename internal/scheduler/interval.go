package scheduler

import (
	"context"
	"time"

	"github.com/AzharJacobs/MT5/internal/logger"
)

// Interval drives a task at a fixed wall-clock interval. Unlike a bare
// time.Ticker, a slow task never stacks invocations: the next wait starts
// only after the task returns, and ctx cancellation wins over the timer.
type Interval struct {
	Interval       time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewInterval(ctx context.Context, interval time.Duration) *Interval {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Interval{
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks, invoking task every interval until the context is done. An
// in-flight task always completes before Start returns.
func (s *Interval) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("interval scheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Infof("interval scheduler: started interval=%s run_immediately=%v", s.Interval, s.RunImmediately)

	if s.RunImmediately {
		task()
	}
	for {
		timer := time.NewTimer(s.Interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("interval scheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		task()
	}
}
