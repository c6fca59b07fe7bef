package registry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yooprep/internal/activity"
)

// Sweeper periodically visits tracked sessions, flags those inside the
// warning window, and cleans up those past their idle deadline. A session at
// exactly zero remaining is abandoned on the next tick, not before.
type Sweeper struct {
	reg   *Registry
	clock *activity.Clock

	interval      time.Duration
	warnThreshold time.Duration

	log *logrus.Logger
}

func NewSweeper(reg *Registry, clock *activity.Clock, interval, warnThreshold time.Duration, log *logrus.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if warnThreshold <= 0 {
		warnThreshold = 2 * time.Minute
	}
	return &Sweeper{
		reg:           reg,
		clock:         clock,
		interval:      interval,
		warnThreshold: warnThreshold,
		log:           log,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep is one pass over all tracked sessions.
func (s *Sweeper) Sweep(ctx context.Context) {
	swept := 0
	for _, id := range s.clock.Tracked() {
		remaining, ok := s.clock.TimeRemaining(id)
		if !ok {
			continue
		}
		switch {
		case remaining <= 0:
			if err := s.reg.Cleanup(ctx, id); err != nil {
				s.log.WithError(err).WithField("session", id).Error("idle cleanup failed")
				continue
			}
			swept++
		case remaining <= s.warnThreshold:
			s.clock.MarkWarned(id)
		}
	}
	if swept > 0 {
		s.log.WithField("count", swept).Info("idle sessions cleaned up")
	}
}
