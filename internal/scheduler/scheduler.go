package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Scheduler fires the run callback once per configured hour slot, polling
// the clock once a minute. A slot key of date plus hour guards against
// double-firing within the same slot after restarts of the poll loop.
type Scheduler struct {
	location  *time.Location
	hours     []int
	run       func(ctx context.Context)
	pollEvery time.Duration

	lastRunKey string
}

func New(location *time.Location, hours []int, run func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		location:  location,
		hours:     hours,
		run:       run,
		pollEvery: time.Minute,
	}
}

// Run blocks until the context is cancelled, invoking the callback at each
// configured hour. The callback runs synchronously; a slot whose run
// outlasts the hour is simply not re-fired.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "hours", s.hours, "timezone", s.location.String())

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	s.tick(ctx, time.Now().In(s.location))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.tick(ctx, now.In(s.location))
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if !s.scheduled(now.Hour()) {
		return
	}
	key := slotKey(now)
	if key == s.lastRunKey {
		return
	}
	s.lastRunKey = key

	slog.Info("Scheduled run starting", "slot", key)
	s.run(ctx)
}

func (s *Scheduler) scheduled(hour int) bool {
	for _, h := range s.hours {
		if h == hour {
			return true
		}
	}
	return false
}

func slotKey(t time.Time) string {
	return fmt.Sprintf("%s_%02d", t.Format("2006-01-02"), t.Hour())
}
