package poller

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const DefaultSchedule = "@every 30m"

// Scheduler runs poll cycles on a cron schedule. A tick that fires while
// the previous cycle is still running is skipped.
type Scheduler struct {
	c      *cron.Cron
	poller *Poller
}

// NewScheduler parses schedule, a standard five field cron expression or a
// descriptor such as "@every 30m".
func NewScheduler(p *Poller, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	s := &Scheduler{c: c, poller: p}
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	// RunCycle logs its own failures
	_, _ = s.poller.RunCycle(context.Background())
}

func (s *Scheduler) Start() {
	s.c.Start()
	log.WithField("entries", len(s.c.Entries())).Info("Poll scheduler started")
}

// Stop stops scheduling and waits for a running cycle or ctx, whichever
// comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.c.Stop().Done():
		log.Info("Poll scheduler stopped")
	case <-ctx.Done():
		log.Warn("Poll scheduler stop timed out")
	}
}
