package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"stackwatch/internal/ports"
)

// CronScheduler triggers recurring pipeline runs from a cron expression.
type CronScheduler struct {
	spec     string
	location *time.Location
	runner   *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler from a standard five-field cron
// expression evaluated in the given timezone.
func NewCronScheduler(spec string, location *time.Location) *CronScheduler {
	if location == nil {
		location = time.UTC
	}
	return &CronScheduler{spec: spec, location: location}
}

// Start registers the job and begins the schedule.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	if c.runner != nil {
		return nil
	}

	runner := cron.New(cron.WithLocation(c.location))
	if _, err := runner.AddFunc(c.spec, func() { job(time.Now().In(c.location)) }); err != nil {
		return fmt.Errorf("cron expression %q: %w", c.spec, err)
	}

	runner.Start()
	c.runner = runner

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (c *CronScheduler) Stop(ctx context.Context) error {
	if c.runner == nil {
		return nil
	}

	done := c.runner.Stop().Done()
	c.runner = nil

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
