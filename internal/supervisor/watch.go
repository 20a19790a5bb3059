package supervisor

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Refresher is satisfied by *Supervisor.
type Refresher interface {
	Refresh() bool
}

// Watch runs r.Refresh on a cron schedule (standard 5-field or descriptors
// such as "@every 30s") until ctx is cancelled. An empty schedule disables
// the watch. Watch returns once the schedule is registered.
func Watch(ctx context.Context, r Refresher, schedule string) error {
	if schedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { r.Refresh() }); err != nil {
		return fmt.Errorf("supervisor: liveness schedule %q: %w", schedule, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
