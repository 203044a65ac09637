package workflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"disputeflow/dispute"
)

// Monitor periodically sweeps disputes parked in the monitor phase and polls
// the network for their resolution. Each poll is a bounded, independent
// call; a failed poll is retried on the next sweep.
type Monitor struct {
	orch     *Orchestrator
	schedule cron.Schedule
}

// NewMonitor parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week) into a sweep schedule.
func NewMonitor(orch *Orchestrator, scheduleExpr string) (*Monitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("workflow: invalid monitor schedule %q: %w", scheduleExpr, err)
	}
	return &Monitor{orch: orch, schedule: sched}, nil
}

// Start runs the sweep loop until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		for {
			now := time.Now()
			next := m.schedule.Next(now)
			t := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			if err := m.Sweep(ctx); err != nil {
				log.Printf("monitor sweep: %v", err)
			}
		}
	}()
}

// Sweep polls every monitored dispute once and expires any open dispute
// whose deadline has passed.
func (m *Monitor) Sweep(ctx context.Context) error {
	monitored, err := m.orch.store.ListByPhase(ctx, dispute.PhaseMonitor)
	if err != nil {
		return err
	}
	for _, d := range monitored {
		if _, err := m.orch.PollOnce(ctx, d); err != nil {
			log.Printf("monitor dispute %s: %v", d.ID, err)
		}
	}

	open, err := m.orch.store.ListOpen(ctx)
	if err != nil {
		return err
	}
	now := m.orch.now()
	for _, d := range open {
		if d.Phase == dispute.PhaseMonitor || now.Before(d.DeadlineAt) {
			continue
		}
		if _, err := m.orch.apply(ctx, d, dispute.EventDeadlinePassed,
			"evidence-submission deadline passed", map[string]any{"deadline_at": d.DeadlineAt}, nil); err != nil {
			log.Printf("expire dispute %s: %v", d.ID, err)
		}
	}
	return nil
}
