// Package jobs runs the periodic background work of the server.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"taskpulse/internal/events"
)

// DayRolloverSpec fires at local midnight so dashboards refetch "today" counts.
const DayRolloverSpec = "0 0 * * *"

// Signaler accepts standalone broadcast messages.
type Signaler interface {
	Signal(msg events.Message)
}

// WebhookRunner is the part of the webhook dispatcher the scheduler drives.
type WebhookRunner interface {
	Enabled() bool
	DispatchAll(ctx context.Context)
}

type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
}

func NewScheduler(loc *time.Location, log *logrus.Entry) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		log:  log.WithField("component", "jobs"),
	}
}

// AddWebhooks polls the outbox on spec. Nothing is scheduled when no hook is active.
func (s *Scheduler) AddWebhooks(ctx context.Context, spec string, d WebhookRunner) error {
	if d == nil || !d.Enabled() {
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { d.DispatchAll(ctx) }); err != nil {
		return fmt.Errorf("schedule webhooks %q: %w", spec, err)
	}
	s.log.WithField("schedule", spec).Info("webhook dispatch scheduled")
	return nil
}

// AddDayRollover emits stats-updated at midnight.
func (s *Scheduler) AddDayRollover(sig Signaler) error {
	_, err := s.cron.AddFunc(DayRolloverSpec, DayRollover(sig))
	if err != nil {
		return fmt.Errorf("schedule day rollover: %w", err)
	}
	return nil
}

// DayRollover is the midnight job body.
func DayRollover(sig Signaler) func() {
	return func() {
		sig.Signal(events.StatsMessage("day-rollover", ""))
	}
}

// Entries reports how many jobs are scheduled.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
