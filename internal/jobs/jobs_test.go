package jobs_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/events"
	"taskpulse/internal/jobs"
)

type fakeRunner struct {
	enabled bool
	calls   atomic.Int32
}

func (f *fakeRunner) Enabled() bool               { return f.enabled }
func (f *fakeRunner) DispatchAll(context.Context) { f.calls.Add(1) }

func TestSchedulerRunsWebhooks(t *testing.T) {
	s := jobs.NewScheduler(time.UTC, nil)
	runner := &fakeRunner{enabled: true}
	require.NoError(t, s.AddWebhooks(context.Background(), "@every 1s", runner))
	require.NoError(t, s.AddDayRollover(events.NewBroadcaster(1, nil)))
	assert.Equal(t, 2, s.Entries())

	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool { return runner.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestSchedulerSkipsDisabledWebhooks(t *testing.T) {
	s := jobs.NewScheduler(nil, nil)
	require.NoError(t, s.AddWebhooks(context.Background(), "@every 1s", &fakeRunner{}))
	assert.Zero(t, s.Entries())
	assert.Error(t, s.AddWebhooks(context.Background(), "not a schedule", &fakeRunner{enabled: true}))
}

func TestDayRolloverSignalsStats(t *testing.T) {
	sink := &events.MemorySink{}
	b := events.NewBroadcaster(4, nil, sink)
	jobs.DayRollover(b)()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Run(ctx))
	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, events.EventStatsUpdated, msgs[0].Event)
	assert.Equal(t, events.StatsPayload{Reason: "day-rollover"}, msgs[0].Payload)
}
