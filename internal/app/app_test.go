package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/app"
	"taskpulse/internal/config"
	"taskpulse/internal/engine"
	"taskpulse/internal/events"
	tplog "taskpulse/internal/log"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Realtime.Enabled = false
	cfg.Users = []config.UserSeed{
		{ID: "alice", Name: "Alice", DepartmentID: "it"},
		{ID: "bob", Name: "Bob", DepartmentID: "it"},
		{ID: "boss", Name: "Boss", Role: "admin"},
	}
	return cfg
}

func TestOpenSeedsUsersOnce(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()

	a, err := app.Open(ctx, workspace, testConfig(), tplog.Discard())
	require.NoError(t, err)
	users, err := a.Directory.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, users, 3)

	renamed := users[0]
	renamed.Name = "Renamed"
	require.NoError(t, a.Directory.Save(ctx, renamed))
	require.NoError(t, a.Close())

	a, err = app.Open(ctx, workspace, testConfig(), tplog.Discard())
	require.NoError(t, err)
	defer a.Close()
	u, err := a.Directory.User(ctx, renamed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", u.Name)
}

func TestRunDeliversEngineEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, t.TempDir(), testConfig(), tplog.Discard())
	require.NoError(t, err)
	defer a.Close()
	sink := &events.MemorySink{C: make(chan events.Message, 32)}
	a.Broadcaster.AddSink(sink)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	task, err := a.Engine.CreateTask(ctx, engine.TaskCreateOptions{Description: "fix printer", Remarks: "jammed", ActorID: "alice"})
	require.NoError(t, err)
	_, err = a.Engine.Escalate(ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: "bob", ActorID: "alice"})
	require.NoError(t, err)

	seen := map[string]bool{}
	timeout := time.After(5 * time.Second)
	for !seen[events.EventAssignedToYou] {
		select {
		case msg := <-sink.C:
			seen[msg.Event] = true
			if msg.Event == events.EventAssignedToYou {
				assert.Equal(t, events.UserChannel("bob"), msg.Channel)
			}
		case <-timeout:
			t.Fatalf("no targeted notification, saw %v", seen)
		}
	}
	assert.True(t, seen[events.EventTaskCreated])
	assert.True(t, seen[events.EventTaskEscalated])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
