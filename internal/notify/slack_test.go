package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/domain"
	"taskpulse/internal/events"
	"taskpulse/internal/notify"
)

func TestNewSlackWithoutToken(t *testing.T) {
	assert.Nil(t, notify.NewSlack("", "C1", ""))
}

func TestText(t *testing.T) {
	task := domain.Task{ID: "t1", Description: "fix printer", OwnerID: "bob",
		Escalation: &domain.Escalation{EscalatedByID: "alice", Reason: "out of office"}}
	text, ok := notify.Text(events.Message{Event: events.EventAssignedToYou, Payload: task})
	require.True(t, ok)
	assert.Equal(t, `:arrow_right: Task "fix printer" (t1) was escalated to bob by alice: out of office`, text)

	task.Escalation = nil
	task.OwnerID = "alice"
	text, ok = notify.Text(events.Message{Event: events.EventReturnedToYou, Payload: task})
	require.True(t, ok)
	assert.Contains(t, text, "was returned to alice")

	_, ok = notify.Text(events.Message{Event: events.EventTaskUpdated, Payload: task})
	assert.False(t, ok)
	_, ok = notify.Text(events.Message{Event: events.EventAssignedToYou, Payload: events.DeletedPayload{ID: "t1"}})
	assert.False(t, ok)
}

func TestSlackDeliver(t *testing.T) {
	var posted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "C123", r.Form.Get("channel"))
		posted = append(posted, r.Form.Get("text"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	sink := notify.NewSlack("xoxb-test", "C123", srv.URL+"/")
	require.NotNil(t, sink)
	ctx := context.Background()
	task := domain.Task{ID: "t1", Description: "fix printer", OwnerID: "bob"}

	require.NoError(t, sink.Deliver(ctx, events.Message{Channel: events.ChannelAll, Event: events.EventTaskCreated, Payload: task}))
	require.NoError(t, sink.Deliver(ctx, events.Message{Channel: events.UserChannel("bob"), Event: events.EventAssignedToYou, Payload: task}))
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0], "escalated to bob")
}

func TestSlackDeliverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	sink := notify.NewSlack("xoxb-test", "C404", srv.URL+"/")
	err := sink.Deliver(context.Background(), events.Message{Event: events.EventReturnedToYou, Payload: domain.Task{ID: "t1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
