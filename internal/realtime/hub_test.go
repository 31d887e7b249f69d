package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/events"
	"taskpulse/internal/realtime"
)

func newHub(t *testing.T) (*realtime.Hub, string) {
	t.Helper()
	hub := realtime.NewHub(nil, func(r *http.Request) (realtime.Subscriber, error) {
		user := r.URL.Query().Get("user")
		if user == "" {
			return realtime.Subscriber{}, errors.New("no user")
		}
		return realtime.Subscriber{UserID: user, Privileged: user == "boss"}, nil
	})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, user string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url+"?user="+user, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env realtime.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubRoutesByChannel(t *testing.T) {
	hub, url := newHub(t)
	alice := dial(t, url, "alice")
	boss := dial(t, url, "boss")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Deliver(ctx, events.Message{Channel: events.ChannelPrivileged, Event: events.EventTaskUpdated, Payload: map[string]string{"id": "t1"}}))
	require.NoError(t, hub.Deliver(ctx, events.Message{Channel: events.UserChannel("alice"), Event: events.EventAssignedToYou, Payload: map[string]string{"id": "t1"}}))
	require.NoError(t, hub.Deliver(ctx, events.Message{Channel: events.ChannelAll, Event: events.EventStatsUpdated}))

	got := read(t, boss)
	assert.Equal(t, events.EventTaskUpdated, got.Event)
	assert.Equal(t, events.EventStatsUpdated, read(t, boss).Event)

	got = read(t, alice)
	assert.Equal(t, events.EventAssignedToYou, got.Event)
	assert.Equal(t, map[string]any{"id": "t1"}, got.Payload)
	assert.Equal(t, events.EventStatsUpdated, read(t, alice).Event)
}

func TestHubRejectsAnonymous(t *testing.T) {
	_, url := newHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub, url := newHub(t)
	conn := dial(t, url, "alice")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, hub.Deliver(context.Background(), events.Message{Channel: events.ChannelAll, Event: events.EventStatsUpdated}))
}
