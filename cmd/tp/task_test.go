package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskHelpExplainsNotificationScope(t *testing.T) {
	cmd := taskCmd()
	assert.Contains(t, cmd.Long, "webhooks")
	assert.Contains(t, cmd.Long, "WebSocket and Slack")

	names := []string{}
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"create", "list", "get", "update", "status", "escalate", "rollback", "delete", "history"}, names)
}
