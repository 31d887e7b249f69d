package events

import (
	"strings"

	"taskpulse/internal/domain"
)

// Kind is a committed task mutation handed to the broadcaster.
type Kind string

const (
	Created       Kind = "created"
	Updated       Kind = "updated"
	Deleted       Kind = "deleted"
	StatusChanged Kind = "statusChanged"
	Escalated     Kind = "escalated"
	RolledBack    Kind = "rolledBack"
)

// Wire names of real-time events.
const (
	EventTaskCreated       = "task-created"
	EventTaskUpdated       = "task-updated"
	EventTaskDeleted       = "task-deleted"
	EventTaskStatusUpdated = "task-status-updated"
	EventTaskEscalated     = "task-escalated"
	EventTaskRolledBack    = "task-rolled-back"
	EventStatsUpdated      = "stats-updated"
	EventAssignedToYou     = "task-assigned-to-you"
	EventReturnedToYou     = "task-returned-to-you"
)

const (
	ChannelAll        = "all"
	ChannelPrivileged = "privileged"
	userChannelPrefix = "user:"
)

func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// ChannelUser returns the user id of a personal channel.
func ChannelUser(channel string) (string, bool) {
	if !strings.HasPrefix(channel, userChannelPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, userChannelPrefix)
	return id, id != ""
}

// Message is one notification addressed to one channel.
type Message struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// DeletedPayload is the body of task-deleted; only the id survives a delete.
type DeletedPayload struct {
	ID string `json:"id"`
}

// StatsPayload tells dashboards to refetch aggregates.
type StatsPayload struct {
	Reason string `json:"reason"`
	TaskID string `json:"taskId,omitempty"`
}

var wireNames = map[Kind]string{
	Created:       EventTaskCreated,
	Updated:       EventTaskUpdated,
	Deleted:       EventTaskDeleted,
	StatusChanged: EventTaskStatusUpdated,
	Escalated:     EventTaskEscalated,
	RolledBack:    EventTaskRolledBack,
}

func (k Kind) Valid() bool {
	_, ok := wireNames[k]
	return ok
}

// Plan expands a mutation into the messages to deliver. It is pure so routing
// can be tested without a transport.
func Plan(kind Kind, task domain.Task) []Message {
	name, ok := wireNames[kind]
	if !ok {
		return nil
	}
	var payload any = task
	if kind == Deleted {
		payload = DeletedPayload{ID: task.ID}
	}
	msgs := []Message{
		{Channel: ChannelAll, Event: name, Payload: payload},
		{Channel: ChannelPrivileged, Event: name, Payload: payload},
	}
	switch kind {
	case Escalated:
		msgs = append(msgs, Message{Channel: UserChannel(task.OwnerID), Event: EventAssignedToYou, Payload: task})
	case RolledBack:
		msgs = append(msgs, Message{Channel: UserChannel(task.OwnerID), Event: EventReturnedToYou, Payload: task})
	}
	return append(msgs, StatsMessage(string(kind), task.ID))
}

func StatsMessage(reason, taskID string) Message {
	return Message{Channel: ChannelAll, Event: EventStatsUpdated, Payload: StatsPayload{Reason: reason, TaskID: taskID}}
}
