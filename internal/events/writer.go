package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Outbox event types, one per committed task mutation.
const (
	TypeTaskCreated       = "task.created"
	TypeTaskUpdated       = "task.updated"
	TypeTaskStatusChanged = "task.status_changed"
	TypeTaskEscalated     = "task.escalated"
	TypeTaskRolledBack    = "task.rolled_back"
	TypeTaskDeleted       = "task.deleted"
)

// Writer appends outbox rows inside the caller's transaction so an event
// exists exactly when its mutation committed.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, evtType, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal event payload")
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO events(ts,type,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?)`),
		now().UTC().Format(time.RFC3339), evtType, entityID, actorID, string(data))
	return errors.WithStack(err)
}
