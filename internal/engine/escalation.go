package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"taskpulse/internal/domain"
	"taskpulse/internal/engine/auth"
	"taskpulse/internal/events"
)

type EscalateOptions struct {
	TaskID   string
	ToUserID string
	Reason   string
	ActorID  string
}

// Escalate hands a task to another user. Only the current owner may escalate,
// and only while the task is not already escalated. The first pre-escalation
// owner is kept in originalOwnerId.
func (e Engine) Escalate(ctx context.Context, opts EscalateOptions) (domain.Task, error) {
	to := strings.TrimSpace(opts.ToUserID)
	if to == "" {
		return domain.Task{}, validationError(CodeMissingTarget, "target user is required")
	}
	actor, err := e.actor(ctx, opts.ActorID)
	if err != nil {
		return domain.Task{}, err
	}
	// Looked up before the transaction opens.
	_, targetErr := e.Users.User(ctx, to)
	if targetErr != nil && !isNotFound(targetErr) {
		return domain.Task{}, classify(targetErr, opts.TaskID)
	}
	reason := strings.TrimSpace(opts.Reason)
	return e.mutate(ctx, mutation{
		taskID:   opts.TaskID,
		actorID:  actor.ID,
		kind:     events.Escalated,
		evtType:  events.TypeTaskEscalated,
		recordOp: "engine.Escalate",
		apply: func(ctx context.Context, tx *sqlx.Tx, t *domain.Task) error {
			if targetErr != nil {
				return validationError(CodeTargetNotFound, "user %s not found", to)
			}
			if to == actor.ID {
				return validationError(CodeSelfEscalation, "a task cannot be escalated to its escalator")
			}
			if !e.Policy.CanEscalate(actor, *t) {
				return forbiddenError(CodeNotOwner, "only the current owner may escalate this task")
			}
			if t.IsEscalated {
				return conflictError(CodeAlreadyEscalated, "task %s is already escalated", t.ID)
			}
			now := e.timestamp()
			if t.OriginalOwnerID == nil {
				prev := t.OwnerID
				t.OriginalOwnerID = &prev
			}
			from := t.OwnerID
			t.OwnerID = to
			t.IsEscalated = true
			t.Escalation = &domain.Escalation{
				EscalatedToID: to,
				EscalatedByID: actor.ID,
				EscalatedAt:   now,
				Reason:        reason,
			}
			recID, err := uuid.NewV7()
			if err != nil {
				return err
			}
			return e.Repo.InsertEscalation(ctx, tx, domain.EscalationRecord{
				ID:          recID.String(),
				TaskID:      t.ID,
				FromUserID:  from,
				ToUserID:    to,
				ByUserID:    actor.ID,
				Reason:      reason,
				EscalatedAt: now,
			})
		},
		payload: func(before, after domain.Task) events.EventPayload {
			return events.EventPayload{"from": before.OwnerID, "to": after.OwnerID, "reason": reason}
		},
	})
}

// Rollback returns an escalated task to its original owner. Only that owner
// may do it. originalOwnerId is cleared; the history table keeps the lineage.
func (e Engine) Rollback(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	return e.mutate(ctx, mutation{
		taskID:   taskID,
		actorID:  actor.ID,
		kind:     events.RolledBack,
		evtType:  events.TypeTaskRolledBack,
		recordOp: "engine.Rollback",
		apply: func(ctx context.Context, tx *sqlx.Tx, t *domain.Task) error {
			if !t.IsEscalated {
				return conflictError(CodeNotEscalated, "task %s is not escalated", t.ID)
			}
			target := auth.RestoreTarget(*t)
			if target == "" {
				return validationError(CodeNoOriginalOwner, "task %s has no original owner to return to", t.ID)
			}
			if !e.Policy.CanRollback(actor, *t) {
				return forbiddenError(CodeNotOriginalOwner, "only the original owner may roll back this task")
			}
			t.OwnerID = target
			t.IsEscalated = false
			t.Escalation = nil
			t.OriginalOwnerID = nil
			return e.Repo.CloseLatestEscalation(ctx, tx, t.ID, actor.ID, e.timestamp())
		},
		payload: func(before, after domain.Task) events.EventPayload {
			return events.EventPayload{"from": before.OwnerID, "to": after.OwnerID}
		},
	})
}
