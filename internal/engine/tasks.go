package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"taskpulse/internal/domain"
	"taskpulse/internal/events"
)

// TaskCreateOptions are parameters for filing a task.
type TaskCreateOptions struct {
	Description      string `validate:"required"`
	Remarks          string `validate:"required"`
	ServiceRequestID string
	Date             string `validate:"omitempty,datetime=2006-01-02"`
	Tags             []string
	ActorID          string `validate:"required"`
}

// TaskUpdateOptions replaces the non-nil fields. An empty ServiceRequestID clears it.
type TaskUpdateOptions struct {
	ID               string
	Description      *string
	Remarks          *string
	ServiceRequestID *string
	Date             *string
	Tags             *[]string
	ActorID          string
}

// DeleteResult confirms a hard delete.
type DeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Description = strings.TrimSpace(opts.Description)
	opts.Remarks = strings.TrimSpace(opts.Remarks)
	opts.Date = strings.TrimSpace(opts.Date)
	if err := validate.Struct(opts); err != nil {
		return domain.Task{}, fromValidator(err)
	}
	creator, err := e.actor(ctx, opts.ActorID)
	if err != nil {
		return domain.Task{}, err
	}
	dept := creator.DepartmentID
	if dept == "" && e.Policy.IsPrivileged(creator) && e.Config != nil {
		dept = strings.TrimSpace(e.Config.Tasks.DefaultDepartment)
	}
	if dept == "" {
		return domain.Task{}, validationError(CodeDepartmentRequired, "user %s has no department and none can be assigned", creator.ID)
	}
	date, err := e.resolveDate(creator, opts.Date)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.timestamp()
	task := domain.Task{
		ID:               uuid.NewString(),
		Description:      opts.Description,
		Remarks:          opts.Remarks,
		ServiceRequestID: optionalString(opts.ServiceRequestID),
		Status:           domain.StatusInProgress,
		Date:             date,
		DepartmentID:     dept,
		OwnerID:          creator.ID,
		CreatedByID:      creator.ID,
		Tags:             NormalizeTags(opts.Tags),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, classify(err, task.ID)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
		return domain.Task{}, classify(err, task.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, events.TypeTaskCreated, task.ID, creator.ID, events.EventPayload{
		"owner_id":      task.OwnerID,
		"department_id": task.DepartmentID,
		"date":          task.Date,
	}); err != nil {
		return domain.Task{}, classify(err, task.ID)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, classify(err, task.ID)
	}
	e.logger().WithFields(logrus.Fields{"operation": "engine.CreateTask", "task_id": task.ID, "actor_id": creator.ID}).Info("committed")
	e.publish(events.Created, task)
	return task, nil
}

// resolveDate defaults to today; only privileged users may pick another day.
func (e Engine) resolveDate(u domain.User, date string) (string, error) {
	today := e.today()
	if date == "" || date == today {
		return today, nil
	}
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return "", validationError(CodeInvalidInput, "date must be YYYY-MM-DD")
	}
	if !e.Policy.CanSetDate(u) {
		return "", validationError(CodeDateNotAllowed, "only privileged users may record a task for %s", date)
	}
	return date, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	return t, classify(err, id)
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	actor, err := e.actor(ctx, opts.ActorID)
	if err != nil {
		return domain.Task{}, err
	}
	var changed []string
	return e.mutate(ctx, mutation{
		taskID:   opts.ID,
		actorID:  actor.ID,
		kind:     events.Updated,
		evtType:  events.TypeTaskUpdated,
		recordOp: "engine.UpdateTask",
		apply: func(_ context.Context, _ *sqlx.Tx, t *domain.Task) error {
			if opts.Description != nil {
				v := strings.TrimSpace(*opts.Description)
				if v == "" {
					return validationError(CodeMissingFields, "description must not be empty")
				}
				t.Description = v
				changed = append(changed, "description")
			}
			if opts.Remarks != nil {
				v := strings.TrimSpace(*opts.Remarks)
				if v == "" {
					return validationError(CodeMissingFields, "remarks must not be empty")
				}
				t.Remarks = v
				changed = append(changed, "remarks")
			}
			if opts.ServiceRequestID != nil {
				t.ServiceRequestID = optionalString(*opts.ServiceRequestID)
				changed = append(changed, "serviceRequestId")
			}
			// An empty date means "leave as is", not "move to today".
			if opts.Date != nil {
				if d := strings.TrimSpace(*opts.Date); d != "" && d != t.Date {
					date, err := e.resolveDate(actor, d)
					if err != nil {
						return err
					}
					t.Date = date
					changed = append(changed, "date")
				}
			}
			if opts.Tags != nil {
				t.Tags = NormalizeTags(*opts.Tags)
				changed = append(changed, "tags")
			}
			return nil
		},
		payload: func(_, _ domain.Task) events.EventPayload {
			return events.EventPayload{"fields": changed}
		},
	})
}

// SetStatus closes or reopens a task. Closing stamps closedAt once; reopening clears it.
func (e Engine) SetStatus(ctx context.Context, id, status, actorID string) (domain.Task, error) {
	status = strings.TrimSpace(status)
	if status != domain.StatusInProgress && status != domain.StatusClosed {
		return domain.Task{}, validationError(CodeInvalidStatus, "status must be %s or %s", domain.StatusInProgress, domain.StatusClosed)
	}
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	return e.mutate(ctx, mutation{
		taskID:   id,
		actorID:  actor.ID,
		kind:     events.StatusChanged,
		evtType:  events.TypeTaskStatusChanged,
		recordOp: "engine.SetStatus",
		apply: func(_ context.Context, _ *sqlx.Tx, t *domain.Task) error {
			switch status {
			case domain.StatusClosed:
				if t.Status != domain.StatusClosed || t.ClosedAt == nil {
					ts := e.timestamp()
					t.ClosedAt = &ts
				}
			case domain.StatusInProgress:
				t.ClosedAt = nil
			}
			t.Status = status
			return nil
		},
		payload: func(before, after domain.Task) events.EventPayload {
			return events.EventPayload{"from": before.Status, "to": after.Status}
		},
	})
}

// DeleteTask hard-deletes a task and its escalation history. Privileged users only.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) (DeleteResult, error) {
	actor, err := e.actor(ctx, actorID)
	if err != nil {
		return DeleteResult{}, err
	}
	if !e.Policy.CanDelete(actor) {
		return DeleteResult{}, forbiddenError(CodeNotPrivileged, "only privileged users may delete tasks")
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return DeleteResult{}, classify(err, id)
	}
	defer tx.Rollback()
	task, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return DeleteResult{}, classify(err, id)
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return DeleteResult{}, classify(err, id)
	}
	if err := e.eventWriter().Append(ctx, tx, events.TypeTaskDeleted, id, actor.ID, events.EventPayload{
		"owner_id": task.OwnerID,
	}); err != nil {
		return DeleteResult{}, classify(err, id)
	}
	if err := tx.Commit(); err != nil {
		return DeleteResult{}, classify(err, id)
	}
	e.logger().WithFields(logrus.Fields{"operation": "engine.DeleteTask", "task_id": id, "actor_id": actor.ID}).Info("committed")
	e.publish(events.Deleted, task)
	return DeleteResult{ID: id, Deleted: true}, nil
}

// EscalationHistory lists every escalation of a task, oldest first.
func (e Engine) EscalationHistory(ctx context.Context, id string) ([]domain.EscalationRecord, error) {
	if _, err := e.Repo.GetTask(ctx, id); err != nil {
		return nil, classify(err, id)
	}
	recs, err := e.Repo.ListEscalations(ctx, id)
	return recs, classify(err, id)
}

// NormalizeTags trims, drops empties, dedupes and sorts.
func NormalizeTags(tags []string) []string {
	set := mapset.NewSet[string]()
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			set.Add(t)
		}
	}
	out := set.ToSlice()
	sort.Strings(out)
	return out
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return validationError(CodeInvalidInput, "%v", err)
	}
	var missing, invalid []string
	for _, fe := range verrs {
		name := fieldName(fe.Field())
		if fe.Tag() == "required" {
			missing = append(missing, name)
		} else {
			invalid = append(invalid, name)
		}
	}
	if len(missing) > 0 {
		return validationError(CodeMissingFields, "missing required fields: %s", strings.Join(missing, ", "))
	}
	return validationError(CodeInvalidInput, "invalid fields: %s", strings.Join(invalid, ", "))
}

func fieldName(f string) string {
	switch f {
	case "ActorID":
		return "actorId"
	case "":
		return f
	}
	return strings.ToLower(f[:1]) + f[1:]
}
