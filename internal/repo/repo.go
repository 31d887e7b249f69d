package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"taskpulse/internal/domain"
)

type Repo struct {
	DB *sqlx.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict means the row changed between read and conditional write.
	ErrVersionConflict = errors.New("version conflict")
)

const taskColumns = `id,description,remarks,service_request_id,status,task_date,department_id,owner_id,created_by_id,
original_owner_id,escalated_to_id,escalated_by_id,escalated_at,escalation_reason,is_escalated,closed_at,tags_json,version,created_at,updated_at`

type taskRow struct {
	ID               string         `db:"id"`
	Description      string         `db:"description"`
	Remarks          string         `db:"remarks"`
	ServiceRequestID sql.NullString `db:"service_request_id"`
	Status           string         `db:"status"`
	Date             string         `db:"task_date"`
	DepartmentID     string         `db:"department_id"`
	OwnerID          string         `db:"owner_id"`
	CreatedByID      string         `db:"created_by_id"`
	OriginalOwnerID  sql.NullString `db:"original_owner_id"`
	EscalatedToID    sql.NullString `db:"escalated_to_id"`
	EscalatedByID    sql.NullString `db:"escalated_by_id"`
	EscalatedAt      sql.NullString `db:"escalated_at"`
	EscalationReason sql.NullString `db:"escalation_reason"`
	IsEscalated      bool           `db:"is_escalated"`
	ClosedAt         sql.NullString `db:"closed_at"`
	TagsJSON         string         `db:"tags_json"`
	Version          int64          `db:"version"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

func (r taskRow) toDomain() domain.Task {
	t := domain.Task{
		ID:               r.ID,
		Description:      r.Description,
		Remarks:          r.Remarks,
		ServiceRequestID: nullStringPtr(r.ServiceRequestID),
		Status:           r.Status,
		Date:             r.Date,
		DepartmentID:     r.DepartmentID,
		OwnerID:          r.OwnerID,
		CreatedByID:      r.CreatedByID,
		OriginalOwnerID:  nullStringPtr(r.OriginalOwnerID),
		IsEscalated:      r.IsEscalated,
		ClosedAt:         nullStringPtr(r.ClosedAt),
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		Tags:             []string{},
	}
	if r.IsEscalated {
		t.Escalation = &domain.Escalation{
			EscalatedToID: r.EscalatedToID.String,
			EscalatedByID: r.EscalatedByID.String,
			EscalatedAt:   r.EscalatedAt.String,
			Reason:        r.EscalationReason.String,
		}
	}
	if r.TagsJSON != "" {
		_ = json.Unmarshal([]byte(r.TagsJSON), &t.Tags)
	}
	return t
}

func fromDomain(t domain.Task) (taskRow, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return taskRow{}, err
	}
	row := taskRow{
		ID:               t.ID,
		Description:      t.Description,
		Remarks:          t.Remarks,
		ServiceRequestID: nullString(t.ServiceRequestID),
		Status:           t.Status,
		Date:             t.Date,
		DepartmentID:     t.DepartmentID,
		OwnerID:          t.OwnerID,
		CreatedByID:      t.CreatedByID,
		OriginalOwnerID:  nullString(t.OriginalOwnerID),
		IsEscalated:      t.IsEscalated,
		ClosedAt:         nullString(t.ClosedAt),
		TagsJSON:         string(tagsJSON),
		Version:          t.Version,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
	if t.Escalation != nil {
		row.EscalatedToID = sql.NullString{String: t.Escalation.EscalatedToID, Valid: true}
		row.EscalatedByID = sql.NullString{String: t.Escalation.EscalatedByID, Valid: true}
		row.EscalatedAt = sql.NullString{String: t.Escalation.EscalatedAt, Valid: true}
		row.EscalationReason = sql.NullString{String: t.Escalation.Reason, Valid: true}
	}
	return row, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sqlx.Tx, t domain.Task) error {
	row, err := fromDomain(t)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = tx.NamedExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (
:id,:description,:remarks,:service_request_id,:status,:task_date,:department_id,:owner_id,:created_by_id,
:original_owner_id,:escalated_to_id,:escalated_by_id,:escalated_at,:escalation_reason,:is_escalated,:closed_at,:tags_json,:version,:created_at,:updated_at)`, row)
	return errors.WithStack(err)
}

// UpdateTask writes every mutable column, conditional on t.Version still being
// the stored version. The stored version is bumped by one on success.
// department_id, created_by_id and created_at are never rewritten.
func (r Repo) UpdateTask(ctx context.Context, tx *sqlx.Tx, t domain.Task) error {
	row, err := fromDomain(t)
	if err != nil {
		return errors.WithStack(err)
	}
	res, err := tx.NamedExecContext(ctx, `UPDATE tasks SET description=:description, remarks=:remarks,
service_request_id=:service_request_id, status=:status, task_date=:task_date, owner_id=:owner_id,
original_owner_id=:original_owner_id, escalated_to_id=:escalated_to_id, escalated_by_id=:escalated_by_id,
escalated_at=:escalated_at, escalation_reason=:escalation_reason, is_escalated=:is_escalated, closed_at=:closed_at,
tags_json=:tags_json, updated_at=:updated_at, version=version+1
WHERE id=:id AND version=:version`, row)
	if err != nil {
		return errors.WithStack(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		if _, err := r.GetTaskTx(ctx, tx, t.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sqlx.Tx, id string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tasks WHERE id=?`), id)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.Task, error) {
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q sqlx.ExtContext, id string) (domain.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id=?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, errors.WithStack(err)
	}
	return row.toDomain(), nil
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
