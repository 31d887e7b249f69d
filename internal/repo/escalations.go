package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"taskpulse/internal/domain"
)

const escalationColumns = `id, task_id, from_user_id, to_user_id, by_user_id, reason, escalated_at, rolled_back_at, rolled_back_by_id`

func (r Repo) InsertEscalation(ctx context.Context, tx *sqlx.Tx, rec domain.EscalationRecord) error {
	_, err := tx.NamedExecContext(ctx, `INSERT INTO task_escalations(`+escalationColumns+`) VALUES
(:id, :task_id, :from_user_id, :to_user_id, :by_user_id, :reason, :escalated_at, :rolled_back_at, :rolled_back_by_id)`, rec)
	return errors.WithStack(err)
}

// CloseLatestEscalation stamps the newest open history record of a task as
// rolled back. A task without an open record is left untouched.
func (r Repo) CloseLatestEscalation(ctx context.Context, tx *sqlx.Tx, taskID, byUserID, at string) error {
	var id string
	err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM task_escalations
WHERE task_id=? AND rolled_back_at IS NULL ORDER BY escalated_at DESC, id DESC LIMIT 1`), taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE task_escalations SET rolled_back_at=?, rolled_back_by_id=? WHERE id=?`), at, byUserID, id)
	return errors.WithStack(err)
}

// ListEscalations returns a task's history, oldest first.
func (r Repo) ListEscalations(ctx context.Context, taskID string) ([]domain.EscalationRecord, error) {
	recs := []domain.EscalationRecord{}
	err := sqlx.SelectContext(ctx, r.DB, &recs, r.DB.Rebind(`SELECT `+escalationColumns+` FROM task_escalations
WHERE task_id=? ORDER BY escalated_at, id`), taskID)
	return recs, errors.WithStack(err)
}
