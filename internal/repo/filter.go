package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"taskpulse/internal/domain"
)

// Order selects the sort used by FindTasks.
type Order int

const (
	// OrderByDate sorts by (date DESC, createdAt DESC, id DESC).
	OrderByDate Order = iota
	// OrderByEscalation sorts by (escalatedAt DESC, date DESC, id DESC).
	OrderByEscalation
)

// TaskFilter is a conjunction of optional predicates. Zero values are ignored.
type TaskFilter struct {
	Status       string
	DepartmentID string
	OwnerID      string
	CreatedByID  string
	IsEscalated  *bool
	// EscalatedToID and EscalatedByID only match active escalations.
	EscalatedToID string
	EscalatedByID string
	DateFrom      string
	DateTo        string
	Tag           string
	Search        string
}

func (f TaskFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.DepartmentID != "" {
		clauses = append(clauses, "department_id=?")
		args = append(args, f.DepartmentID)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.CreatedByID != "" {
		clauses = append(clauses, "created_by_id=?")
		args = append(args, f.CreatedByID)
	}
	if f.IsEscalated != nil {
		clauses = append(clauses, "is_escalated=?")
		args = append(args, *f.IsEscalated)
	}
	if f.EscalatedToID != "" {
		clauses = append(clauses, "is_escalated=? AND escalated_to_id=?")
		args = append(args, true, f.EscalatedToID)
	}
	if f.EscalatedByID != "" {
		clauses = append(clauses, "is_escalated=? AND escalated_by_id=?")
		args = append(args, true, f.EscalatedByID)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "task_date>=?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "task_date<=?")
		args = append(args, f.DateTo)
	}
	if f.Tag != "" {
		clauses = append(clauses, `tags_json LIKE ? ESCAPE '\'`)
		// Same encoding as the stored column, so "R&D" matches "R\u0026D".
		needle, _ := json.Marshal(f.Tag)
		args = append(args, "%"+likeEscape(string(needle))+"%")
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + likeEscape(strings.ToLower(s)) + "%"
		clauses = append(clauses, `(LOWER(description) LIKE ? ESCAPE '\' OR LOWER(remarks) LIKE ? ESCAPE '\' OR LOWER(COALESCE(service_request_id,'')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// FindTasks returns at most limit matching tasks starting at offset. A limit of
// zero returns every match.
func (r Repo) FindTasks(ctx context.Context, f TaskFilter, order Order, limit, offset int) ([]domain.Task, error) {
	where, args := f.where()
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where
	switch order {
	case OrderByEscalation:
		query += ` ORDER BY escalated_at DESC, task_date DESC, id DESC`
	default:
		query += ` ORDER BY task_date DESC, created_at DESC, id DESC`
	}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	var rows []taskRow
	if err := sqlx.SelectContext(ctx, r.DB, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, errors.WithStack(err)
	}
	res := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		res = append(res, row.toDomain())
	}
	return res, nil
}

func (r Repo) CountTasks(ctx context.Context, f TaskFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := sqlx.GetContext(ctx, r.DB, &n, r.DB.Rebind(`SELECT COUNT(*) FROM tasks `+where), args...); err != nil {
		return 0, errors.WithStack(err)
	}
	return n, nil
}

var groupableColumns = map[string]bool{
	"status":        true,
	"department_id": true,
	"owner_id":      true,
}

// CountTasksBy groups the matching tasks by one of status, department_id or owner_id.
func (r Repo) CountTasksBy(ctx context.Context, f TaskFilter, column string) (map[string]int, error) {
	if !groupableColumns[column] {
		return nil, errors.Errorf("cannot group tasks by %q", column)
	}
	where, args := f.where()
	query := fmt.Sprintf(`SELECT %s AS k, COUNT(*) AS n FROM tasks %s GROUP BY %s`, column, where, column)
	rows, err := r.DB.QueryxContext(ctx, r.DB.Rebind(query), args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, errors.WithStack(err)
		}
		res[key] = count
	}
	return res, errors.WithStack(rows.Err())
}
