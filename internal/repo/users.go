package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"taskpulse/internal/domain"
)

const userColumns = `id, name, COALESCE(department_id,'') AS department_id, role, created_at`

// UpsertUser inserts the user or refreshes its name, department and role.
func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return errors.New("user id required")
	}
	if u.Role == "" {
		u.Role = "user"
	}
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`INSERT INTO users(id, name, department_id, role, created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, department_id=excluded.department_id, role=excluded.role`),
		u.ID, u.Name, nullable(u.DepartmentID), u.Role, u.CreatedAt)
	return errors.WithStack(err)
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := sqlx.GetContext(ctx, r.DB, &u, r.DB.Rebind(`SELECT `+userColumns+` FROM users WHERE id=?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, errors.WithStack(err)
	}
	return u, nil
}

// ListUsers returns users ordered by id, optionally limited to one department.
func (r Repo) ListUsers(ctx context.Context, departmentID string) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if departmentID != "" {
		query += ` WHERE department_id=?`
		args = append(args, departmentID)
	}
	query += ` ORDER BY id`
	users := []domain.User{}
	if err := sqlx.SelectContext(ctx, r.DB, &users, r.DB.Rebind(query), args...); err != nil {
		return nil, errors.WithStack(err)
	}
	return users, nil
}
