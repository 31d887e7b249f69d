package repo

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"taskpulse/internal/domain"
)

const eventColumns = `id, ts, type, entity_id, actor_id, payload_json`

// EventsAfter returns up to limit outbox events with id greater than after, in id order.
func (r Repo) EventsAfter(ctx context.Context, after int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	evs := []domain.Event{}
	err := sqlx.SelectContext(ctx, r.DB, &evs, r.DB.Rebind(`SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id LIMIT ?`), after, limit)
	return evs, errors.WithStack(err)
}

// LatestEvents returns the newest events first, optionally for one entity.
func (r Repo) LatestEvents(ctx context.Context, entityID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	var args []any
	if entityID != "" {
		query += ` WHERE entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	evs := []domain.Event{}
	err := sqlx.SelectContext(ctx, r.DB, &evs, r.DB.Rebind(query), args...)
	return evs, errors.WithStack(err)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, r.DB, &id, `SELECT COALESCE(MAX(id), 0) FROM events`)
	return id, errors.WithStack(err)
}
