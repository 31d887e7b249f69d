package engine

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"taskpulse/internal/config"
	"taskpulse/internal/domain"
	"taskpulse/internal/engine/auth"
	"taskpulse/internal/events"
	"taskpulse/internal/metrics"
	"taskpulse/internal/repo"
)

// Engine owns every task mutation. Each operation validates against the stored
// row, writes it with a version check and appends an outbox event in one
// transaction, then hands the committed task to Publisher.
type Engine struct {
	DB        *sqlx.DB
	Repo      repo.Repo
	Events    events.Writer
	Publisher events.Publisher
	Users     UserLookup
	Policy    auth.Policy
	Config    *config.Config
	Log       *logrus.Entry
	Now       func() time.Time
}

func New(db *sqlx.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{},
		Publisher: events.NopPublisher{},
		Users:     NewDirectory(r, 0, 0),
		Policy:    auth.NewPolicy(cfg.Tasks.PrivilegedRoles...),
		Config:    cfg,
		Log:       logrus.NewEntry(logrus.StandardLogger()),
		Now:       time.Now,
	}
}

var validate = validator.New()

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// today is the current date in the configured zone.
func (e Engine) today() string {
	loc := time.UTC
	if e.Config != nil {
		loc = e.Config.Location()
	}
	return e.now().In(loc).Format(domain.DateLayout)
}

func (e Engine) logger() *logrus.Entry {
	if e.Log != nil {
		return e.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (e Engine) eventWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// actor resolves the acting user. Unknown users may not mutate anything.
func (e Engine) actor(ctx context.Context, id string) (domain.User, error) {
	if strings.TrimSpace(id) == "" {
		return domain.User{}, forbiddenError(CodeUnknownActor, "acting user required")
	}
	u, err := e.Users.User(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return domain.User{}, forbiddenError(CodeUnknownActor, "user %s is not known", id)
		}
		return domain.User{}, classify(err, "")
	}
	return u, nil
}

// mutation is one conditional task write.
type mutation struct {
	taskID   string
	actorID  string
	kind     events.Kind
	evtType  string
	payload  func(before, after domain.Task) events.EventPayload
	apply    func(ctx context.Context, tx *sqlx.Tx, task *domain.Task) error
	recordOp string
}

// mutate runs read, apply, versioned write and outbox append in one transaction.
// apply must not touch the store unless the change is valid.
func (e Engine) mutate(ctx context.Context, m mutation) (domain.Task, error) {
	log := e.logger().WithFields(logrus.Fields{"operation": m.recordOp, "task_id": m.taskID, "actor_id": m.actorID})
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, classify(err, m.taskID)
	}
	defer tx.Rollback()

	before, err := e.Repo.GetTaskTx(ctx, tx, m.taskID)
	if err != nil {
		return domain.Task{}, classify(err, m.taskID)
	}
	after := before
	if err := m.apply(ctx, tx, &after); err != nil {
		log.WithError(err).Debug("rejected")
		return domain.Task{}, classify(err, m.taskID)
	}
	after.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, after); err != nil {
		return domain.Task{}, classify(err, m.taskID)
	}
	after.Version = before.Version + 1
	var payload events.EventPayload
	if m.payload != nil {
		payload = m.payload(before, after)
	}
	if err := e.eventWriter().Append(ctx, tx, m.evtType, after.ID, m.actorID, payload); err != nil {
		return domain.Task{}, classify(err, m.taskID)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, classify(err, m.taskID)
	}
	log.Info("committed")
	e.publish(m.kind, after)
	return after, nil
}

func (e Engine) publish(kind events.Kind, task domain.Task) {
	metrics.TaskTransitions.WithLabelValues(string(kind)).Inc()
	if e.Publisher != nil {
		e.Publisher.Publish(kind, task)
	}
}
