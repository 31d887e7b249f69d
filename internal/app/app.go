// Package app wires the store, engine, broadcaster and background jobs
// together for the CLI and the HTTP server.
package app

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"taskpulse/internal/config"
	"taskpulse/internal/db"
	"taskpulse/internal/domain"
	"taskpulse/internal/engine"
	"taskpulse/internal/events"
	"taskpulse/internal/jobs"
	"taskpulse/internal/migrate"
	"taskpulse/internal/notify"
	"taskpulse/internal/query"
	"taskpulse/internal/realtime"
	"taskpulse/internal/repo"
	"taskpulse/internal/webhook"
)

// SlackTokenEnv overrides config.slack.token so the token can stay out of the file.
const SlackTokenEnv = "TASKPULSE_SLACK_TOKEN"

type App struct {
	Config      *config.Config
	DB          *sqlx.DB
	Directory   *engine.Directory
	Engine      engine.Engine
	Query       query.Service
	Broadcaster *events.Broadcaster
	Hub         *realtime.Hub
	Webhooks    *webhook.Dispatcher
	Jobs        *jobs.Scheduler
	Log         *logrus.Entry
}

// Open connects to the store, applies migrations, seeds configured users and
// builds the engine with its broadcaster. Nothing runs until Run is called.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *logrus.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := logrus.NewEntry(log)

	conn, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	r := repo.Repo{DB: conn}
	dir := engine.NewDirectory(r, 0, 0)
	a := &App{
		Config:    cfg,
		DB:        conn,
		Directory: dir,
		Query:     query.Service{Repo: r, PageSize: cfg.Tasks.PageSize},
		Log:       entry,
	}
	if err := a.SeedUsers(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	a.Broadcaster = events.NewBroadcaster(cfg.Realtime.QueueSize, entry)
	if cfg.Realtime.Enabled {
		a.Hub = realtime.NewHub(entry, nil)
		a.Broadcaster.AddSink(a.Hub)
	}
	token := cfg.Slack.Token
	if env := strings.TrimSpace(os.Getenv(SlackTokenEnv)); env != "" {
		token = env
	}
	if s := notify.NewSlack(token, cfg.Slack.Channel, cfg.Slack.APIURL); s != nil {
		a.Broadcaster.AddSink(s)
	}
	a.Webhooks = webhook.New(r, cfg.Webhooks, entry)
	a.Jobs = jobs.NewScheduler(cfg.Location(), entry)

	e := engine.New(conn, cfg)
	e.Users = dir
	e.Publisher = a.Broadcaster
	e.Log = entry.WithField("component", "engine")
	a.Engine = e
	return a, nil
}

// SeedUsers creates the users listed in the config that are not in the
// directory yet. Existing users are left as they are.
func (a *App) SeedUsers(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, seed := range a.Config.Users {
		_, err := a.Directory.User(ctx, seed.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return errors.Wrapf(err, "lookup user %s", seed.ID)
		}
		u := domain.User{
			ID:           seed.ID,
			Name:         seed.Name,
			DepartmentID: seed.DepartmentID,
			Role:         seed.Role,
			CreatedAt:    now,
		}
		if err := a.Directory.Save(ctx, u); err != nil {
			return errors.Wrapf(err, "seed user %s", seed.ID)
		}
		a.Log.WithField("user_id", seed.ID).Info("seeded user")
	}
	return nil
}

// Run starts the broadcaster worker and the scheduled jobs and blocks until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	spec := a.Config.WebhookSchedule
	if spec == "" {
		spec = "@every 5s"
	}
	if err := a.Jobs.AddWebhooks(ctx, spec, a.Webhooks); err != nil {
		return err
	}
	if err := a.Jobs.AddDayRollover(a.Broadcaster); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Broadcaster.Run(gctx)
	})
	g.Go(func() error {
		a.Jobs.Start()
		<-gctx.Done()
		a.Jobs.Stop()
		return nil
	})
	return g.Wait()
}

func (a *App) Close() error {
	if a.Hub != nil {
		a.Hub.Close()
	}
	return a.DB.Close()
}
