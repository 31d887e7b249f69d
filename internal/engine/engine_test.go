package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/config"
	"taskpulse/internal/db"
	"taskpulse/internal/domain"
	"taskpulse/internal/engine"
	"taskpulse/internal/events"
	"taskpulse/internal/migrate"
	"taskpulse/internal/repo"
)

type testEnv struct {
	Engine    engine.Engine
	Ctx       context.Context
	Published *events.Recorder
}

var fixedNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	cfg.Tasks.DefaultDepartment = "hq"
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return fixedNow }
	rec := &events.Recorder{}
	eng.Publisher = rec

	ctx := context.Background()
	r := repo.Repo{DB: conn}
	for _, u := range []domain.User{
		{ID: "alice", Name: "Alice", DepartmentID: "it", Role: "user"},
		{ID: "bob", Name: "Bob", DepartmentID: "it", Role: "user"},
		{ID: "carol", Name: "Carol", DepartmentID: "ops", Role: "user"},
		{ID: "boss", Name: "Boss", Role: "admin"},
		{ID: "drifter", Name: "No Department", Role: "user"},
	} {
		u.CreatedAt = fixedNow.Format(time.RFC3339)
		require.NoError(t, r.UpsertUser(ctx, u))
	}
	return testEnv{Engine: eng, Ctx: ctx, Published: rec}
}

func (env testEnv) create(t *testing.T, actor string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Description: "fix printer",
		Remarks:     "jammed",
		ActorID:     actor,
	})
	require.NoError(t, err)
	return task
}

func assertOwnershipInvariant(t *testing.T, task domain.Task) {
	t.Helper()
	if task.IsEscalated {
		require.NotNil(t, task.Escalation)
		assert.Equal(t, task.Escalation.EscalatedToID, task.OwnerID)
	} else {
		assert.Nil(t, task.Escalation)
	}
}

func TestPrinterScenario(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	assert.Equal(t, "alice", task.OwnerID)
	assert.Equal(t, "alice", task.CreatedByID)
	assert.Equal(t, "it", task.DepartmentID)
	assert.Equal(t, domain.StatusInProgress, task.Status)
	assert.Equal(t, "2024-03-15", task.Date)

	task, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: "bob", Reason: "out of office", ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "bob", task.OwnerID)
	require.NotNil(t, task.OriginalOwnerID)
	assert.Equal(t, "alice", *task.OriginalOwnerID)
	assert.True(t, task.IsEscalated)
	assert.Equal(t, "out of office", task.Escalation.Reason)
	assertOwnershipInvariant(t, task)

	_, err = env.Engine.Rollback(env.Ctx, task.ID, "bob")
	require.Error(t, err)
	assert.True(t, engine.IsForbidden(err))
	assert.Equal(t, engine.CodeNotOriginalOwner, engine.CodeOf(err))

	task, err = env.Engine.Rollback(env.Ctx, task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", task.OwnerID)
	assert.False(t, task.IsEscalated)
	assert.Nil(t, task.OriginalOwnerID)
	assertOwnershipInvariant(t, task)

	task, err = env.Engine.SetStatus(env.Ctx, task.ID, domain.StatusClosed, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, task.Status)
	require.NotNil(t, task.ClosedAt)

	task, err = env.Engine.SetStatus(env.Ctx, task.ID, domain.StatusInProgress, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, task.Status)
	assert.Nil(t, task.ClosedAt)

	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, stored)

	assert.Equal(t, []events.Kind{
		events.Created, events.Escalated, events.RolledBack, events.StatusChanged, events.StatusChanged,
	}, env.Published.Kinds())
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Description: "  ", Remarks: "x", ActorID: "alice"})
	assert.Equal(t, engine.CodeMissingFields, engine.CodeOf(err))
	assert.True(t, engine.IsValidation(err))

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Description: "x", Remarks: "y", ActorID: "drifter"})
	assert.Equal(t, engine.CodeDepartmentRequired, engine.CodeOf(err))

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Description: "x", Remarks: "y", ActorID: "ghost"})
	assert.True(t, engine.IsForbidden(err))

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Description: "x", Remarks: "y", Date: "2024-01-01", ActorID: "alice"})
	assert.Equal(t, engine.CodeDateNotAllowed, engine.CodeOf(err))

	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Description: "x", Remarks: "y", Date: "15/03/2024", ActorID: "boss"})
	assert.Equal(t, engine.CodeInvalidInput, engine.CodeOf(err))
	assert.Empty(t, env.Published.Kinds())
}

func TestCreatePrivilegedFallbacks(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Description: "audit", Remarks: "quarterly", Date: "2024-01-02",
		Tags: []string{" audit", "q1", "audit", ""}, ServiceRequestID: "SR-9", ActorID: "boss",
	})
	require.NoError(t, err)
	assert.Equal(t, "hq", task.DepartmentID)
	assert.Equal(t, "2024-01-02", task.Date)
	assert.Equal(t, []string{"audit", "q1"}, task.Tags)
	require.NotNil(t, task.ServiceRequestID)
	assert.Equal(t, "SR-9", *task.ServiceRequestID)
}

func TestEscalatePreconditions(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")

	cases := []struct {
		name string
		opts engine.EscalateOptions
		kind engine.ErrorKind
		code string
	}{
		{"missing target", engine.EscalateOptions{TaskID: task.ID, ActorID: "alice"}, engine.KindValidation, engine.CodeMissingTarget},
		{"unknown task", engine.EscalateOptions{TaskID: "nope", ToUserID: "bob", ActorID: "alice"}, engine.KindNotFound, engine.CodeTaskNotFound},
		{"unknown target", engine.EscalateOptions{TaskID: task.ID, ToUserID: "ghost", ActorID: "alice"}, engine.KindValidation, engine.CodeTargetNotFound},
		{"self", engine.EscalateOptions{TaskID: task.ID, ToUserID: "alice", ActorID: "alice"}, engine.KindValidation, engine.CodeSelfEscalation},
		{"not owner", engine.EscalateOptions{TaskID: task.ID, ToUserID: "carol", ActorID: "bob"}, engine.KindForbidden, engine.CodeNotOwner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.Escalate(env.Ctx, tc.opts)
			require.Error(t, err)
			assert.Equal(t, tc.kind, engine.KindOf(err))
			assert.Equal(t, tc.code, engine.CodeOf(err))
		})
	}

	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, stored, "failed escalations must not change the task")
}

func TestSecondEscalationIsRejected(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	task, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: "bob", ActorID: "alice"})
	require.NoError(t, err)

	_, err = env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: "carol", ActorID: "bob"})
	assert.True(t, engine.IsConflict(err))
	assert.Equal(t, engine.CodeAlreadyEscalated, engine.CodeOf(err))

	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.OwnerID)
	assert.Equal(t, "alice", *stored.OriginalOwnerID)
}

func TestRollbackPreconditions(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")

	_, err := env.Engine.Rollback(env.Ctx, "nope", "alice")
	assert.True(t, engine.IsNotFound(err))

	_, err = env.Engine.Rollback(env.Ctx, task.ID, "alice")
	assert.Equal(t, engine.CodeNotEscalated, engine.CodeOf(err))
	assert.True(t, engine.IsConflict(err))
}

func TestRepeatedEscalationCycles(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	for i, to := range []string{"bob", "carol"} {
		env.Engine.Now = func() time.Time { return fixedNow.Add(time.Duration(i) * time.Minute) }
		var err error
		task, err = env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: to, ActorID: "alice"})
		require.NoError(t, err)
		assertOwnershipInvariant(t, task)
		task, err = env.Engine.Rollback(env.Ctx, task.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", task.OwnerID)
		assertOwnershipInvariant(t, task)
	}

	history, err := env.Engine.EscalationHistory(env.Ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "bob", history[0].ToUserID)
	assert.Equal(t, "carol", history[1].ToUserID)
	for _, h := range history {
		assert.Equal(t, "alice", h.FromUserID)
		require.NotNil(t, h.RolledBackAt)
		assert.Equal(t, "alice", *h.RolledBackByID)
	}

	_, err = env.Engine.EscalationHistory(env.Ctx, "nope")
	assert.True(t, engine.IsNotFound(err))
}

func TestRollbackFallsBackToEscalator(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	task, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: "bob", ActorID: "alice"})
	require.NoError(t, err)

	// Rows written before originalOwnerId existed only carry the escalator.
	tx, err := env.Engine.DB.Beginx()
	require.NoError(t, err)
	task.OriginalOwnerID = nil
	require.NoError(t, env.Engine.Repo.UpdateTask(env.Ctx, tx, task))
	require.NoError(t, tx.Commit())

	task, err = env.Engine.Rollback(env.Ctx, task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", task.OwnerID)
}

func TestStaleWriteIsRejected(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	_, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: "bob", ActorID: "alice"})
	require.NoError(t, err)

	tx, err := env.Engine.DB.Beginx()
	require.NoError(t, err)
	defer tx.Rollback()
	task.Description = "stale"
	err = env.Engine.Repo.UpdateTask(env.Ctx, tx, task)
	assert.ErrorIs(t, err, repo.ErrVersionConflict)

	task.ID = "missing"
	err = env.Engine.Repo.UpdateTask(env.Ctx, tx, task)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpdateTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	desc := "fix printer on floor 2"
	tags := []string{"hardware", "hardware"}
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Description: &desc, Tags: &tags, ActorID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, []string{"hardware"}, updated.Tags)
	assert.Equal(t, task.Version+1, updated.Version)
	assert.Equal(t, task.DepartmentID, updated.DepartmentID)

	date := "2024-01-01"
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Date: &date, ActorID: "alice"})
	assert.Equal(t, engine.CodeDateNotAllowed, engine.CodeOf(err))

	updated, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Date: &date, ActorID: "boss"})
	require.NoError(t, err)
	assert.Equal(t, date, updated.Date)

	empty := " "
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Remarks: &empty, ActorID: "alice"})
	assert.Equal(t, engine.CodeMissingFields, engine.CodeOf(err))

	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "nope", Description: &desc, ActorID: "alice"})
	assert.True(t, engine.IsNotFound(err))
}

func TestSetStatusValidation(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	_, err := env.Engine.SetStatus(env.Ctx, task.ID, "done", "alice")
	assert.Equal(t, engine.CodeInvalidStatus, engine.CodeOf(err))
	_, err = env.Engine.SetStatus(env.Ctx, "nope", domain.StatusClosed, "alice")
	assert.True(t, engine.IsNotFound(err))

	closed, err := env.Engine.SetStatus(env.Ctx, task.ID, domain.StatusClosed, "alice")
	require.NoError(t, err)
	env.Engine.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	again, err := env.Engine.SetStatus(env.Ctx, task.ID, domain.StatusClosed, "alice")
	require.NoError(t, err)
	assert.Equal(t, *closed.ClosedAt, *again.ClosedAt)
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	_, err := env.Engine.DeleteTask(env.Ctx, task.ID, "alice")
	assert.True(t, engine.IsForbidden(err))

	res, err := env.Engine.DeleteTask(env.Ctx, task.ID, "boss")
	require.NoError(t, err)
	assert.Equal(t, engine.DeleteResult{ID: task.ID, Deleted: true}, res)

	_, err = env.Engine.GetTask(env.Ctx, task.ID)
	assert.True(t, engine.IsNotFound(err))
	_, err = env.Engine.DeleteTask(env.Ctx, task.ID, "boss")
	assert.True(t, engine.IsNotFound(err))

	calls := env.Published.Calls()
	assert.Equal(t, events.Deleted, calls[len(calls)-1].Kind)
}

func TestMutationsWriteOutbox(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	_, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: "bob", ActorID: "alice"})
	require.NoError(t, err)

	evs, err := env.Engine.Repo.EventsAfter(env.Ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, events.TypeTaskCreated, evs[0].Type)
	assert.Equal(t, events.TypeTaskEscalated, evs[1].Type)
	assert.Equal(t, task.ID, evs[1].EntityID)
	assert.Equal(t, "alice", evs[1].ActorID)
	assert.JSONEq(t, `{"from":"alice","to":"bob","reason":""}`, evs[1].Payload)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{}, engine.NormalizeTags(nil))
	assert.Equal(t, []string{"a", "b"}, engine.NormalizeTags([]string{"b", " a ", "b"}))
}

func TestUpdateTaskBlankDateKeepsDate(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Description: "audit", Remarks: "q1", Date: "2024-01-02", ActorID: "boss"})
	require.NoError(t, err)

	for _, blank := range []string{"", "   "} {
		updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Date: &blank, ActorID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "2024-01-02", updated.Date)
	}
}

func TestUnknownActorCannotEscalateOrRollback(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")
	task, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: "bob", ActorID: "alice"})
	require.NoError(t, err)
	fresh := env.create(t, "alice")

	for _, actor := range []string{"", "ghost"} {
		_, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: fresh.ID, ToUserID: "bob", ActorID: actor})
		assert.True(t, engine.IsForbidden(err))
		assert.Equal(t, engine.CodeUnknownActor, engine.CodeOf(err))

		_, err = env.Engine.Rollback(env.Ctx, task.ID, actor)
		assert.True(t, engine.IsForbidden(err))
		assert.Equal(t, engine.CodeUnknownActor, engine.CodeOf(err))
	}

	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, stored)
}

func TestConcurrentEscalationsHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "alice")

	targets := []string{"bob", "carol", "boss", "bob", "carol", "boss", "bob", "carol"}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to string) {
			defer wg.Done()
			_, errs[i] = env.Engine.Escalate(env.Ctx, engine.EscalateOptions{TaskID: task.ID, ToUserID: to, ActorID: "alice"})
		}(i, to)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		kind := engine.KindOf(err)
		assert.NotEqual(t, engine.KindDependency, kind, "lost race surfaced as a store failure: %v", err)
		assert.Contains(t, []engine.ErrorKind{engine.KindConflict, engine.KindForbidden}, kind)
	}
	assert.Equal(t, 1, wins)

	stored, err := env.Engine.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsEscalated)
	assert.Equal(t, "alice", *stored.OriginalOwnerID)
	history, err := env.Engine.EscalationHistory(env.Ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
