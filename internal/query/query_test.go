package query_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/db"
	"taskpulse/internal/domain"
	"taskpulse/internal/migrate"
	"taskpulse/internal/query"
	"taskpulse/internal/repo"
)

func newService(t *testing.T) (query.Service, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return query.Service{Repo: repo.Repo{DB: conn}}, context.Background()
}

func seed(t *testing.T, s query.Service, ctx context.Context, tasks ...domain.Task) {
	t.Helper()
	tx, err := s.Repo.DB.Beginx()
	require.NoError(t, err)
	for _, task := range tasks {
		task.Version = 1
		task.CreatedAt = "2024-03-15T09:00:00Z"
		task.UpdatedAt = task.CreatedAt
		if task.Status == "" {
			task.Status = domain.StatusInProgress
		}
		if task.Description == "" {
			task.Description, task.Remarks = "d", "r"
		}
		require.NoError(t, s.Repo.InsertTask(ctx, tx, task))
	}
	require.NoError(t, tx.Commit())
}

func escalated(id, date, dept, from, to, at string) domain.Task {
	orig := from
	return domain.Task{ID: id, Date: date, DepartmentID: dept, OwnerID: to, CreatedByID: from, OriginalOwnerID: &orig,
		IsEscalated: true, Escalation: &domain.Escalation{EscalatedToID: to, EscalatedByID: from, EscalatedAt: at}}
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, query.Rate(0, 0))
	assert.Equal(t, 0.0, query.Rate(5, 0))
	assert.Equal(t, 33.33, query.Rate(1, 3))
	assert.Equal(t, 66.67, query.Rate(2, 3))
	assert.Equal(t, 100.0, query.Rate(4, 4))
}

func TestListPaging(t *testing.T) {
	s, ctx := newService(t)
	var tasks []domain.Task
	for i := 1; i <= 23; i++ {
		tasks = append(tasks, domain.Task{ID: fmt.Sprintf("t%02d", i), Date: fmt.Sprintf("2024-03-%02d", i), DepartmentID: "it", OwnerID: "alice", CreatedByID: "alice"})
	}
	seed(t, s, ctx, tasks...)

	page, err := s.List(ctx, repo.TaskFilter{}, query.Page{})
	require.NoError(t, err)
	assert.Equal(t, 23, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 1, page.CurrentPage)
	require.Len(t, page.Items, 10)
	assert.Equal(t, "t23", page.Items[0].ID)

	page, err = s.List(ctx, repo.TaskFilter{}, query.Page{Number: 3, Size: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Equal(t, "t03", page.Items[0].ID)

	page, err = s.List(ctx, repo.TaskFilter{}, query.Page{Number: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 23, page.Total)

	page, err = s.List(ctx, repo.TaskFilter{}, query.Page{Size: 1000})
	require.NoError(t, err)
	assert.Len(t, page.Items, 23)
	assert.Equal(t, 1, page.TotalPages)

	custom := query.Service{Repo: s.Repo, PageSize: 5}
	page, err = custom.List(ctx, repo.TaskFilter{}, query.Page{})
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalPages)
}

func TestListEmptyAndInvalid(t *testing.T) {
	s, ctx := newService(t)
	page, err := s.List(ctx, repo.TaskFilter{Status: domain.StatusClosed}, query.Page{})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPage{Items: []domain.Task{}, CurrentPage: 1}, page)

	_, err = s.List(ctx, repo.TaskFilter{DateFrom: "yesterday"}, query.Page{})
	assert.ErrorIs(t, err, query.ErrInvalidQuery)
	_, err = s.Summary(ctx, query.SummaryFilter{DateFrom: "2024-03-02", DateTo: "2024-03-01"})
	assert.ErrorIs(t, err, query.ErrInvalidQuery)
}

func TestEscalationViews(t *testing.T) {
	s, ctx := newService(t)
	seed(t, s, ctx,
		escalated("e1", "2024-03-10", "it", "alice", "bob", "2024-03-10T08:00:00Z"),
		escalated("e2", "2024-03-09", "it", "carol", "bob", "2024-03-11T08:00:00Z"),
		escalated("e3", "2024-03-11", "it", "alice", "carol", "2024-03-11T09:00:00Z"),
		domain.Task{ID: "plain", Date: "2024-03-12", DepartmentID: "it", OwnerID: "bob", CreatedByID: "bob"},
	)
	to, err := s.EscalatedTo(ctx, "bob", query.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, to.Total)
	assert.Equal(t, "e2", to.Items[0].ID)
	assert.Equal(t, "e1", to.Items[1].ID)

	by, err := s.EscalatedBy(ctx, "alice", query.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, by.Total)
	assert.Equal(t, "e3", by.Items[0].ID)
}

func TestSummary(t *testing.T) {
	s, ctx := newService(t)
	empty, err := s.Summary(ctx, query.SummaryFilter{})
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.CompletionRate)
	assert.Zero(t, empty.EscalationRate)
	assert.Equal(t, map[string]int{"in-progress": 0, "closed": 0}, empty.ByStatus)

	seed(t, s, ctx,
		domain.Task{ID: "a", Date: "2024-03-10", DepartmentID: "it", OwnerID: "alice", CreatedByID: "alice", Status: domain.StatusClosed},
		domain.Task{ID: "b", Date: "2024-03-11", DepartmentID: "it", OwnerID: "alice", CreatedByID: "alice"},
		escalated("c", "2024-03-12", "hr", "carol", "alice", "2024-03-12T08:00:00Z"),
		domain.Task{ID: "d", Date: "2024-02-01", DepartmentID: "hr", OwnerID: "carol", CreatedByID: "carol", Status: domain.StatusClosed},
	)
	sum, err := s.Summary(ctx, query.SummaryFilter{DateFrom: "2024-03-01", DateTo: "2024-03-31"})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Escalated)
	assert.Equal(t, map[string]int{"in-progress": 2, "closed": 1}, sum.ByStatus)
	assert.Equal(t, map[string]int{"it": 2, "hr": 1}, sum.ByDepartment)
	assert.Equal(t, map[string]int{"alice": 3}, sum.ByOwner)
	assert.Equal(t, 33.33, sum.CompletionRate)
	assert.Equal(t, 33.33, sum.EscalationRate)

	hr, err := s.Summary(ctx, query.SummaryFilter{DepartmentID: "hr"})
	require.NoError(t, err)
	assert.Equal(t, 2, hr.Total)
	assert.Equal(t, 50.0, hr.CompletionRate)

	user, err := s.UserSummary(ctx, "alice", query.SummaryFilter{})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.UserID)
	assert.Equal(t, 3, user.Total)
	assert.Equal(t, 1, user.EscalatedToUser)
	assert.Equal(t, 0, user.EscalatedByUser)

	carol, err := s.UserSummary(ctx, "carol", query.SummaryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, carol.Total)
	assert.Equal(t, 100.0, carol.CompletionRate)
	assert.Equal(t, 1, carol.EscalatedByUser)
}
