// Package query serves read-only task listings and KPI rollups. It never
// writes; counts and pages come from separate queries and may briefly disagree
// under concurrent writes.
package query

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"taskpulse/internal/domain"
	"taskpulse/internal/repo"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ErrInvalidQuery wraps malformed filter input.
var ErrInvalidQuery = errors.New("invalid query")

type Service struct {
	Repo     repo.Repo
	PageSize int
}

// Page selects a 1-based page. Zero values pick the defaults.
type Page struct {
	Number int
	Size   int
}

func (s Service) normalize(p Page) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = s.PageSize
		if p.Size <= 0 {
			p.Size = DefaultPageSize
		}
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// List returns one page of tasks matching f, newest date first.
func (s Service) List(ctx context.Context, f repo.TaskFilter, p Page) (domain.TaskPage, error) {
	return s.page(ctx, f, p, repo.OrderByDate)
}

// EscalatedTo lists tasks currently escalated to userID, most recent escalation first.
func (s Service) EscalatedTo(ctx context.Context, userID string, p Page) (domain.TaskPage, error) {
	return s.page(ctx, repo.TaskFilter{EscalatedToID: userID}, p, repo.OrderByEscalation)
}

// EscalatedBy lists tasks userID escalated that are still escalated.
func (s Service) EscalatedBy(ctx context.Context, userID string, p Page) (domain.TaskPage, error) {
	return s.page(ctx, repo.TaskFilter{EscalatedByID: userID}, p, repo.OrderByEscalation)
}

func (s Service) page(ctx context.Context, f repo.TaskFilter, p Page, order repo.Order) (domain.TaskPage, error) {
	if err := checkDates(f.DateFrom, f.DateTo); err != nil {
		return domain.TaskPage{}, err
	}
	p = s.normalize(p)
	var (
		items []domain.Task
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.Repo.FindTasks(gctx, f, order, p.Size, (p.Number-1)*p.Size)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.Repo.CountTasks(gctx, f)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.TaskPage{}, err
	}
	return domain.TaskPage{
		Items:       items,
		Total:       total,
		TotalPages:  int(math.Ceil(float64(total) / float64(p.Size))),
		CurrentPage: p.Number,
	}, nil
}

// SummaryFilter scopes a KPI rollup.
type SummaryFilter struct {
	DateFrom     string
	DateTo       string
	DepartmentID string
	OwnerID      string
}

func (f SummaryFilter) taskFilter() repo.TaskFilter {
	return repo.TaskFilter{DateFrom: f.DateFrom, DateTo: f.DateTo, DepartmentID: f.DepartmentID, OwnerID: f.OwnerID}
}

// Summary computes the KPI rollup over the tasks matching f.
func (s Service) Summary(ctx context.Context, f SummaryFilter) (domain.KPISummary, error) {
	if err := checkDates(f.DateFrom, f.DateTo); err != nil {
		return domain.KPISummary{}, err
	}
	base := f.taskFilter()
	escalated := base
	yes := true
	escalated.IsEscalated = &yes

	out := domain.KPISummary{DateFrom: f.DateFrom, DateTo: f.DateTo}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Total, err = s.Repo.CountTasks(gctx, base)
		return err
	})
	g.Go(func() error {
		var err error
		out.Escalated, err = s.Repo.CountTasks(gctx, escalated)
		return err
	})
	g.Go(func() error {
		var err error
		out.ByStatus, err = s.Repo.CountTasksBy(gctx, base, "status")
		return err
	})
	g.Go(func() error {
		var err error
		out.ByDepartment, err = s.Repo.CountTasksBy(gctx, base, "department_id")
		return err
	})
	g.Go(func() error {
		var err error
		out.ByOwner, err = s.Repo.CountTasksBy(gctx, base, "owner_id")
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.KPISummary{}, err
	}
	for _, st := range []string{domain.StatusInProgress, domain.StatusClosed} {
		if _, ok := out.ByStatus[st]; !ok {
			out.ByStatus[st] = 0
		}
	}
	out.CompletionRate = Rate(out.ByStatus[domain.StatusClosed], out.Total)
	out.EscalationRate = Rate(out.Escalated, out.Total)
	return out, nil
}

// UserSummary is Summary over the tasks userID owns, plus the live escalations
// to and by that user.
func (s Service) UserSummary(ctx context.Context, userID string, f SummaryFilter) (domain.UserKPI, error) {
	f.OwnerID = userID
	out := domain.UserKPI{UserID: userID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.KPISummary, err = s.Summary(gctx, f)
		return err
	})
	g.Go(func() error {
		var err error
		out.EscalatedToUser, err = s.Repo.CountTasks(gctx, repo.TaskFilter{EscalatedToID: userID, DateFrom: f.DateFrom, DateTo: f.DateTo})
		return err
	})
	g.Go(func() error {
		var err error
		out.EscalatedByUser, err = s.Repo.CountTasks(gctx, repo.TaskFilter{EscalatedByID: userID, DateFrom: f.DateFrom, DateTo: f.DateTo})
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.UserKPI{}, err
	}
	return out, nil
}

// Rate is part/total as a percentage rounded to two decimals, 0 when total is 0.
func Rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

func checkDates(from, to string) error {
	for _, d := range []string{from, to} {
		if strings.TrimSpace(d) == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, d); err != nil {
			return errors.Wrapf(ErrInvalidQuery, "date %q must be YYYY-MM-DD", d)
		}
	}
	if from != "" && to != "" && from > to {
		return errors.Wrap(ErrInvalidQuery, "date_from is after date_to")
	}
	return nil
}
