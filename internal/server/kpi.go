package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskpulse/internal/domain"
	"taskpulse/internal/query"
	"taskpulse/internal/report"
)

type kpiRangeInput struct {
	DateFrom     string `query:"date_from" format:"date"`
	DateTo       string `query:"date_to" format:"date"`
	DepartmentID string `query:"department_id"`
}

func (in kpiRangeInput) filter() query.SummaryFilter {
	return query.SummaryFilter{DateFrom: in.DateFrom, DateTo: in.DateTo, DepartmentID: in.DepartmentID}
}

func registerKPI(api huma.API, q query.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "kpi-summary",
		Method:      http.MethodGet,
		Path:        "/kpi/summary",
		Summary:     "Task KPI summary",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *kpiRangeInput) (*struct {
		Body domain.KPISummary `json:"body"`
	}, error) {
		sum, err := q.Summary(ctx, input.filter())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KPISummary `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "kpi-user",
		Method:      http.MethodGet,
		Path:        "/kpi/users/{user_id}",
		Summary:     "Task KPI for one user",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UserID   string `path:"user_id"`
		DateFrom string `query:"date_from" format:"date"`
		DateTo   string `query:"date_to" format:"date"`
	}) (*struct {
		Body domain.UserKPI `json:"body"`
	}, error) {
		sum, err := q.UserSummary(ctx, input.UserID, query.SummaryFilter{DateFrom: input.DateFrom, DateTo: input.DateTo})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserKPI `json:"body"`
		}{Body: sum}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "kpi-export",
		Method:      http.MethodGet,
		Path:        "/kpi/export.xlsx",
		Summary:     "Export the KPI summary as a spreadsheet",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *kpiRangeInput) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		sum, err := q.Summary(ctx, input.filter())
		if err != nil {
			return nil, handleError(err)
		}
		buf, err := report.KPIWorkbook(sum)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        report.ContentType,
			ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, exportName(input.DateFrom, input.DateTo)),
			Body:               buf.Bytes(),
		}, nil
	})
}

func exportName(from, to string) string {
	switch {
	case from != "" && to != "":
		return fmt.Sprintf("kpi_%s_%s.xlsx", from, to)
	case from != "":
		return fmt.Sprintf("kpi_from_%s.xlsx", from)
	case to != "":
		return fmt.Sprintf("kpi_to_%s.xlsx", to)
	default:
		return "kpi.xlsx"
	}
}
