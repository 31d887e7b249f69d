package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"taskpulse/internal/domain"
	"taskpulse/internal/engine"
	"taskpulse/internal/query"
	"taskpulse/internal/repo"
)

type taskPath struct {
	ID string `path:"id"`
}

type taskBody struct {
	Body domain.Task `json:"body"`
}

func taskOut(t domain.Task, err error) (*taskBody, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &taskBody{Body: t}, nil
}

type listTasksInput struct {
	Status       string `query:"status" enum:"in-progress,closed"`
	DepartmentID string `query:"department_id"`
	OwnerID      string `query:"owner_id"`
	CreatedByID  string `query:"created_by_id"`
	IsEscalated  string `query:"is_escalated" enum:"true,false"`
	Tag          string `query:"tag"`
	DateFrom     string `query:"date_from" format:"date"`
	DateTo       string `query:"date_to" format:"date"`
	Search       string `query:"search"`
	Page         int    `query:"page" minimum:"0"`
	PageSize     int    `query:"page_size" minimum:"0" maximum:"100"`
}

func (in listTasksInput) filter() (repo.TaskFilter, error) {
	f := repo.TaskFilter{
		Status:       in.Status,
		DepartmentID: in.DepartmentID,
		OwnerID:      in.OwnerID,
		CreatedByID:  in.CreatedByID,
		Tag:          strings.TrimSpace(in.Tag),
		DateFrom:     in.DateFrom,
		DateTo:       in.DateTo,
		Search:       in.Search,
	}
	if in.IsEscalated != "" {
		v, err := strconv.ParseBool(in.IsEscalated)
		if err != nil {
			return f, newAPIError(http.StatusBadRequest, "invalid_query", "is_escalated must be true or false", nil)
		}
		f.IsEscalated = &v
	}
	return f, nil
}

func registerTasks(api huma.API, e engine.Engine, q query.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskOut(e.CreateTask(ctx, engine.TaskCreateOptions{
			Description:      input.Body.Description,
			Remarks:          input.Body.Remarks,
			ServiceRequestID: input.Body.ServiceRequestID,
			Date:             input.Body.Date,
			Tags:             input.Body.Tags,
			ActorID:          actorID,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *listTasksInput) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		f, err := input.filter()
		if err != nil {
			return nil, handleError(err)
		}
		page, err := q.List(ctx, f, query.Page{Number: input.Page, Size: input.PageSize})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: taskListResponse(page)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		return taskOut(e.GetTask(ctx, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskOut(e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:               input.ID,
			Description:      input.Body.Description,
			Remarks:          input.Body.Remarks,
			ServiceRequestID: input.Body.ServiceRequestID,
			Date:             input.Body.Date,
			Tags:             input.Body.Tags,
			ActorID:          actorID,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Change task status",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskOut(e.SetStatus(ctx, input.ID, input.Body.Status, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body engine.DeleteResult `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.DeleteTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DeleteResult `json:"body"`
		}{Body: res}, nil
	})
}
