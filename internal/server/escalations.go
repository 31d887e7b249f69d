package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskpulse/internal/domain"
	"taskpulse/internal/engine"
	"taskpulse/internal/query"
)

type userPageInput struct {
	UserID   string `path:"user_id"`
	Page     int    `query:"page" minimum:"0"`
	PageSize int    `query:"page_size" minimum:"0" maximum:"100"`
}

func registerEscalations(api huma.API, e engine.Engine, q query.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "escalate-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/escalate",
		Summary:     "Escalate task to another user",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body EscalateRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskOut(e.Escalate(ctx, engine.EscalateOptions{
			TaskID:   input.ID,
			ToUserID: input.Body.ToUserID,
			Reason:   input.Body.Reason,
			ActorID:  actorID,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/rollback",
		Summary:     "Return escalated task to its original owner",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return taskOut(e.Rollback(ctx, input.ID, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-escalation-history",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/escalations",
		Summary:     "Escalation history of a task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.EscalationRecord `json:"body"`
	}, error) {
		items, err := e.EscalationHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.EscalationRecord{}
		}
		return &struct {
			Body []domain.EscalationRecord `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalations-received",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/escalations/received",
		Summary:     "Tasks currently escalated to a user",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *userPageInput) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		page, err := q.EscalatedTo(ctx, input.UserID, query.Page{Number: input.Page, Size: input.PageSize})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: taskListResponse(page)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalations-sent",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/escalations/sent",
		Summary:     "Tasks a user has escalated and not yet had back",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *userPageInput) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		page, err := q.EscalatedBy(ctx, input.UserID, query.Page{Number: input.Page, Size: input.PageSize})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: taskListResponse(page)}, nil
	})
}
