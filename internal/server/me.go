package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/pkg/errors"

	"taskpulse/internal/domain"
	"taskpulse/internal/engine"
	"taskpulse/internal/repo"
)

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.UserID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		u, err := e.Users.User(ctx, p.UserID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, engine.CodeUserNotFound, "user "+p.UserID+" not found", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{User: u, Privileged: e.Policy.IsPrivileged(u), AuthSource: p.Source}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		DepartmentID string `query:"department_id"`
	}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		users, err := e.Repo.ListUsers(ctx, input.DepartmentID)
		if err != nil {
			return nil, handleError(err)
		}
		if users == nil {
			users = []domain.User{}
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: users}, nil
	})
}
