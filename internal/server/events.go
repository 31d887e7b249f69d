package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskpulse/internal/domain"
	"taskpulse/internal/engine"
)

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Read the event log",
		Description: "Returns outbox events with id greater than after, oldest first. When entity_id is set the newest events for that task are returned instead.",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		After    int64  `query:"after" minimum:"0"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var (
			evs []domain.Event
			err error
		)
		if input.EntityID != "" {
			evs, err = e.Repo.LatestEvents(ctx, input.EntityID, limit)
		} else {
			evs, err = e.Repo.EventsAfter(ctx, input.After, limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]EventResponse, 0, len(evs))
		for _, ev := range evs {
			items = append(items, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: items}, nil
	})
}
