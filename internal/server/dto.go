package server

import (
	"encoding/json"

	"taskpulse/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	Description      string   `json:"description,omitempty"`
	Remarks          string   `json:"remarks,omitempty"`
	ServiceRequestID string   `json:"serviceRequestId,omitempty"`
	Date             string   `json:"date,omitempty" format:"date"`
	Tags             []string `json:"tags,omitempty"`
}

type UpdateTaskRequest struct {
	Description      *string   `json:"description,omitempty"`
	Remarks          *string   `json:"remarks,omitempty"`
	ServiceRequestID *string   `json:"serviceRequestId,omitempty"`
	Date             *string   `json:"date,omitempty" format:"date"`
	Tags             *[]string `json:"tags,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status,omitempty" example:"closed"`
}

type EscalateRequest struct {
	ToUserID string `json:"toUserId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Response payloads

type TaskListResponse struct {
	Items       []domain.Task `json:"items"`
	Total       int           `json:"total"`
	TotalPages  int           `json:"totalPages"`
	CurrentPage int           `json:"currentPage"`
}

func taskListResponse(p domain.TaskPage) TaskListResponse {
	items := p.Items
	if items == nil {
		items = []domain.Task{}
	}
	return TaskListResponse{Items: items, Total: p.Total, TotalPages: p.TotalPages, CurrentPage: p.CurrentPage}
}

type EventResponse struct {
	ID       int64           `json:"id"`
	TS       string          `json:"ts" format:"date-time"`
	Type     string          `json:"type"`
	EntityID string          `json:"entityId"`
	ActorID  string          `json:"actorId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func eventResponse(ev domain.Event) EventResponse {
	resp := EventResponse{
		ID:       ev.ID,
		TS:       ev.TS,
		Type:     ev.Type,
		EntityID: ev.EntityID,
		ActorID:  ev.ActorID,
	}
	if ev.Payload != "" && json.Valid([]byte(ev.Payload)) {
		resp.Payload = json.RawMessage(ev.Payload)
	}
	return resp
}

type MeResponse struct {
	User       domain.User `json:"user"`
	Privileged bool        `json:"privileged"`
	AuthSource string      `json:"authSource"`
}
