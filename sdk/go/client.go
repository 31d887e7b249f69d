package taskpulsesdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a minimal taskpulse HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	Timeout     time.Duration

	http *resty.Client
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Escalation struct {
	EscalatedToID string `json:"escalatedToId"`
	EscalatedByID string `json:"escalatedById"`
	EscalatedAt   string `json:"escalatedAt"`
	Reason        string `json:"reason"`
}

// Task represents the API task model.
type Task struct {
	ID               string      `json:"id"`
	Description      string      `json:"description"`
	Remarks          string      `json:"remarks"`
	ServiceRequestID *string     `json:"serviceRequestId,omitempty"`
	Status           string      `json:"status"`
	Date             string      `json:"date"`
	DepartmentID     string      `json:"departmentId"`
	OwnerID          string      `json:"ownerId"`
	CreatedByID      string      `json:"createdById"`
	OriginalOwnerID  *string     `json:"originalOwnerId,omitempty"`
	Escalation       *Escalation `json:"escalation,omitempty"`
	IsEscalated      bool        `json:"isEscalated"`
	ClosedAt         *string     `json:"closedAt,omitempty"`
	Tags             []string    `json:"tags"`
	Version          int64       `json:"version"`
	CreatedAt        string      `json:"createdAt"`
	UpdatedAt        string      `json:"updatedAt"`
}

type TaskPage struct {
	Items       []Task `json:"items"`
	Total       int    `json:"total"`
	TotalPages  int    `json:"totalPages"`
	CurrentPage int    `json:"currentPage"`
}

type CreateTask struct {
	Description      string   `json:"description"`
	Remarks          string   `json:"remarks"`
	ServiceRequestID string   `json:"serviceRequestId,omitempty"`
	Date             string   `json:"date,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// UpdateTask replaces the non-nil fields.
type UpdateTask struct {
	Description      *string   `json:"description,omitempty"`
	Remarks          *string   `json:"remarks,omitempty"`
	ServiceRequestID *string   `json:"serviceRequestId,omitempty"`
	Date             *string   `json:"date,omitempty"`
	Tags             *[]string `json:"tags,omitempty"`
}

// ListOptions filters ListTasks. Zero values are not sent.
type ListOptions struct {
	Status       string
	DepartmentID string
	OwnerID      string
	CreatedByID  string
	IsEscalated  *bool
	Tag          string
	DateFrom     string
	DateTo       string
	Search       string
	Page         int
	PageSize     int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("status", o.Status)
	set("department_id", o.DepartmentID)
	set("owner_id", o.OwnerID)
	set("created_by_id", o.CreatedByID)
	set("tag", o.Tag)
	set("date_from", o.DateFrom)
	set("date_to", o.DateTo)
	set("search", o.Search)
	if o.IsEscalated != nil {
		v.Set("is_escalated", strconv.FormatBool(*o.IsEscalated))
	}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(o.PageSize))
	}
	return v
}

type EscalationRecord struct {
	ID             string  `json:"id"`
	TaskID         string  `json:"taskId"`
	FromUserID     string  `json:"fromUserId"`
	ToUserID       string  `json:"toUserId"`
	ByUserID       string  `json:"byUserId"`
	Reason         string  `json:"reason"`
	EscalatedAt    string  `json:"escalatedAt"`
	RolledBackAt   *string `json:"rolledBackAt,omitempty"`
	RolledBackByID *string `json:"rolledBackById,omitempty"`
}

type KPISummary struct {
	DateFrom       string         `json:"dateFrom,omitempty"`
	DateTo         string         `json:"dateTo,omitempty"`
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"byStatus"`
	Escalated      int            `json:"escalated"`
	ByDepartment   map[string]int `json:"byDepartment"`
	ByOwner        map[string]int `json:"byOwner"`
	CompletionRate float64        `json:"completionRate"`
	EscalationRate float64        `json:"escalationRate"`
}

// Event represents a log entry.
type Event struct {
	ID       int64           `json:"id"`
	TS       string          `json:"ts"`
	Type     string          `json:"type"`
	EntityID string          `json:"entityId"`
	ActorID  string          `json:"actorId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateTask(ctx context.Context, in CreateTask) (Task, error) {
	var resp Task
	err := c.do(ctx, "POST", "tasks", nil, in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, "GET", "tasks/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (TaskPage, error) {
	var resp TaskPage
	err := c.do(ctx, "GET", "tasks", opts.values(), nil, &resp)
	return resp, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, in UpdateTask) (Task, error) {
	var resp Task
	err := c.do(ctx, "PATCH", "tasks/"+url.PathEscape(id), nil, in, &resp)
	return resp, err
}

func (c *Client) SetStatus(ctx context.Context, id, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, "PATCH", "tasks/"+url.PathEscape(id)+"/status", nil, map[string]string{"status": status}, &resp)
	return resp, err
}

// Escalate hands the task to toUserID. Only the current owner may call it.
func (c *Client) Escalate(ctx context.Context, id, toUserID, reason string) (Task, error) {
	var resp Task
	body := map[string]string{"toUserId": toUserID, "reason": reason}
	err := c.do(ctx, "POST", "tasks/"+url.PathEscape(id)+"/escalate", nil, body, &resp)
	return resp, err
}

func (c *Client) Rollback(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, "POST", "tasks/"+url.PathEscape(id)+"/rollback", nil, nil, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "tasks/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) EscalationHistory(ctx context.Context, id string) ([]EscalationRecord, error) {
	var resp []EscalationRecord
	err := c.do(ctx, "GET", "tasks/"+url.PathEscape(id)+"/escalations", nil, nil, &resp)
	return resp, err
}

// EscalatedTo lists the tasks currently escalated to userID.
func (c *Client) EscalatedTo(ctx context.Context, userID string, page, pageSize int) (TaskPage, error) {
	var resp TaskPage
	err := c.do(ctx, "GET", "users/"+url.PathEscape(userID)+"/escalations/received", ListOptions{Page: page, PageSize: pageSize}.values(), nil, &resp)
	return resp, err
}

// EscalatedBy lists the tasks userID escalated that have not been rolled back.
func (c *Client) EscalatedBy(ctx context.Context, userID string, page, pageSize int) (TaskPage, error) {
	var resp TaskPage
	err := c.do(ctx, "GET", "users/"+url.PathEscape(userID)+"/escalations/sent", ListOptions{Page: page, PageSize: pageSize}.values(), nil, &resp)
	return resp, err
}

func (c *Client) KPISummary(ctx context.Context, dateFrom, dateTo, departmentID string) (KPISummary, error) {
	q := url.Values{}
	if dateFrom != "" {
		q.Set("date_from", dateFrom)
	}
	if dateTo != "" {
		q.Set("date_to", dateTo)
	}
	if departmentID != "" {
		q.Set("department_id", departmentID)
	}
	var resp KPISummary
	err := c.do(ctx, "GET", "kpi/summary", q, nil, &resp)
	return resp, err
}

// Events returns up to limit events with id greater than after.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Event
	err := c.do(ctx, "GET", "events", q, nil, &resp)
	return resp, err
}

func (c *Client) client() *resty.Client {
	if c.http == nil {
		c.http = resty.New().
			SetTimeout(c.Timeout).
			SetHeader("Content-Type", "application/json")
	}
	return c.http
}

func (c *Client) do(ctx context.Context, method, endpoint string, q url.Values, body any, out any) error {
	req := c.client().R().SetContext(ctx)
	if q != nil {
		req.SetQueryParamsFromValues(q)
	}
	if body != nil {
		req.SetBody(body)
	}
	switch {
	case c.BearerToken != "":
		req.SetAuthToken(c.BearerToken)
	case c.APIKey != "":
		req.SetHeader("X-Api-Key", c.APIKey)
	}
	resp, err := req.Execute(method, c.url(endpoint))
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(resp.Body(), &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.Unmarshal(resp.Body(), out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	path := "/" + strings.Trim(c.BasePath, "/")
	if path == "/" {
		path = ""
	}
	return base + path + "/" + strings.TrimLeft(endpoint, "/")
}
