package domain

const (
	StatusInProgress = "in-progress"
	StatusClosed     = "closed"

	DateLayout = "2006-01-02"
)

// Escalation is present only while a task is escalated.
type Escalation struct {
	EscalatedToID string `json:"escalatedToId"`
	EscalatedByID string `json:"escalatedById"`
	EscalatedAt   string `json:"escalatedAt" format:"date-time"`
	Reason        string `json:"reason"`
}

type Task struct {
	ID               string      `json:"id"`
	Description      string      `json:"description"`
	Remarks          string      `json:"remarks"`
	ServiceRequestID *string     `json:"serviceRequestId,omitempty"`
	Status           string      `json:"status" enum:"in-progress,closed"`
	Date             string      `json:"date" format:"date"`
	DepartmentID     string      `json:"departmentId"`
	OwnerID          string      `json:"ownerId"`
	CreatedByID      string      `json:"createdById"`
	OriginalOwnerID  *string     `json:"originalOwnerId,omitempty"`
	Escalation       *Escalation `json:"escalation,omitempty"`
	IsEscalated      bool        `json:"isEscalated"`
	ClosedAt         *string     `json:"closedAt,omitempty" format:"date-time"`
	Tags             []string    `json:"tags"`
	Version          int64       `json:"version"`
	CreatedAt        string      `json:"createdAt" format:"date-time"`
	UpdatedAt        string      `json:"updatedAt" format:"date-time"`
}

// EscalationRecord is one escalate/rollback round trip in a task's history.
type EscalationRecord struct {
	ID             string  `json:"id" db:"id"`
	TaskID         string  `json:"taskId" db:"task_id"`
	FromUserID     string  `json:"fromUserId" db:"from_user_id"`
	ToUserID       string  `json:"toUserId" db:"to_user_id"`
	ByUserID       string  `json:"byUserId" db:"by_user_id"`
	Reason         string  `json:"reason" db:"reason"`
	EscalatedAt    string  `json:"escalatedAt" db:"escalated_at" format:"date-time"`
	RolledBackAt   *string `json:"rolledBackAt,omitempty" db:"rolled_back_at" format:"date-time"`
	RolledBackByID *string `json:"rolledBackById,omitempty" db:"rolled_back_by_id"`
}

type User struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	DepartmentID string `json:"departmentId,omitempty" db:"department_id"`
	Role         string `json:"role" db:"role"`
	CreatedAt    string `json:"createdAt" db:"created_at" format:"date-time"`
}

type Event struct {
	ID       int64  `json:"id" db:"id"`
	TS       string `json:"ts" db:"ts" format:"date-time"`
	Type     string `json:"type" db:"type"`
	EntityID string `json:"entityId" db:"entity_id"`
	ActorID  string `json:"actorId" db:"actor_id"`
	Payload  string `json:"payloadJson" db:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id" db:"id"`
	UserID    string `json:"userId" db:"user_id"`
	Name      string `json:"name,omitempty" db:"name"`
	KeyHash   string `json:"keyHash" db:"key_hash"`
	CreatedAt string `json:"createdAt" db:"created_at" format:"date-time"`
}

// TaskPage is one page of a filtered listing.
type TaskPage struct {
	Items       []Task `json:"items"`
	Total       int    `json:"total"`
	TotalPages  int    `json:"totalPages"`
	CurrentPage int    `json:"currentPage"`
}

// KPISummary aggregates a set of tasks. Rates are percentages rounded to two decimals.
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

// UserKPI is a KPISummary over the tasks a user owns, plus their live escalations.
type UserKPI struct {
	UserID string `json:"userId"`
	KPISummary
	EscalatedToUser int `json:"escalatedToUser"`
	EscalatedByUser int `json:"escalatedByUser"`
}
