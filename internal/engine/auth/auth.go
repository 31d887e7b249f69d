// Package auth decides what a user may do to a task. It knows nothing about
// transports; callers resolve the acting user first.
package auth

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"taskpulse/internal/domain"
)

// DefaultPrivilegedRoles may assign dates, delete tasks and see the privileged channel.
var DefaultPrivilegedRoles = []string{"admin", "manager"}

// Policy maps roles to privileges.
type Policy struct {
	privileged mapset.Set[string]
}

func NewPolicy(privilegedRoles ...string) Policy {
	if len(privilegedRoles) == 0 {
		privilegedRoles = DefaultPrivilegedRoles
	}
	set := mapset.NewSet[string]()
	for _, r := range privilegedRoles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			set.Add(r)
		}
	}
	return Policy{privileged: set}
}

func (p Policy) IsPrivileged(u domain.User) bool {
	if p.privileged == nil {
		return NewPolicy().IsPrivileged(u)
	}
	return p.privileged.Contains(strings.ToLower(u.Role))
}

// CanEscalate reports whether u currently holds the task.
func (p Policy) CanEscalate(u domain.User, t domain.Task) bool {
	return u.ID != "" && u.ID == t.OwnerID
}

// RestoreTarget is the owner a rollback returns the task to: the first
// pre-escalation owner, or the escalator for rows that predate it.
func RestoreTarget(t domain.Task) string {
	if t.OriginalOwnerID != nil && *t.OriginalOwnerID != "" {
		return *t.OriginalOwnerID
	}
	if t.Escalation != nil {
		return t.Escalation.EscalatedByID
	}
	return ""
}

func (p Policy) CanRollback(u domain.User, t domain.Task) bool {
	target := RestoreTarget(t)
	return target != "" && u.ID == target
}

func (p Policy) CanDelete(u domain.User) bool {
	return p.IsPrivileged(u)
}

// CanSetDate reports whether u may record a task on a day other than today.
func (p Policy) CanSetDate(u domain.User) bool {
	return p.IsPrivileged(u)
}
