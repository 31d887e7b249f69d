package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskpulse/internal/domain"
	"taskpulse/internal/engine/auth"
)

func strptr(s string) *string { return &s }

func TestPolicyPrivilegedRoles(t *testing.T) {
	p := auth.NewPolicy()
	assert.True(t, p.IsPrivileged(domain.User{Role: "admin"}))
	assert.True(t, p.IsPrivileged(domain.User{Role: "Manager"}))
	assert.False(t, p.IsPrivileged(domain.User{Role: "user"}))

	custom := auth.NewPolicy("supervisor")
	assert.True(t, custom.IsPrivileged(domain.User{Role: "supervisor"}))
	assert.False(t, custom.IsPrivileged(domain.User{Role: "admin"}))
	assert.True(t, custom.CanDelete(domain.User{Role: "supervisor"}))

	var zero auth.Policy
	assert.True(t, zero.IsPrivileged(domain.User{Role: "admin"}))
}

func TestRestoreTarget(t *testing.T) {
	task := domain.Task{OwnerID: "bob", OriginalOwnerID: strptr("alice"),
		Escalation: &domain.Escalation{EscalatedToID: "bob", EscalatedByID: "carol"}}
	assert.Equal(t, "alice", auth.RestoreTarget(task))

	task.OriginalOwnerID = nil
	assert.Equal(t, "carol", auth.RestoreTarget(task))

	task.Escalation = nil
	assert.Equal(t, "", auth.RestoreTarget(task))
}

func TestEscalateAndRollbackRules(t *testing.T) {
	p := auth.NewPolicy()
	alice := domain.User{ID: "alice"}
	bob := domain.User{ID: "bob"}
	owned := domain.Task{OwnerID: "alice"}
	assert.True(t, p.CanEscalate(alice, owned))
	assert.False(t, p.CanEscalate(bob, owned))

	escalated := domain.Task{OwnerID: "bob", OriginalOwnerID: strptr("alice"),
		Escalation: &domain.Escalation{EscalatedToID: "bob", EscalatedByID: "alice"}, IsEscalated: true}
	assert.True(t, p.CanRollback(alice, escalated))
	assert.False(t, p.CanRollback(bob, escalated))
	assert.False(t, p.CanRollback(alice, domain.Task{OwnerID: "alice"}))
}
