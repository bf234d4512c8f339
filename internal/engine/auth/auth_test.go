package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequire(t *testing.T) {
	assert.ErrorIs(t, Require(Principal{Roles: []string{RoleQC}}, PermQCSubmit), ErrUnauthenticated)
	assert.NoError(t, Require(Principal{ActorID: "qc-1", Roles: []string{RoleQC}}, PermQCSubmit))

	err := Require(Principal{ActorID: "tech-1", Roles: []string{RoleTechnician}}, PermSparesIssue)
	var forbidden ForbiddenError
	assert.True(t, errors.As(err, &forbidden))
	assert.Equal(t, PermSparesIssue, forbidden.Permission)
}

func TestAdminAndDirectGrants(t *testing.T) {
	admin := Principal{ActorID: "root", Roles: []string{RoleAdmin}}
	assert.True(t, admin.Can(PermBatchOverride))
	assert.True(t, admin.HasRole(RoleL2))
	assert.Contains(t, admin.EffectivePermissions(), PermAPIKeyManage)

	p := Principal{ActorID: "bot", Permissions: []string{PermReportsView}}
	assert.True(t, p.Can(PermReportsView))
	assert.False(t, p.Can(PermStockOut))
	assert.Equal(t, []string{PermReportsView}, p.EffectivePermissions())
}
