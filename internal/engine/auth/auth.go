// Package auth models the caller of an engine operation. The engine never
// looks the caller up itself: every operation receives a Principal.
package auth

import (
	"errors"
	"fmt"
	"sort"
)

const (
	RoleIntake     = "intake"
	RoleInspector  = "inspector"
	RoleL2         = "l2"
	RoleTechnician = "technician"
	RoleStores     = "stores"
	RoleQC         = "qc"
	RoleManager    = "manager"
	RoleDispatch   = "dispatch"
	RoleAdmin      = "admin"
)

const (
	PermDeviceIntake    = "device.intake"
	PermDeviceInspect   = "device.inspect"
	PermRepairCoord     = "repair.coordinate"
	PermWorkPerform     = "work.perform"
	PermSparesIssue     = "spares.issue"
	PermQCSubmit        = "qc.submit"
	PermBatchManage     = "batch.manage"
	PermBatchVerify     = "batch.verify"
	PermBatchOverride   = "batch.override"
	PermStockOut        = "stock.out"
	PermDeviceScrap     = "device.scrap"
	PermRackManage      = "rack.manage"
	PermAPIKeyManage    = "apikey.manage"
	PermReportsView     = "reports.view"
	PermInventoryManage = "inventory.manage"
)

// RolePermissions is the fixed grant table of the refurbishment floor.
var RolePermissions = map[string][]string{
	RoleIntake:     {PermDeviceIntake, PermBatchManage, PermBatchVerify, PermReportsView},
	RoleInspector:  {PermDeviceInspect},
	RoleL2:         {PermRepairCoord, PermWorkPerform},
	RoleTechnician: {PermWorkPerform},
	RoleStores:     {PermSparesIssue, PermInventoryManage},
	RoleQC:         {PermQCSubmit},
	RoleDispatch:   {PermStockOut, PermReportsView},
	RoleManager: {
		PermBatchManage, PermBatchVerify, PermBatchOverride, PermDeviceScrap,
		PermRackManage, PermReportsView, PermInventoryManage,
	},
}

// ErrUnauthenticated is returned when no actor is attached to a call.
var ErrUnauthenticated = errors.New("authentication required")

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Principal is the authenticated caller. Permissions granted directly (for
// example through a token claim) add to those implied by Roles.
type Principal struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasRole reports role membership; admin holds every role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// Can reports whether the principal holds perm.
func (p Principal) Can(perm string) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	for _, role := range p.Roles {
		if role == RoleAdmin {
			return true
		}
		for _, granted := range RolePermissions[role] {
			if granted == perm {
				return true
			}
		}
	}
	return false
}

// EffectivePermissions lists every permission the principal holds, sorted.
func (p Principal) EffectivePermissions() []string {
	set := map[string]bool{}
	for _, perm := range p.Permissions {
		set[perm] = true
	}
	for _, role := range p.Roles {
		if role == RoleAdmin {
			for _, perms := range RolePermissions {
				for _, perm := range perms {
					set[perm] = true
				}
			}
			set[PermAPIKeyManage] = true
			continue
		}
		for _, perm := range RolePermissions[role] {
			set[perm] = true
		}
	}
	out := make([]string, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// Require fails unless the principal is authenticated and holds perm.
func Require(p Principal, perm string) error {
	if p.ActorID == "" {
		return ErrUnauthenticated
	}
	if !p.Can(perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}
