// Package rbac provides standing-based access control checks.
package rbac

import (
	"fmt"

	"github.com/NicolasHaas/gavel/pkg/model"
)

var managerPermissions = map[model.Permission]bool{
	model.PermLockArea:  true,
	model.PermInvite:    true,
	model.PermAreaKick:  true,
	model.PermForcePos:  true,
	model.PermTestimony: true,
}

// permissionMatrix maps standings to their allowed permissions.
var permissionMatrix = map[model.Standing]map[model.Permission]bool{
	model.StandingModerator: {
		model.PermLockArea:      true,
		model.PermInvite:        true,
		model.PermAreaKick:      true,
		model.PermForcePos:      true,
		model.PermTestimony:     true,
		model.PermKick:          true,
		model.PermBan:           true,
		model.PermUnban:         true,
		model.PermCurse:         true,
		model.PermMute:          true,
		model.PermBlind:         true,
		model.PermFun:           true,
		model.PermInspect:       true,
		model.PermEvidenceMode:  true,
		model.PermClearManagers: true,
	},
	model.StandingManager: managerPermissions,
	model.StandingPlayer:  {},
}

// HasPermission checks if a standing grants a specific permission.
func HasPermission(standing model.Standing, perm model.Permission) bool {
	perms, ok := permissionMatrix[standing]
	if !ok {
		return false
	}
	return perms[perm]
}

// Require returns a model.ErrPermissionDenied error if standing lacks perm.
func Require(standing model.Standing, perm model.Permission) error {
	if HasPermission(standing, perm) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s", model.ErrPermissionDenied, PermName(perm), minimum(perm))
}

func minimum(perm model.Permission) string {
	if managerPermissions[perm] {
		return "CM or moderator standing"
	}
	return "moderator standing"
}

// PermName returns the permission's log name.
func PermName(p model.Permission) string {
	switch p {
	case model.PermLockArea:
		return "lock_area"
	case model.PermInvite:
		return "invite"
	case model.PermAreaKick:
		return "area_kick"
	case model.PermForcePos:
		return "forcepos"
	case model.PermTestimony:
		return "testimony"
	case model.PermKick:
		return "kick"
	case model.PermBan:
		return "ban"
	case model.PermUnban:
		return "unban"
	case model.PermCurse:
		return "area_curse"
	case model.PermMute:
		return "mute"
	case model.PermBlind:
		return "blind"
	case model.PermFun:
		return "fun"
	case model.PermInspect:
		return "inspect"
	case model.PermEvidenceMode:
		return "evidence_mod"
	case model.PermClearManagers:
		return "clear_cm"
	default:
		return "unknown"
	}
}
