package rbac_test

import (
	"errors"
	"testing"

	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/rbac"
)

func TestRequire(t *testing.T) {
	t.Parallel()

	type tcase struct {
		standing model.Standing
		perm     model.Permission
		allowed  bool
	}

	tests := map[string]tcase{
		"player_cannot_lock":        {standing: model.StandingPlayer, perm: model.PermLockArea},
		"manager_locks":             {standing: model.StandingManager, perm: model.PermLockArea, allowed: true},
		"manager_records_testimony": {standing: model.StandingManager, perm: model.PermTestimony, allowed: true},
		"manager_cannot_ban":        {standing: model.StandingManager, perm: model.PermBan},
		"moderator_bans":            {standing: model.StandingModerator, perm: model.PermBan, allowed: true},
		"moderator_area_kicks":      {standing: model.StandingModerator, perm: model.PermAreaKick, allowed: true},
		"unknown_standing":          {standing: model.Standing(9), perm: model.PermInvite},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := rbac.Require(tc.standing, tc.perm)
			if tc.allowed {
				if err != nil {
					t.Fatalf("Require: unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, model.ErrPermissionDenied) {
				t.Fatalf("Require: want ErrPermissionDenied, got %v", err)
			}
		})
	}
}

func TestModeratorHoldsEveryPermission(t *testing.T) {
	t.Parallel()

	for p := model.PermLockArea; p <= model.PermClearManagers; p++ {
		if !rbac.HasPermission(model.StandingModerator, p) {
			t.Errorf("moderator lacks %s", rbac.PermName(p))
		}
		if rbac.PermName(p) == "unknown" {
			t.Errorf("permission %d has no name", p)
		}
	}
}
