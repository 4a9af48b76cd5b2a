package area

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gavel/pkg/model"
)

type recordingListener struct {
	mu      sync.Mutex
	rosters [][]model.SessionID
}

func (l *recordingListener) ManagersChanged(_ *Area, managers []model.SessionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rosters = append(l.rosters, managers)
}

func newTestArea(t *testing.T, mutate func(*model.AreaConfig)) (*Area, *recordingListener) {
	t.Helper()
	cfg := model.AreaConfig{ID: 1, Name: "Courtroom", Abbreviation: "CR", LockingAllowed: true, EvidenceMode: model.EvidenceCM}
	if mutate != nil {
		mutate(&cfg)
	}
	l := &recordingListener{}
	return New(cfg, l), l
}

var mod = Actor{ID: 99, IsMod: true}

func TestUnlockClearsWhitelist(t *testing.T) {
	t.Parallel()

	for _, from := range []func(*Area, Actor) error{(*Area).Lock, (*Area).Spectate} {
		a, _ := newTestArea(t, nil)
		if err := from(a, mod); err != nil {
			t.Fatalf("transition: %v", err)
		}
		for _, id := range []model.SessionID{1, 2, 3} {
			if err := a.Invite(mod, id); err != nil {
				t.Fatalf("Invite(%d): %v", id, err)
			}
		}
		if err := a.Unlock(mod); err != nil {
			t.Fatalf("Unlock: %v", err)
		}
		if got := a.Invites(); len(got) != 0 {
			t.Errorf("Invites after Unlock = %v, want empty", got)
		}
		if err := a.Lock(mod); err != nil {
			t.Fatalf("Lock: %v", err)
		}
		if got := a.Invites(); len(got) != 0 {
			t.Errorf("Invites after Unlock+Lock = %v, want empty", got)
		}
	}
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	player := Actor{ID: 5}

	type tcase struct {
		locking bool
		start   model.LockState
		actor   Actor
		op      func(*Area, Actor) error
		want    model.LockState
		wantErr error
	}

	tcases := map[string]tcase{
		"lock_free":               {locking: true, start: model.LockFree, actor: mod, op: (*Area).Lock, want: model.LockLocked},
		"lock_spectatable":        {locking: true, start: model.LockSpectatable, actor: mod, op: (*Area).Lock, want: model.LockLocked},
		"lock_already":            {locking: true, start: model.LockLocked, actor: mod, op: (*Area).Lock, want: model.LockLocked, wantErr: model.ErrNoChange},
		"lock_disabled":           {locking: false, start: model.LockFree, actor: mod, op: (*Area).Lock, want: model.LockFree, wantErr: ErrLockingDisabled},
		"lock_player":             {locking: true, start: model.LockFree, actor: player, op: (*Area).Lock, want: model.LockFree, wantErr: model.ErrPermissionDenied},
		"spectate_locked":         {locking: true, start: model.LockLocked, actor: mod, op: (*Area).Spectate, want: model.LockSpectatable},
		"spectate_disabled":       {locking: false, start: model.LockFree, actor: mod, op: (*Area).Spectate, want: model.LockFree, wantErr: ErrLockingDisabled},
		"unlock_locked":           {locking: true, start: model.LockLocked, actor: mod, op: (*Area).Unlock, want: model.LockFree},
		"unlock_free":             {locking: true, start: model.LockFree, actor: mod, op: (*Area).Unlock, want: model.LockFree, wantErr: model.ErrNoChange},
		"unlock_player":           {locking: true, start: model.LockLocked, actor: player, op: (*Area).Unlock, want: model.LockLocked, wantErr: ErrNotManager},
		"unlock_locking_disabled": {locking: false, start: model.LockFree, actor: mod, op: (*Area).Unlock, want: model.LockFree, wantErr: model.ErrNoChange},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			a, _ := newTestArea(t, func(c *model.AreaConfig) { c.LockingAllowed = tc.locking })
			a.lock = tc.start
			err := tc.op(a, tc.actor)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := a.LockState(); got != tc.want {
				t.Errorf("LockState = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSelfNomination(t *testing.T) {
	t.Parallel()

	a, l := newTestArea(t, nil)

	if err := a.AddManager(Actor{ID: 1}, 1, true); err != nil {
		t.Fatalf("first self-nomination: %v", err)
	}
	err := a.AddManager(Actor{ID: 2}, 2, true)
	if !errors.Is(err, model.ErrPermissionDenied) {
		t.Fatalf("second self-nomination = %v, want permission denied", err)
	}
	if diff := cmp.Diff([]model.SessionID{1}, a.Managers()); diff != "" {
		t.Errorf("Managers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]model.SessionID{{1}}, l.rosters); diff != "" {
		t.Errorf("roster broadcasts mismatch (-want +got):\n%s", diff)
	}
}

func TestAddManager(t *testing.T) {
	t.Parallel()

	type tcase struct {
		mode     model.EvidenceMode
		existing []model.SessionID
		actor    Actor
		nominee  model.SessionID
		present  bool
		wantErr  error
		want     []model.SessionID
	}

	tcases := map[string]tcase{
		"manager_nominates_present": {mode: model.EvidenceCM, existing: []model.SessionID{1}, actor: Actor{ID: 1}, nominee: 2, present: true, want: []model.SessionID{1, 2}},
		"manager_nominates_absent":  {mode: model.EvidenceCM, existing: []model.SessionID{1}, actor: Actor{ID: 1}, nominee: 2, wantErr: ErrNotPresent, want: []model.SessionID{1}},
		"duplicate":                 {mode: model.EvidenceCM, existing: []model.SessionID{1}, actor: Actor{ID: 1}, nominee: 1, present: true, wantErr: model.ErrNoChange, want: []model.SessionID{1}},
		"player_nominates_other":    {mode: model.EvidenceCM, actor: Actor{ID: 3}, nominee: 4, present: true, wantErr: ErrNominate},
		"mod_nominates_empty":       {mode: model.EvidenceCM, actor: mod, nominee: 4, present: true, want: []model.SessionID{4}},
		"hidden_cm_self":            {mode: model.EvidenceHiddenCM, actor: Actor{ID: 3}, nominee: 3, present: true, want: []model.SessionID{3}},
		"ffa_disallows":             {mode: model.EvidenceFFA, actor: Actor{ID: 3}, nominee: 3, present: true, wantErr: ErrManagersDisabled},
		"ffa_mod_allowed":           {mode: model.EvidenceFFA, actor: mod, nominee: 99, present: true, want: []model.SessionID{99}},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			a, _ := newTestArea(t, func(c *model.AreaConfig) { c.EvidenceMode = tc.mode })
			a.managers = tc.existing
			err := a.AddManager(tc.actor, tc.nominee, tc.present)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, a.Managers()); diff != "" {
				t.Errorf("Managers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRemoveAndClearManagers(t *testing.T) {
	t.Parallel()

	a, l := newTestArea(t, nil)
	a.managers = []model.SessionID{1, 2, 3}

	if err := a.RemoveManager(Actor{ID: 4}, 1); !errors.Is(err, ErrNotManager) {
		t.Fatalf("RemoveManager by player = %v", err)
	}
	if err := a.RemoveManager(Actor{ID: 1}, 2); err != nil {
		t.Fatalf("RemoveManager: %v", err)
	}
	if err := a.RemoveManager(Actor{ID: 1}, 2); !errors.Is(err, ErrNotAManager) {
		t.Fatalf("RemoveManager twice = %v", err)
	}
	if !a.DropManager(3) || a.DropManager(3) {
		t.Fatal("DropManager should report the first removal only")
	}
	if err := a.ClearManagers(Actor{ID: 1}); !errors.Is(err, ErrModOnly) {
		t.Fatalf("ClearManagers by CM = %v", err)
	}
	if err := a.ClearManagers(mod); err != nil {
		t.Fatalf("ClearManagers: %v", err)
	}
	if err := a.ClearManagers(mod); !errors.Is(err, model.ErrNoChange) {
		t.Fatalf("ClearManagers on empty = %v", err)
	}

	want := [][]model.SessionID{{1, 3}, {1}, nil}
	if diff := cmp.Diff(want, l.rosters); diff != "" {
		t.Errorf("roster broadcasts mismatch (-want +got):\n%s", diff)
	}
}

func TestInvites(t *testing.T) {
	t.Parallel()

	a, _ := newTestArea(t, nil)
	if err := a.Invite(mod, 7); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("Invite while free = %v", err)
	}
	if err := a.Uninvite(mod, 7); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("Uninvite while free = %v", err)
	}
	if err := a.Lock(mod); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := a.Invite(Actor{ID: 3}, 7); !errors.Is(err, ErrNotManager) {
		t.Fatalf("Invite by player = %v", err)
	}
	if err := a.Invite(mod, 7); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := a.Uninvite(mod, 8); err != nil {
		t.Fatalf("Uninvite never invited: %v", err)
	}
	if !a.IsInvited(7) {
		t.Fatal("7 should be invited")
	}
	a.Evict(7)
	if a.IsInvited(7) {
		t.Fatal("Evict should purge the invite")
	}
}

func TestAdmit(t *testing.T) {
	t.Parallel()

	type tcase struct {
		lock          model.LockState
		session       model.Session
		occupants     int
		invited       bool
		manager       bool
		wantSpectator bool
		wantErr       error
	}

	player := model.Session{ID: 5, AreaID: 0}
	tcases := map[string]tcase{
		"free":                {lock: model.LockFree, session: player},
		"locked_player":       {lock: model.LockLocked, session: player, wantErr: ErrAreaLocked},
		"locked_invitee":      {lock: model.LockLocked, session: player, invited: true},
		"locked_manager":      {lock: model.LockLocked, session: player, manager: true},
		"locked_mod":          {lock: model.LockLocked, session: model.Session{ID: 6, IsMod: true}},
		"spectatable_player":  {lock: model.LockSpectatable, session: player, wantSpectator: true},
		"spectatable_invitee": {lock: model.LockSpectatable, session: player, invited: true},
		"full":                {lock: model.LockFree, session: player, occupants: 2, wantErr: ErrAreaFull},
		"full_mod":            {lock: model.LockFree, session: model.Session{ID: 6, IsMod: true}, occupants: 2},
		"cursed_elsewhere":    {lock: model.LockFree, session: model.Session{ID: 5, Curse: &model.Curse{AreaID: 3}}, wantErr: ErrCursed},
		"cursed_here":         {lock: model.LockLocked, session: model.Session{ID: 5, Curse: &model.Curse{AreaID: 1}}, invited: true},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			a, _ := newTestArea(t, func(c *model.AreaConfig) { c.MaxPlayers = 2 })
			a.lock = tc.lock
			if tc.invited {
				a.invites[tc.session.ID] = struct{}{}
			}
			if tc.manager {
				a.managers = []model.SessionID{tc.session.ID}
			}
			got, err := a.Admit(tc.session, tc.occupants)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Admit err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Admit: %v", err)
			}
			if got.Spectator != tc.wantSpectator {
				t.Errorf("Spectator = %t, want %t", got.Spectator, tc.wantSpectator)
			}
		})
	}
}

func TestAdmitDuringUnlock(t *testing.T) {
	t.Parallel()

	// An invitee is admitted both before (LOCKED, invited) and after
	// (FREE) an unlock, never rejected in between.
	for range 50 {
		a, _ := newTestArea(t, nil)
		if err := a.Lock(mod); err != nil {
			t.Fatalf("Lock: %v", err)
		}
		if err := a.Invite(mod, 5); err != nil {
			t.Fatalf("Invite: %v", err)
		}
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := a.Admit(model.Session{ID: 5}, 0)
				errs <- err
			}()
		}
		if err := a.Unlock(mod); err != nil {
			t.Fatalf("Unlock: %v", err)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("Admit during unlock: %v", err)
			}
		}
	}
}

func TestEvidenceVisibility(t *testing.T) {
	t.Parallel()

	a, _ := newTestArea(t, func(c *model.AreaConfig) { c.EvidenceMode = model.EvidenceHiddenCM })
	a.managers = []model.SessionID{1}
	cm := Actor{ID: 1}

	for _, ev := range []model.Evidence{{Name: "Knife", Pos: "def"}, {Name: "Photo"}, {Name: "Letter", Pos: "pro"}} {
		if _, err := a.AddEvidence(cm, ev); err != nil {
			t.Fatalf("AddEvidence(%s): %v", ev.Name, err)
		}
	}
	if _, err := a.AddEvidence(Actor{ID: 2}, model.Evidence{Name: "Forged"}); !errors.Is(err, ErrNotManager) {
		t.Fatalf("AddEvidence by player = %v", err)
	}

	names := func(evs []model.Evidence) []string {
		out := []string{}
		for _, ev := range evs {
			out = append(out, ev.Name)
		}
		return out
	}

	if diff := cmp.Diff([]string{"Knife", "Photo"}, names(a.VisibleEvidence(model.Session{ID: 2, Pos: "def"}))); diff != "" {
		t.Errorf("defense view mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Knife", "Photo", "Letter"}, names(a.VisibleEvidence(model.Session{ID: 1, Pos: "jud"}))); diff != "" {
		t.Errorf("CM view mismatch (-want +got):\n%s", diff)
	}

	if err := a.SetEvidenceMode(cm, model.EvidenceFFA); !errors.Is(err, ErrModOnly) {
		t.Fatalf("SetEvidenceMode by CM = %v", err)
	}
	if err := a.SetEvidenceMode(mod, model.EvidenceFFA); err != nil {
		t.Fatalf("SetEvidenceMode: %v", err)
	}
	for _, ev := range a.Evidence() {
		if ev.Pos != EvidencePosAll {
			t.Errorf("%s pos = %q after leaving HiddenCM", ev.Name, ev.Pos)
		}
	}

	removed, err := a.RemoveEvidence(Actor{ID: 2}, "photo")
	if err != nil {
		t.Fatalf("RemoveEvidence by name: %v", err)
	}
	if removed.Name != "Photo" {
		t.Errorf("removed %q, want Photo", removed.Name)
	}
	if _, err := a.RemoveEvidence(Actor{ID: 2}, "5"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("RemoveEvidence out of range = %v", err)
	}
}

func TestManagerFind(t *testing.T) {
	t.Parallel()

	m, err := NewManager([]model.AreaConfig{
		{ID: 0, Name: "Lobby", Abbreviation: "LOB"},
		{ID: 3, Name: "Basement", Abbreviation: "BSM"},
	}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for query, want := range map[string]int{"3": 3, "lobby": 0, "BSM": 3, " 0 ": 0} {
		a, err := m.Find(query)
		if err != nil {
			t.Fatalf("Find(%q): %v", query, err)
		}
		if a.ID() != want {
			t.Errorf("Find(%q) = %d, want %d", query, a.ID(), want)
		}
	}
	if _, err := m.Find("bsm"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Find(bsm) = %v, want not found", err)
	}
	if m.Default().ID() != 0 {
		t.Errorf("Default = %d, want 0", m.Default().ID())
	}

	if _, err := NewManager([]model.AreaConfig{{ID: 1, Name: "A"}, {ID: 1, Name: "B"}}, nil); err == nil {
		t.Error("duplicate IDs accepted")
	}
}
