// Package area implements per-room access control: lock state, the CM
// roster, the invite whitelist and the evidence list.
package area

import (
	"fmt"
	"slices"
	"sync"

	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/testimony"
)

var (
	ErrLockingDisabled  = fmt.Errorf("%w: area locking is disabled in this area", model.ErrPermissionDenied)
	ErrNotManager       = fmt.Errorf("%w: only a CM or moderator can do that", model.ErrPermissionDenied)
	ErrModOnly          = fmt.Errorf("%w: only a moderator can do that", model.ErrPermissionDenied)
	ErrManagersDisabled = fmt.Errorf("%w: you can't become a CM in this area", model.ErrPermissionDenied)
	ErrNominate         = fmt.Errorf("%w: you cannot nominate people to be CMs when you are not one", model.ErrPermissionDenied)
	ErrAreaLocked       = fmt.Errorf("%w: that area is locked", model.ErrPermissionDenied)
	ErrAreaFull         = fmt.Errorf("%w: that area is full", model.ErrPermissionDenied)
	ErrCursed           = fmt.Errorf("%w: you are cursed to another area", model.ErrPermissionDenied)
	ErrNotLocked        = fmt.Errorf("%w: area isn't locked", model.ErrInvalidArgument)
	ErrNotPresent       = fmt.Errorf("%w: you can only nominate people to be CMs when they are in the area", model.ErrInvalidArgument)
	ErrAlreadyManager   = fmt.Errorf("%w: already a CM here", model.ErrNoChange)
	ErrNotAManager      = fmt.Errorf("%w: that session is not a CM", model.ErrNoChange)
	ErrEvidenceIndex    = fmt.Errorf("%w: evidence not found", model.ErrNotFound)
)

// Actor identifies whoever requests an area operation.
type Actor struct {
	ID    model.SessionID
	IsMod bool
}

// ActorOf returns the actor for s.
func ActorOf(s model.Session) Actor {
	return Actor{ID: s.ID, IsMod: s.IsMod}
}

// Listener is told about changes other sessions in the area need to see.
type Listener interface {
	// ManagersChanged is called after every roster mutation, outside the
	// area's lock.
	ManagersChanged(a *Area, managers []model.SessionID)
}

// Admission is the outcome of a successful Admit.
type Admission struct {
	Spectator bool
}

// Area is one room. It is safe for concurrent use; each transition happens in
// one critical section.
type Area struct {
	cfg      model.AreaConfig
	listener Listener
	testi    *testimony.Engine

	mu           sync.Mutex
	lock         model.LockState
	managers     []model.SessionID
	invites      map[model.SessionID]struct{}
	evidenceMode model.EvidenceMode
	evidence     []model.Evidence
	background   string
}

// New creates an area from its configuration. listener may be nil.
func New(cfg model.AreaConfig, listener Listener) *Area {
	return &Area{
		cfg:          cfg,
		listener:     listener,
		testi:        testimony.New(),
		invites:      make(map[model.SessionID]struct{}),
		evidenceMode: cfg.EvidenceMode,
		background:   cfg.Background,
	}
}

func (a *Area) ID() int              { return a.cfg.ID }
func (a *Area) Name() string         { return a.cfg.Name }
func (a *Area) Abbreviation() string { return a.cfg.Abbreviation }

// Config returns the static configuration.
func (a *Area) Config() model.AreaConfig { return a.cfg }

// Testimony returns the area's transcript engine.
func (a *Area) Testimony() *testimony.Engine { return a.testi }

// LockState returns the current lock state.
func (a *Area) LockState() model.LockState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lock
}

// Background returns the current background name.
func (a *Area) Background() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.background
}

// Managers returns the CM roster in order of seniority.
func (a *Area) Managers() []model.SessionID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.managers)
}

// IsManager reports whether id is a CM of the area.
func (a *Area) IsManager(id model.SessionID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Contains(a.managers, id)
}

// Invites returns the whitelist sorted by session ID.
func (a *Area) Invites() []model.SessionID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.SessionID, 0, len(a.invites))
	for id := range a.invites {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// IsInvited reports whether id is on the whitelist.
func (a *Area) IsInvited(id model.SessionID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.invites[id]
	return ok
}

// Standing returns the authority actor holds over this area.
func (a *Area) Standing(actor Actor) model.Standing {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.standing(actor)
}

func (a *Area) standing(actor Actor) model.Standing {
	switch {
	case actor.IsMod:
		return model.StandingModerator
	case slices.Contains(a.managers, actor.ID):
		return model.StandingManager
	default:
		return model.StandingPlayer
	}
}

func (a *Area) requireManager(actor Actor) error {
	if !a.standing(actor).AtLeast(model.StandingManager) {
		return ErrNotManager
	}
	return nil
}

// ---- Lock state ----

// Lock moves the area to LOCKED.
func (a *Area) Lock(actor Actor) error {
	return a.transition(actor, model.LockLocked)
}

// Spectate moves the area to SPECTATABLE.
func (a *Area) Spectate(actor Actor) error {
	return a.transition(actor, model.LockSpectatable)
}

// Unlock moves the area to FREE and empties the whitelist.
func (a *Area) Unlock(actor Actor) error {
	return a.transition(actor, model.LockFree)
}

func (a *Area) transition(actor Actor, to model.LockState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if to != model.LockFree && !a.cfg.LockingAllowed {
		return ErrLockingDisabled
	}
	if a.lock == to {
		return fmt.Errorf("%w: area is already %s", model.ErrNoChange, to)
	}
	if err := a.requireManager(actor); err != nil {
		return err
	}
	a.lock = to
	if to == model.LockFree {
		clear(a.invites)
	}
	return nil
}

// ---- Managers ----

// AddManager puts nominee on the CM roster. A session may nominate itself
// only while the roster is empty; otherwise the actor must already be a CM
// or a moderator and the nominee must be in the area.
func (a *Area) AddManager(actor Actor, nominee model.SessionID, nomineePresent bool) error {
	a.mu.Lock()
	if !a.evidenceMode.AllowsManagers() && !actor.IsMod {
		a.mu.Unlock()
		return ErrManagersDisabled
	}
	switch {
	case len(a.managers) == 0 && nominee == actor.ID:
	case len(a.managers) == 0 && !actor.IsMod:
		a.mu.Unlock()
		return ErrNominate
	default:
		if err := a.requireManager(actor); err != nil {
			a.mu.Unlock()
			return err
		}
		if !nomineePresent {
			a.mu.Unlock()
			return ErrNotPresent
		}
	}
	if slices.Contains(a.managers, nominee) {
		a.mu.Unlock()
		return ErrAlreadyManager
	}
	a.managers = append(a.managers, nominee)
	roster := slices.Clone(a.managers)
	a.mu.Unlock()

	a.notify(roster)
	return nil
}

// RemoveManager takes id off the roster.
func (a *Area) RemoveManager(actor Actor, id model.SessionID) error {
	a.mu.Lock()
	if err := a.requireManager(actor); err != nil {
		a.mu.Unlock()
		return err
	}
	i := slices.Index(a.managers, id)
	if i < 0 {
		a.mu.Unlock()
		return ErrNotAManager
	}
	a.managers = slices.Delete(a.managers, i, i+1)
	roster := slices.Clone(a.managers)
	a.mu.Unlock()

	a.notify(roster)
	return nil
}

// ClearManagers empties the roster. Moderators only.
func (a *Area) ClearManagers(actor Actor) error {
	if !actor.IsMod {
		return ErrModOnly
	}
	a.mu.Lock()
	if len(a.managers) == 0 {
		a.mu.Unlock()
		return fmt.Errorf("%w: there are no CMs in this area", model.ErrNoChange)
	}
	a.managers = nil
	a.mu.Unlock()

	a.notify(nil)
	return nil
}

// DropManager removes id from the roster without a permission check, for
// sessions leaving the area or disconnecting. It reports whether id was a CM.
func (a *Area) DropManager(id model.SessionID) bool {
	a.mu.Lock()
	i := slices.Index(a.managers, id)
	if i < 0 {
		a.mu.Unlock()
		return false
	}
	a.managers = slices.Delete(a.managers, i, i+1)
	roster := slices.Clone(a.managers)
	a.mu.Unlock()

	a.notify(roster)
	return true
}

func (a *Area) notify(roster []model.SessionID) {
	if a.listener != nil {
		a.listener.ManagersChanged(a, roster)
	}
}

// ---- Invites and admission ----

// Invite adds id to the whitelist. The area must not be FREE.
func (a *Area) Invite(actor Actor, id model.SessionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireManager(actor); err != nil {
		return err
	}
	if a.lock == model.LockFree {
		return ErrNotLocked
	}
	a.invites[id] = struct{}{}
	return nil
}

// Uninvite removes id from the whitelist. Removing an absent entry is fine.
func (a *Area) Uninvite(actor Actor, id model.SessionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireManager(actor); err != nil {
		return err
	}
	if a.lock == model.LockFree {
		return ErrNotLocked
	}
	delete(a.invites, id)
	return nil
}

// Admit decides whether s may enter. occupants is the number of sessions
// already in the area.
func (a *Area) Admit(s model.Session, occupants int) (Admission, error) {
	if s.Curse != nil && s.Curse.AreaID != a.cfg.ID {
		return Admission{}, ErrCursed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.MaxPlayers > 0 && occupants >= a.cfg.MaxPlayers && !s.IsMod {
		return Admission{}, ErrAreaFull
	}
	_, invited := a.invites[s.ID]
	privileged := invited || a.standing(ActorOf(s)).AtLeast(model.StandingManager)
	switch a.lock {
	case model.LockLocked:
		if !privileged {
			return Admission{}, ErrAreaLocked
		}
		return Admission{}, nil
	case model.LockSpectatable:
		return Admission{Spectator: !privileged}, nil
	default:
		return Admission{}, nil
	}
}

// CanSpeak reports whether s may talk in character here.
func (a *Area) CanSpeak(s model.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lock != model.LockSpectatable {
		return true
	}
	_, invited := a.invites[s.ID]
	return invited || a.standing(ActorOf(s)).AtLeast(model.StandingManager)
}

// Evict purges id's whitelist entry when the area is not FREE.
func (a *Area) Evict(id model.SessionID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lock != model.LockFree {
		delete(a.invites, id)
	}
}

// Forget removes id from the whitelist whatever the lock state. Call it
// before a disconnected session's ID can be handed out again.
func (a *Area) Forget(id model.SessionID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.invites, id)
}

// Leave is called when id moves out of the area or disconnects.
func (a *Area) Leave(id model.SessionID) {
	a.DropManager(id)
}
