package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/NicolasHaas/gavel/pkg/area"
	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/target"
)

// Move takes the actor to the area named by query.
func (s *Service) Move(ctx context.Context, actor model.Session, query string) error {
	dest, err := s.areas.Find(query)
	if err != nil {
		return err
	}
	if dest.ID() == actor.AreaID {
		return ErrSameArea
	}
	return s.registry.Relocate(actor.ID, dest.ID())
}

// Lock moves the actor's area to LOCKED and whitelists everyone inside.
func (s *Service) Lock(ctx context.Context, actor model.Session) error {
	return s.transition(ctx, actor, "area_lock", (*area.Area).Lock, "Area is now locked.")
}

// Spectate moves the actor's area to SPECTATABLE and whitelists everyone
// inside.
func (s *Service) Spectate(ctx context.Context, actor model.Session) error {
	return s.transition(ctx, actor, "area_spectate", (*area.Area).Spectate, "Area is now spectatable.")
}

// Unlock moves the actor's area to FREE.
func (s *Service) Unlock(ctx context.Context, actor model.Session) error {
	return s.transition(ctx, actor, "area_unlock", (*area.Area).Unlock, "Area is now unlocked.")
}

func (s *Service) transition(ctx context.Context, actor model.Session, name string, fn func(*area.Area, area.Actor) error, notice string) error {
	a, err := s.areaOf(actor)
	if err != nil {
		return err
	}
	who := area.ActorOf(actor)
	if err := fn(a, who); err != nil {
		return err
	}
	if a.LockState() != model.LockFree {
		for _, occ := range s.occupants(a.ID()) {
			_ = a.Invite(who, occ.ID)
		}
	}
	s.notify.BroadcastArea(a.ID(), notice)
	s.notify.AreaChanged(a.ID())
	s.record(ctx, model.NewAction(name, actor))
	return nil
}

// Invite whitelists the session with ID arg in the actor's area.
func (s *Service) Invite(ctx context.Context, actor model.Session, arg string) error {
	a, err := s.areaOf(actor)
	if err != nil {
		return err
	}
	t, err := s.bySessionID(actor, arg)
	if err != nil {
		return err
	}
	if err := a.Invite(area.ActorOf(actor), t.ID); err != nil {
		return err
	}
	s.notify.SendOOC(actor.ID, fmt.Sprintf("%s is invited to your area.", t.Label()))
	s.notify.SendOOC(t.ID, fmt.Sprintf("You were invited to %s by %s.", a.Name(), actor.Label()))
	s.record(ctx, model.NewAction("invite", actor).Against(t))
	return nil
}

// Uninvite removes the session with ID arg from the whitelist and, unless it
// holds standing there, sends it back to the default area.
func (s *Service) Uninvite(ctx context.Context, actor model.Session, arg string) error {
	a, err := s.areaOf(actor)
	if err != nil {
		return err
	}
	t, err := s.bySessionID(actor, arg)
	if err != nil {
		return err
	}
	if err := a.Uninvite(area.ActorOf(actor), t.ID); err != nil {
		return err
	}
	s.notify.SendOOC(actor.ID, fmt.Sprintf("You have removed %s from the whitelist.", t.Label()))
	s.notify.SendOOC(t.ID, fmt.Sprintf("You were removed from the %s whitelist.", a.Name()))
	if t.AreaID == a.ID() && !a.Standing(area.ActorOf(t)).AtLeast(model.StandingManager) {
		if def := s.areas.Default(); def.ID() != a.ID() {
			_ = s.registry.Relocate(t.ID, def.ID())
		}
	}
	s.record(ctx, model.NewAction("uninvite", actor).Against(t))
	return nil
}

// InviteList returns the connected sessions on the whitelist of the actor's
// area.
func (s *Service) InviteList(actor model.Session) ([]model.Session, error) {
	if err := s.require(actor, model.PermInvite); err != nil {
		return nil, err
	}
	a, err := s.areaOf(actor)
	if err != nil {
		return nil, err
	}
	var out []model.Session
	for _, id := range a.Invites() {
		if sess, ok := s.registry.Get(id); ok {
			out = append(out, sess)
		}
	}
	return out, nil
}

// AreaKick moves sessions out of the actor's area. arg is "*" (everyone
// except CMs and moderators), "!" (everyone), "afk", or a single target by
// character name, session ID or OOC name. Only moderators may pick the
// destination; CMs always send targets to the default area, and only out of
// a locked or spectatable area.
func (s *Service) AreaKick(ctx context.Context, actor model.Session, arg, destQuery string) (BatchResult, error) {
	res := BatchResult{Requested: 1}
	if err := s.require(actor, model.PermAreaKick); err != nil {
		return res, err
	}
	a, err := s.areaOf(actor)
	if err != nil {
		return res, err
	}
	if !actor.IsMod && a.LockState() == model.LockFree {
		return res, area.ErrNotLocked
	}
	dest := s.areas.Default()
	if actor.IsMod && strings.TrimSpace(destQuery) != "" {
		if dest, err = s.areas.Find(destQuery); err != nil {
			return res, err
		}
	}

	var targets []model.Session
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "":
		return res, fmt.Errorf("%w: name a target", model.ErrInvalidArgument)
	case target.WildcardArea:
		targets = s.targets.AreaOthers(actor, func(x model.Session) bool {
			return x.IsMod || a.IsManager(x.ID)
		})
	case target.WildcardServer:
		targets = s.targets.AreaOthers(actor, nil)
	case target.KeywordAFK:
		afk, _ := s.targets.Resolve(actor, target.Predicate{Kind: target.ByAFK}, true)
		for _, x := range afk {
			if x.ID != actor.ID {
				targets = append(targets, x)
			}
		}
	default:
		targets = s.targets.First(actor, true, target.CharName(arg), target.ID(arg), target.OOCName(arg))
	}
	if len(targets) == 0 {
		return res, fmt.Errorf("%w: no one in this area matches %q", ErrNoTargets, arg)
	}

	res.Matched = len(targets)
	for _, t := range targets {
		if t.AreaID == dest.ID() {
			res.Failed++
			continue
		}
		invited := a.IsInvited(t.ID)
		a.Evict(t.ID)
		if err := s.registry.Relocate(t.ID, dest.ID()); err != nil {
			if invited {
				_ = a.Invite(area.ActorOf(actor), t.ID)
			}
			res.Failed++
			s.notify.SendOOC(actor.ID, fmt.Sprintf("Could not move %s: %v", t.Label(), err))
			continue
		}
		s.notify.SendOOC(t.ID, fmt.Sprintf("You were kicked from the area to %s.", dest.Name()))
		s.record(ctx, model.NewAction("area_kick", actor).Against(t).With("to area %d", dest.ID()))
	}
	s.notify.SendOOC(actor.ID, fmt.Sprintf("Moved %d client(s) to %s.", res.Matched-res.Failed, dest.Name()))
	return res, nil
}

// Knock announces the actor at the door of a closed area.
func (s *Service) Knock(ctx context.Context, actor model.Session, query string) error {
	dest, err := s.areas.Find(query)
	if err != nil {
		return err
	}
	if dest.ID() != actor.AreaID && dest.LockState() == model.LockFree {
		return fmt.Errorf("%w: %s is open, just walk in", area.ErrNotLocked, dest.Name())
	}
	s.notify.BroadcastArea(dest.ID(), fmt.Sprintf("[Knock] %s knocked on the door.", actor.Label()))
	if dest.ID() != actor.AreaID {
		s.notify.SendOOC(actor.ID, fmt.Sprintf("You knocked on the door of %s.", dest.Name()))
	}
	return nil
}

// AFK returns the AFK sessions in the actor's area, or on the whole server.
func (s *Service) AFK(actor model.Session, all bool) ([]model.Session, error) {
	found, err := s.targets.Resolve(actor, target.Predicate{Kind: target.ByAFK}, !all)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: no one is AFK", ErrNoTargets)
	}
	return found, nil
}

// GoAFK flags the actor as away until its next IC message.
func (s *Service) GoAFK(ctx context.Context, actor model.Session) error {
	if actor.AFK {
		return fmt.Errorf("%w: you are already AFK", model.ErrNoChange)
	}
	s.registry.Update(actor.ID, func(x *model.Session) { x.AFK = true })
	s.notify.BroadcastArea(actor.AreaID, fmt.Sprintf("%s is now AFK.", actor.Label()))
	return nil
}
