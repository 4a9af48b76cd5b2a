package moderation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/target"
)

// Flag is a per-session character restriction toggled by moderators.
type Flag int

const (
	FlagBlind Flag = iota
	FlagHide
	FlagDisemvowel
	FlagShake
)

var flagInfo = map[Flag]struct {
	name string
	perm model.Permission
	set  func(*model.Session, bool)
	on   string
	off  string
}{
	FlagBlind: {
		name: "blind",
		perm: model.PermBlind,
		set:  func(s *model.Session, v bool) { s.Blinded = v },
		on:   "You have been blinded.",
		off:  "You can see again.",
	},
	FlagHide: {
		name: "hide",
		perm: model.PermBlind,
		set:  func(s *model.Session, v bool) { s.Hidden = v },
		on:   "You are now hidden from the area.",
		off:  "You are no longer hidden.",
	},
	FlagDisemvowel: {
		name: "disemvowel",
		perm: model.PermFun,
		set:  func(s *model.Session, v bool) { s.Disemvowel = v },
	},
	FlagShake: {
		name: "shake",
		perm: model.PermFun,
		set:  func(s *model.Session, v bool) { s.Shaken = v },
	},
}

func (f Flag) String() string {
	if info, ok := flagInfo[f]; ok {
		return info.name
	}
	return "unknown"
}

// SetFlag turns f on or off for the sessions with the given IDs.
func (s *Service) SetFlag(ctx context.Context, actor model.Session, f Flag, ids []string, on bool) (BatchResult, error) {
	info, ok := flagInfo[f]
	if !ok {
		return BatchResult{}, fmt.Errorf("%w: unknown flag %d", model.ErrInvalidArgument, f)
	}
	res := BatchResult{Requested: len(ids)}
	if err := s.require(actor, info.perm); err != nil {
		return res, err
	}
	if len(ids) == 0 {
		return res, fmt.Errorf("%w: name at least one session ID", model.ErrInvalidArgument)
	}
	var targets []model.Session
	for _, arg := range ids {
		t, err := s.bySessionID(actor, arg)
		if err != nil {
			s.notify.SendOOC(actor.ID, err.Error())
			continue
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return res, ErrNoTargets
	}
	name, notice := info.name, info.on
	if !on {
		name, notice = "un"+info.name, info.off
	}
	return s.apply(ctx, actor, name, targets, res, func(x *model.Session) { info.set(x, on) }, notice)
}

// Positions lists the courtroom positions accepted by ForcePos.
var Positions = []string{"def", "pro", "hld", "hlp", "jud", "wit", "jur", "sea"}

// ForcePos moves targets in the actor's area to pos. arg is "*" for the
// whole area, or a single target by character name, session ID or OOC name.
func (s *Service) ForcePos(ctx context.Context, actor model.Session, pos, arg string) (BatchResult, error) {
	res := BatchResult{Requested: 1}
	if err := s.require(actor, model.PermForcePos); err != nil {
		return res, err
	}
	pos = strings.ToLower(strings.TrimSpace(pos))
	if !slices.Contains(Positions, pos) {
		return res, fmt.Errorf("%w: position must be one of %s", model.ErrInvalidArgument, strings.Join(Positions, ", "))
	}
	var targets []model.Session
	switch strings.TrimSpace(arg) {
	case "":
		return res, fmt.Errorf("%w: name a target", model.ErrInvalidArgument)
	case target.WildcardArea:
		targets = s.occupants(actor.AreaID)
	default:
		targets = s.targets.First(actor, true, target.CharName(arg), target.ID(arg), target.OOCName(arg))
	}
	if len(targets) == 0 {
		return res, fmt.Errorf("%w: no one in this area matches %q", ErrNoTargets, arg)
	}
	return s.apply(ctx, actor, "forcepos", targets, res, func(x *model.Session) { x.Pos = pos },
		fmt.Sprintf("Your position was forced to %s.", pos))
}
