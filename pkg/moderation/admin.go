package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/NicolasHaas/gavel/pkg/crypto"
	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/target"
)

// BansShown is how many records /bans lists.
const BansShown = 5

// Login grants moderator standing when password matches a profile.
func (s *Service) Login(ctx context.Context, actor model.Session, password string) error {
	if actor.IsMod {
		return fmt.Errorf("%w: already logged in", model.ErrNoChange)
	}
	for _, p := range s.profiles {
		if !crypto.VerifyPassword(password, p.Salt, p.PasswordHash) {
			continue
		}
		if !s.registry.Update(actor.ID, func(x *model.Session) {
			x.IsMod = true
			x.ModProfile = p.Name
		}) {
			return fmt.Errorf("%w: session %d disconnected", model.ErrNotFound, actor.ID)
		}
		s.notify.SendOOC(actor.ID, "Logged in as a moderator.")
		actor.ModProfile = p.Name
		s.record(ctx, model.NewAction("login", actor).With("profile %s", p.Name))
		return nil
	}
	return ErrBadPassword
}

// Unmod drops moderator standing.
func (s *Service) Unmod(ctx context.Context, actor model.Session) error {
	if !actor.IsMod {
		return fmt.Errorf("%w: you are not logged in", model.ErrNoChange)
	}
	s.registry.Update(actor.ID, func(x *model.Session) {
		x.IsMod = false
		x.ModProfile = ""
	})
	s.notify.SendOOC(actor.ID, "You're not a mod now.")
	s.record(ctx, model.NewAction("logout", actor))
	return nil
}

// Kick disconnects everyone arg resolves to: "*" is the rest of the area,
// "!" the rest of the server, anything else an IPID.
func (s *Service) Kick(ctx context.Context, actor model.Session, arg, reason string) (BatchResult, error) {
	res := BatchResult{Requested: 1}
	if err := s.require(actor, model.PermKick); err != nil {
		return res, err
	}
	targets, err := s.byIPID(actor, arg)
	if err != nil {
		return res, err
	}
	if len(targets) == 0 {
		return res, fmt.Errorf("%w: no targets with the IPID %s", ErrNoTargets, arg)
	}
	res.Matched = len(targets)
	for _, t := range targets {
		if !s.registry.Disconnect(t.ID, "You were kicked: "+reason) {
			res.Failed++
			continue
		}
		s.notify.BroadcastArea(t.AreaID, fmt.Sprintf("%s was kicked.", t.Label()))
		s.record(ctx, model.NewAction("kick", actor).Against(t).With("%s", reason))
	}
	s.notify.SendOOC(actor.ID, fmt.Sprintf("Kicked %d client(s).", res.Matched-res.Failed))
	return res, nil
}

// Kms disconnects the actor's other clients.
func (s *Service) Kms(ctx context.Context, actor model.Session) (BatchResult, error) {
	var res BatchResult
	for _, t := range s.targets.Multiclients(actor.IPID, actor.HDID) {
		if t.ID == actor.ID {
			continue
		}
		res.Matched++
		if !s.registry.Disconnect(t.ID, "You were kicked off the server: duplicate client.") {
			res.Failed++
			continue
		}
		s.record(ctx, model.NewAction("kms", actor).Against(t))
	}
	s.notify.SendOOC(actor.ID, fmt.Sprintf("Kicked %d client(s).", res.Matched-res.Failed))
	return res, nil
}

// BanOrder is a /ban or /banhdid request.
type BanOrder struct {
	IPID          int64
	Reason        string
	Duration      time.Duration // zero for the default, ledger.Permanent
	ExistingBanID int64         // append IPID to this ban instead of creating one
	WithHDID      bool          // also ban the HDIDs of connected targets
}

// Ban records a ban on order.IPID and disconnects every client holding it.
// It returns the ban ID.
func (s *Service) Ban(ctx context.Context, actor model.Session, order BanOrder) (int64, BatchResult, error) {
	res := BatchResult{Requested: 1}
	if err := s.require(actor, model.PermBan); err != nil {
		return 0, res, err
	}
	id, err := s.ledger.Ban(ctx, ledger.BanRequest{
		IPIDs:         []int64{order.IPID},
		Reason:        order.Reason,
		Issuer:        actor,
		Duration:      order.Duration,
		ExistingBanID: order.ExistingBanID,
	})
	if err != nil {
		return 0, res, err
	}

	targets, _ := s.targets.Resolve(actor, target.IPID(fmt.Sprint(order.IPID)), false)
	res.Matched = len(targets)
	for _, t := range targets {
		if order.WithHDID && t.HDID != "" {
			if _, err := s.ledger.Ban(ctx, ledger.BanRequest{HDIDs: []string{t.HDID}, Issuer: actor, ExistingBanID: id}); err != nil {
				return id, res, err
			}
		}
		if !s.registry.Disconnect(t.ID, BanNotice(order.Reason, id)) {
			res.Failed++
			continue
		}
		s.notify.BroadcastArea(t.AreaID, fmt.Sprintf("%s was banned.", t.Label()))
	}

	name := "ban"
	if order.WithHDID {
		name = "banhdid"
	}
	action := model.NewAction(name, actor).With("ban %d: %s", id, order.Reason)
	action.TargetIP = order.IPID
	s.record(ctx, action)

	if res.Matched > 0 {
		s.notify.SendOOC(actor.ID, fmt.Sprintf("%d client(s) were kicked.", res.Matched-res.Failed))
	}
	s.notify.SendOOC(actor.ID, fmt.Sprintf("%d was banned. Ban ID: %d", order.IPID, id))
	return id, res, nil
}

// BanNotice is the text a banned client receives.
func BanNotice(reason string, id int64) string {
	if reason == "" {
		return fmt.Sprintf("You were banned. Ban ID: %d", id)
	}
	return fmt.Sprintf("You were banned: %s. Ban ID: %d", reason, id)
}

// Unban lifts every ban in ids. Lifting a curse frees the sessions it
// confined without disconnecting them.
func (s *Service) Unban(ctx context.Context, actor model.Session, ids []int64) (BatchResult, error) {
	res := BatchResult{Requested: len(ids), Matched: len(ids)}
	if err := s.require(actor, model.PermUnban); err != nil {
		return res, err
	}
	if len(ids) == 0 {
		return res, fmt.Errorf("%w: name at least one ban ID", model.ErrInvalidArgument)
	}
	var last error
	for _, id := range ids {
		ban, err := s.ledger.Unban(ctx, id)
		switch {
		case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrNoChange):
			res.Failed++
			last = err
			s.notify.SendOOC(actor.ID, fmt.Sprintf("Ban ID %d: %v", id, err))
			continue
		case err != nil:
			return res, err
		}
		if _, ok := ban.Curse(); ok {
			s.uncurse(id)
		}
		action := model.NewAction("unban", actor).With("ban %d", id)
		if len(ban.IPIDs) > 0 {
			action.TargetIP = ban.IPIDs[0]
		}
		s.record(ctx, action)
		s.notify.SendOOC(actor.ID, fmt.Sprintf("Removed ban ID %d.", id))
	}
	if res.Failed == len(ids) {
		return res, last
	}
	return res, nil
}

func (s *Service) uncurse(banID int64) {
	for _, sess := range s.registry.All() {
		if sess.Curse == nil || sess.Curse.BanID != banID {
			continue
		}
		if s.registry.Update(sess.ID, func(x *model.Session) { x.Curse = nil }) {
			s.notify.SendOOC(sess.ID, "You were uncursed.")
		}
	}
}

// Bans returns the most recent bans, newest first.
func (s *Service) Bans(ctx context.Context, actor model.Session) ([]model.Ban, error) {
	if err := s.require(actor, model.PermInspect); err != nil {
		return nil, err
	}
	return s.ledger.Recent(ctx, BansShown)
}

// BanInfo returns every ban matching value under lookup.
func (s *Service) BanInfo(ctx context.Context, actor model.Session, value string, lookup model.BanLookup) ([]model.Ban, error) {
	if err := s.require(actor, model.PermInspect); err != nil {
		return nil, err
	}
	bans, err := s.ledger.History(ctx, lookup, value)
	if err != nil {
		return nil, err
	}
	if len(bans) == 0 {
		return nil, fmt.Errorf("%w: no ban found for %s %s", model.ErrNotFound, lookup, value)
	}
	return bans, nil
}

// Mute sets or clears the IC mute of every IPID in args. "*" mutes everyone
// in the area who isn't a moderator.
func (s *Service) Mute(ctx context.Context, actor model.Session, args []string, muted bool) (BatchResult, error) {
	res := BatchResult{Requested: len(args)}
	if err := s.require(actor, model.PermMute); err != nil {
		return res, err
	}
	if len(args) == 0 {
		return res, fmt.Errorf("%w: name at least one IPID", model.ErrInvalidArgument)
	}
	var targets []model.Session
	if args[0] == target.WildcardArea {
		targets = s.targets.AreaOthers(actor, func(x model.Session) bool { return x.IsMod })
	} else {
		for _, arg := range args {
			found, err := s.targets.Resolve(actor, target.IPID(arg), false)
			if err != nil {
				s.notify.SendOOC(actor.ID, fmt.Sprintf("%s does not look like a valid IPID.", arg))
				continue
			}
			targets = append(targets, found...)
		}
	}
	if len(targets) == 0 {
		return res, ErrNoTargets
	}
	name, notice := "unmute", "You were unmuted by a moderator."
	if muted {
		name, notice = "mute", "You were muted by a moderator."
	}
	return s.apply(ctx, actor, name, targets, res, func(x *model.Session) { x.Muted = muted }, notice)
}

// OOCMute sets or clears the OOC mute of sessions matching query: "*" for
// the area, "!" for the server, otherwise an OOC name fragment.
func (s *Service) OOCMute(ctx context.Context, actor model.Session, query string, muted bool) (BatchResult, error) {
	res := BatchResult{Requested: 1}
	if err := s.require(actor, model.PermMute); err != nil {
		return res, err
	}
	isMod := func(x model.Session) bool { return x.IsMod }
	var targets []model.Session
	switch query {
	case "":
		return res, fmt.Errorf("%w: name a target", model.ErrInvalidArgument)
	case target.WildcardArea:
		targets = s.targets.AreaOthers(actor, isMod)
	case target.WildcardServer:
		targets = s.targets.ServerOthers(actor, isMod)
	default:
		targets, _ = s.targets.Resolve(actor, target.OOCName(query), false)
	}
	if len(targets) == 0 {
		return res, fmt.Errorf("%w: no one is named %q", ErrNoTargets, query)
	}
	name, verb := "ooc_unmute", "unmuted"
	if muted {
		name, verb = "ooc_mute", "muted"
	}
	res, err := s.apply(ctx, actor, name, targets, res, func(x *model.Session) { x.OOCMuted = muted }, "")
	switch query {
	case target.WildcardArea:
		s.notify.BroadcastArea(actor.AreaID, "Area has been OOC "+verb+".")
	case target.WildcardServer:
		s.notify.BroadcastAll("Server has been OOC " + verb + ".")
	}
	return res, err
}

// apply updates every target with fn, skipping sessions that disconnected.
func (s *Service) apply(ctx context.Context, actor model.Session, name string, targets []model.Session, res BatchResult, fn func(*model.Session), notice string) (BatchResult, error) {
	res.Matched = len(targets)
	for _, t := range targets {
		if !s.registry.Update(t.ID, fn) {
			res.Failed++
			continue
		}
		if notice != "" {
			s.notify.SendOOC(t.ID, notice)
		}
		s.record(ctx, model.NewAction(name, actor).Against(t))
	}
	s.notify.SendOOC(actor.ID, fmt.Sprintf("%s: %d target(s).", name, res.Matched-res.Failed))
	return res, nil
}

// CurseOrder is an /area_curse request.
type CurseOrder struct {
	IPID     int64
	Area     string // ID, name or abbreviation
	Reason   string
	Duration time.Duration
}

// AreaCurse confines order.IPID to one area. Connected sessions are moved
// there at once. A failed move is reported to the actor but does not undo
// the curse, which still keeps the session from entering any other area.
func (s *Service) AreaCurse(ctx context.Context, actor model.Session, order CurseOrder) (int64, BatchResult, error) {
	res := BatchResult{Requested: 1}
	if err := s.require(actor, model.PermCurse); err != nil {
		return 0, res, err
	}
	dest, err := s.areas.Find(order.Area)
	if err != nil {
		return 0, res, err
	}
	id, err := s.ledger.Ban(ctx, ledger.BanRequest{
		IPIDs:     []int64{order.IPID},
		Reason:    order.Reason,
		Issuer:    actor,
		Duration:  order.Duration,
		Extension: model.AreaCurse{TargetArea: dest.ID()},
	})
	if err != nil {
		return 0, res, err
	}

	targets, _ := s.targets.Resolve(actor, target.IPID(fmt.Sprint(order.IPID)), false)
	res.Matched = len(targets)
	curse := model.Curse{AreaID: dest.ID(), BanID: id}
	for _, t := range targets {
		if !s.registry.Update(t.ID, func(x *model.Session) {
			c := curse
			x.Curse = &c
		}) {
			res.Failed++
			continue
		}
		if t.AreaID != dest.ID() {
			if err := s.registry.Relocate(t.ID, dest.ID()); err != nil {
				slog.Warn("cursed session not moved", "session", t.ID, "area", dest.ID(), "ban_id", id, "err", err)
				s.notify.SendOOC(actor.ID, fmt.Sprintf("Could not move %s to %s: %v", t.Label(), dest.Name(), err))
			}
		}
		s.notify.SendOOC(t.ID, fmt.Sprintf("You were cursed to %s.", dest.Name()))
	}

	action := model.NewAction("area_curse", actor).With("ban %d to area %d: %s", id, dest.ID(), order.Reason)
	action.TargetIP = order.IPID
	s.record(ctx, action)
	s.notify.SendOOC(actor.ID, fmt.Sprintf("%d was cursed to %s. Ban ID: %d", order.IPID, dest.Name(), id))
	return id, res, nil
}

// Multiclients returns every session sharing an IPID or HDID with arg's
// clients. An empty arg means the actor's own IPID.
func (s *Service) Multiclients(actor model.Session, arg string) ([]model.Session, error) {
	if err := s.require(actor, model.PermInspect); err != nil {
		return nil, err
	}
	ipid := actor.IPID
	if strings.TrimSpace(arg) != "" {
		var err error
		if ipid, err = ParseIPID(arg); err != nil {
			return nil, err
		}
	}
	seen := make(map[model.SessionID]model.Session)
	for _, sess := range s.targets.Multiclients(ipid, "") {
		for _, m := range s.targets.Multiclients(sess.IPID, sess.HDID) {
			seen[m.ID] = m
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: no clients with IPID %d", ErrNoTargets, ipid)
	}
	out := make([]model.Session, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Whois returns sessions matching query by IPID or any name.
func (s *Service) Whois(actor model.Session, query string) ([]model.Session, error) {
	if err := s.require(actor, model.PermInspect); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: name someone to look up", model.ErrInvalidArgument)
	}
	found := s.targets.Whois(query)
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: no one matches %q", ErrNoTargets, query)
	}
	return found, nil
}

// Screen checks a connecting client against the ledger. A plain ban on its
// IPID or HDID rejects it with ErrBanned; an active curse is returned so the
// caller can place the session in the curse area.
func (s *Service) Screen(ctx context.Context, ipid int64, hdid string) (*model.Curse, error) {
	byIPID, err := s.ledger.FindByIPID(ctx, ipid)
	if err != nil {
		return nil, err
	}
	byHDID, err := s.ledger.FindByHDID(ctx, hdid)
	if err != nil {
		return nil, err
	}
	var curse *model.Curse
	for _, ban := range slices.Concat(byIPID, byHDID) {
		c, ok := ban.Curse()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBanned, BanNotice(ban.Reason, ban.ID))
		}
		if curse != nil {
			continue
		}
		if _, err := s.areas.Get(c.TargetArea); err != nil {
			continue
		}
		curse = &model.Curse{AreaID: c.TargetArea, BanID: ban.ID}
	}
	return curse, nil
}
