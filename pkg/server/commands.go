package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/dustin/go-humanize"
	"github.com/rodaine/table"

	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/moderation"
)

// command is one slash command. run returns text for the caller; an empty
// string means the moderation layer already replied.
type command struct {
	names []string
	usage string
	run   func(ctx context.Context, actor model.Session, args []string) (string, error)
}

func m(names ...string) []string { return names }

// dispatch parses and runs a slash command for actor.
func (s *Server) dispatch(ctx context.Context, actor model.Session, text string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("command panicked", "session", actor.ID, "text", text, "panic", r)
			s.SendOOC(actor.ID, "An internal error occurred. Please inform the staff of the server about the issue.")
		}
	}()

	parts, err := shellwords.SplitPosix(strings.TrimPrefix(strings.TrimSpace(text), "/"))
	if err != nil {
		s.SendOOC(actor.ID, "Could not parse the command: "+err.Error())
		return
	}
	if len(parts) == 0 {
		return
	}
	name := strings.ToLower(parts[0])
	cmd, ok := s.commands[name]
	if !ok {
		s.SendOOC(actor.ID, fmt.Sprintf("Invalid command /%s. Use /help to list commands.", name))
		return
	}
	s.metrics.Commands.Add(1)
	slog.Debug("command", "session", actor.ID, "command", name, "args", len(parts)-1)

	out, err := cmd.run(ctx, actor, parts[1:])
	if err != nil {
		s.mod.Audit(ctx, actor, name, err)
		s.SendOOC(actor.ID, describeError(name, cmd.usage, err))
		return
	}
	if out != "" {
		s.SendOOC(actor.ID, out)
	}
}

// describeError renders err for the requester by its kind.
func describeError(name, usage string, err error) string {
	switch model.KindOf(err) {
	case model.KindInvalidArgument:
		if usage != "" {
			return fmt.Sprintf("%v\nUsage: /%s %s", err, name, usage)
		}
		return err.Error()
	case model.KindPermissionDenied, model.KindNotFound, model.KindNoChange:
		return err.Error()
	default:
		slog.Error("command failed", "command", name, "err", err)
		return "An internal error occurred. Please inform the staff of the server about the issue."
	}
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrInvalidArgument}, args...)...)
}

func (s *Server) commandTable() map[string]command {
	byName := make(map[string]command)
	for _, c := range concat(s.adminCommands(), s.areaCommands(), s.casingCommands(), s.characterCommands()) {
		for _, n := range c.names {
			byName[n] = c
		}
	}
	help := command{
		names: m("help"),
		run: func(_ context.Context, _ model.Session, _ []string) (string, error) {
			names := make([]string, 0, len(byName))
			for n := range byName {
				names = append(names, "/"+n)
			}
			sort.Strings(names)
			return "Commands: " + strings.Join(names, " "), nil
		},
	}
	byName["help"] = help
	return byName
}

func concat(groups ...[]command) []command {
	var out []command
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func (s *Server) adminCommands() []command {
	return []command{
		{
			names: m("login"),
			usage: "<password>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) == 0 {
					return "", usageError("enter a password")
				}
				return "", s.mod.Login(ctx, actor, strings.Join(args, " "))
			},
		},
		{
			names: m("unmod", "logout"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.Unmod(ctx, actor)
			},
		},
		{
			names: m("kick"),
			usage: "<ipid|*|!> [reason]",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) == 0 {
					return "", usageError("name a target")
				}
				_, err := s.mod.Kick(ctx, actor, args[0], strings.Join(args[1:], " "))
				return "", err
			},
		},
		{
			names: m("kms"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				_, err := s.mod.Kms(ctx, actor)
				return "", err
			},
		},
		{
			names: m("ban"),
			usage: `<ipid> "reason" [duration] | <ipid> <ban_id>`,
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				return s.ban(ctx, actor, args, false)
			},
		},
		{
			names: m("banhdid"),
			usage: `<ipid> "reason" [duration] | <ipid> <ban_id>`,
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				return s.ban(ctx, actor, args, true)
			},
		},
		{
			names: m("unban"),
			usage: "<ban_id...>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				ids := make([]int64, 0, len(args))
				for _, a := range args {
					id, err := strconv.ParseInt(a, 10, 64)
					if err != nil {
						return "", usageError("%q is not a ban ID", a)
					}
					ids = append(ids, id)
				}
				_, err := s.mod.Unban(ctx, actor, ids)
				return "", err
			},
		},
		{
			names: m("bans"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				bans, err := s.mod.Bans(ctx, actor)
				if err != nil {
					return "", err
				}
				if len(bans) == 0 {
					return "No bans on record.", nil
				}
				return "Last bans:\n" + renderBans(bans, s.ledger.Now()), nil
			},
		},
		{
			names: m("baninfo"),
			usage: "<value> [ban_id|ipid|hdid]",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) == 0 || len(args) > 2 {
					return "", usageError("expected a value and an optional lookup type")
				}
				lookup := ""
				if len(args) == 2 {
					lookup = args[1]
				}
				kind, err := model.ParseBanLookup(lookup)
				if err != nil {
					return "", err
				}
				bans, err := s.mod.BanInfo(ctx, actor, args[0], kind)
				if err != nil {
					return "", err
				}
				return renderBans(bans, s.ledger.Now()), nil
			},
		},
		{
			names: m("mute"),
			usage: "<ipid...|*>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				_, err := s.mod.Mute(ctx, actor, args, true)
				return "", err
			},
		},
		{
			names: m("unmute"),
			usage: "<ipid...|*>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				_, err := s.mod.Mute(ctx, actor, args, false)
				return "", err
			},
		},
		{
			names: m("ooc_mute"),
			usage: "<name|*|!>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				_, err := s.mod.OOCMute(ctx, actor, strings.Join(args, " "), true)
				return "", err
			},
		},
		{
			names: m("ooc_unmute"),
			usage: "<name|*|!>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				_, err := s.mod.OOCMute(ctx, actor, strings.Join(args, " "), false)
				return "", err
			},
		},
		{
			names: m("area_curse"),
			usage: `<ipid> <area> "reason" [duration]`,
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) < 3 {
					return "", usageError("not enough arguments")
				}
				ipid, err := moderation.ParseIPID(args[0])
				if err != nil {
					return "", err
				}
				d, err := parseBanDuration(args[3:])
				if err != nil {
					return "", err
				}
				_, _, err = s.mod.AreaCurse(ctx, actor, moderation.CurseOrder{
					IPID:     ipid,
					Area:     args[1],
					Reason:   args[2],
					Duration: d,
				})
				return "", err
			},
		},
		{
			names: m("multiclients"),
			usage: "[ipid]",
			run: func(_ context.Context, actor model.Session, args []string) (string, error) {
				found, err := s.mod.Multiclients(actor, strings.Join(args, " "))
				if err != nil {
					return "", err
				}
				return "Clients:\n" + s.formatSessions(found, true), nil
			},
		},
		{
			names: m("whois"),
			usage: "<ipid|name>",
			run: func(_ context.Context, actor model.Session, args []string) (string, error) {
				found, err := s.mod.Whois(actor, strings.Join(args, " "))
				if err != nil {
					return "", err
				}
				return s.formatSessions(found, true), nil
			},
		},
	}
}

// ban handles /ban and /banhdid. With exactly two arguments and a numeric
// second one, the IPID is appended to that ban.
func (s *Server) ban(ctx context.Context, actor model.Session, args []string, withHDID bool) (string, error) {
	if len(args) < 2 {
		return "", usageError("not enough arguments")
	}
	ipid, err := moderation.ParseIPID(args[0])
	if err != nil {
		return "", err
	}
	order := moderation.BanOrder{IPID: ipid, WithHDID: withHDID}
	if len(args) == 2 {
		if id, err := strconv.ParseInt(args[1], 10, 64); err == nil {
			order.ExistingBanID = id
		}
	}
	if order.ExistingBanID == 0 {
		order.Reason = args[1]
		if order.Duration, err = parseBanDuration(args[2:]); err != nil {
			return "", err
		}
	}
	_, _, err = s.mod.Ban(ctx, actor, order)
	return "", err
}

// parseBanDuration reads the optional trailing duration words. None means
// the ledger default.
func parseBanDuration(words []string) (time.Duration, error) {
	if len(words) == 0 {
		return 0, nil
	}
	return ledger.ParseDuration(strings.Join(words, " "))
}

func (s *Server) areaCommands() []command {
	return []command{
		{
			names: m("area"),
			usage: "[id|name]",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) == 0 {
					return s.listAreas(actor), nil
				}
				query := strings.Join(args, " ")
				if err := s.mod.Move(ctx, actor, query); err != nil {
					return "", err
				}
				if moved, ok := s.sessions.Get(actor.ID); ok {
					if a, err := s.areas.Get(moved.AreaID); err == nil {
						return "Changed area to " + a.Name() + ".", nil
					}
				}
				return "", nil
			},
		},
		{
			names: m("getarea"),
			run: func(_ context.Context, actor model.Session, _ []string) (string, error) {
				return s.listOccupants(actor), nil
			},
		},
		{
			names: m("area_lock", "lock"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.Lock(ctx, actor)
			},
		},
		{
			names: m("area_unlock", "unlock"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.Unlock(ctx, actor)
			},
		},
		{
			names: m("area_spectate", "spectate"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.Spectate(ctx, actor)
			},
		},
		{
			names: m("invite"),
			usage: "<id>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) != 1 {
					return "", usageError("name one session ID")
				}
				return "", s.mod.Invite(ctx, actor, args[0])
			},
		},
		{
			names: m("uninvite"),
			usage: "<id>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) != 1 {
					return "", usageError("name one session ID")
				}
				return "", s.mod.Uninvite(ctx, actor, args[0])
			},
		},
		{
			names: m("invitelist"),
			run: func(_ context.Context, actor model.Session, _ []string) (string, error) {
				invited, err := s.mod.InviteList(actor)
				if err != nil {
					return "", err
				}
				if len(invited) == 0 {
					return "No one is invited to this area.", nil
				}
				return "Invited:\n" + s.formatSessions(invited, actor.IsMod), nil
			},
		},
		{
			names: m("area_kick"),
			usage: "<id|*|!|afk> [area]",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) == 0 || len(args) > 2 {
					return "", usageError("name a target and an optional area")
				}
				dest := ""
				if len(args) == 2 {
					dest = args[1]
				}
				_, err := s.mod.AreaKick(ctx, actor, args[0], dest)
				return "", err
			},
		},
		{
			names: m("knock"),
			usage: "<area>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) == 0 {
					return "", usageError("name an area")
				}
				return "", s.mod.Knock(ctx, actor, strings.Join(args, " "))
			},
		},
		{
			names: m("getafk"),
			usage: "[all]",
			run: func(_ context.Context, actor model.Session, args []string) (string, error) {
				all := len(args) > 0 && strings.EqualFold(args[0], "all")
				afk, err := s.mod.AFK(actor, all)
				if err != nil {
					return "", err
				}
				return "AFK:\n" + s.formatSessions(afk, actor.IsMod), nil
			},
		},
	}
}

func (s *Server) casingCommands() []command {
	return []command{
		{
			names: m("cm"),
			usage: "[id...]",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				_, err := s.mod.CM(ctx, actor, args)
				return "", err
			},
		},
		{
			names: m("uncm"),
			usage: "[id...]",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				_, err := s.mod.UnCM(ctx, actor, args)
				return "", err
			},
		},
		{
			names: m("clear_cm"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.ClearCM(ctx, actor)
			},
		},
		{
			names: m("evidence_mod"),
			usage: "[FFA|Mods|CM|HiddenCM]",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				mode, err := s.mod.EvidenceMod(ctx, actor, strings.Join(args, " "))
				if err != nil {
					return "", err
				}
				if len(args) == 0 {
					return "Current evidence mode: " + mode.String(), nil
				}
				return "Evidence mode set to " + mode.String() + ".", nil
			},
		},
		{
			names: m("evidence_add"),
			usage: `"name" ["description"] [image] [pos]`,
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) == 0 || len(args) > 4 {
					return "", usageError("expected a name and up to three optional fields")
				}
				ev := model.Evidence{Name: args[0]}
				if len(args) > 1 {
					ev.Description = args[1]
				}
				if len(args) > 2 {
					ev.Image = args[2]
				}
				if len(args) > 3 {
					ev.Pos = args[3]
				}
				idx, err := s.mod.EvidenceAdd(ctx, actor, ev)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Added evidence %d: %s.", idx, ev.Name), nil
			},
		},
		{
			names: m("evidence_remove"),
			usage: "<id|name>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) == 0 {
					return "", usageError("name the evidence")
				}
				ref := strings.Join(args, " ")
				if err := s.mod.EvidenceRemove(ctx, actor, ref); err != nil {
					return "", err
				}
				return "Removed evidence " + ref + ".", nil
			},
		},
		{
			names: m("afk"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.GoAFK(ctx, actor)
			},
		},
		{
			names: m("testimony"),
			run: func(_ context.Context, actor model.Session, _ []string) (string, error) {
				title, entries, err := s.mod.Testimony(actor)
				if err != nil {
					return "", err
				}
				var b strings.Builder
				fmt.Fprintf(&b, "-- %s --", title)
				for _, e := range entries {
					fmt.Fprintf(&b, "\n%d: %s: %s", e.Index, e.Statement.Speaker, e.Statement.Text)
				}
				return b.String(), nil
			},
		},
		{
			names: m("testimony_start"),
			usage: `"title"`,
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				return "", s.mod.TestimonyStart(ctx, actor, strings.Join(args, " "))
			},
		},
		{
			names: m("te_end", "testimony_end"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.TestimonyEnd(ctx, actor)
			},
		},
		{
			names: m("testimony_continue"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.TestimonyContinue(ctx, actor)
			},
		},
		{
			names: m("examination_start"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.ExaminationStart(ctx, actor)
			},
		},
		{
			names: m("testimony_remove"),
			usage: "<n>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) != 1 {
					return "", usageError("name one statement")
				}
				return "", s.mod.TestimonyRemove(ctx, actor, args[0])
			},
		},
		{
			names: m("testimony_clear"),
			run: func(ctx context.Context, actor model.Session, _ []string) (string, error) {
				return "", s.mod.TestimonyClear(ctx, actor)
			},
		},
		{
			names: m("testimony_amend"),
			usage: "<n> <text>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) < 2 {
					return "", usageError("name a statement and the new text")
				}
				return "", s.mod.TestimonyAmend(ctx, actor, args[0], strings.Join(args[1:], " "))
			},
		},
		{
			names: m("testimony_insert"),
			usage: "<n> <text>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) < 2 {
					return "", usageError("name a statement and the text to insert after it")
				}
				_, err := s.mod.TestimonyInsert(ctx, actor, args[0], strings.Join(args[1:], " "))
				return "", err
			},
		},
	}
}

func (s *Server) characterCommands() []command {
	flag := func(name string, f moderation.Flag, on bool) command {
		return command{
			names: m(name),
			usage: "<id...>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				_, err := s.mod.SetFlag(ctx, actor, f, args, on)
				return "", err
			},
		}
	}
	return []command{
		flag("blind", moderation.FlagBlind, true),
		flag("unblind", moderation.FlagBlind, false),
		flag("hide", moderation.FlagHide, true),
		flag("unhide", moderation.FlagHide, false),
		flag("disemvowel", moderation.FlagDisemvowel, true),
		flag("undisemvowel", moderation.FlagDisemvowel, false),
		flag("shake", moderation.FlagShake, true),
		flag("unshake", moderation.FlagShake, false),
		{
			names: m("forcepos"),
			usage: "<pos> <target|*>",
			run: func(ctx context.Context, actor model.Session, args []string) (string, error) {
				if len(args) < 2 {
					return "", usageError("name a position and a target")
				}
				_, err := s.mod.ForcePos(ctx, actor, args[0], strings.Join(args[1:], " "))
				return "", err
			},
		},
	}
}

// listAreas renders every area with its player count and lock state.
func (s *Server) listAreas(actor model.Session) string {
	var b strings.Builder
	b.WriteString("Areas:")
	for _, info := range s.areaInfos() {
		marker := ""
		if info.ID == actor.AreaID {
			marker = " [*]"
		}
		fmt.Fprintf(&b, "\n%d: %s (%s) users: %d [%s]%s",
			info.ID, info.Name, info.Abbreviation, info.Players, info.LockState, marker)
	}
	return b.String()
}

// listOccupants renders the actor's area. Hidden sessions are shown to
// moderators only.
func (s *Server) listOccupants(actor model.Session) string {
	var visible []model.Session
	for _, sess := range s.sessions.InArea(actor.AreaID) {
		if sess.Hidden && !actor.IsMod && sess.ID != actor.ID {
			continue
		}
		visible = append(visible, sess)
	}
	return "People in this area:\n" + s.formatSessions(visible, actor.IsMod)
}

// formatSessions lists sessions one per line. Identities are shown to
// moderators only.
func (s *Server) formatSessions(list []model.Session, identities bool) string {
	lines := make([]string, 0, len(list))
	for _, sess := range list {
		line := fmt.Sprintf("[%d] %s (%s)", sess.ID, sess.Label(), sess.Name)
		if sess.AFK {
			line += " [AFK]"
		}
		if identities {
			line += fmt.Sprintf(" ipid=%d hdid=%s area=%d", sess.IPID, sess.HDID, sess.AreaID)
			if sess.IsMod {
				line += " mod=" + sess.ModProfile
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// renderBans formats ban records as a table.
func renderBans(bans []model.Ban, now time.Time) string {
	var buf bytes.Buffer
	t := table.New("ID", "IPIDs", "HDIDs", "Reason", "By", "Banned", "Expires", "Status").WithWriter(&buf)
	for _, b := range bans {
		ipids := make([]string, len(b.IPIDs))
		for i, ipid := range b.IPIDs {
			ipids[i] = strconv.FormatInt(ipid, 10)
		}
		expires := "never"
		if !b.Permanent() {
			expires = humanize.RelTime(b.UnbanAt, now, "ago", "from now")
		}
		t.AddRow(
			b.ID,
			strings.Join(ipids, ","),
			len(b.HDIDs),
			b.Reason,
			b.BannedByName,
			humanize.RelTime(b.BannedAt, now, "ago", "from now"),
			expires,
			banStatus(b, now),
		)
	}
	t.Print()
	return buf.String()
}

func banStatus(b model.Ban, now time.Time) string {
	status := "active"
	switch {
	case b.Unbanned:
		status = "lifted"
	case b.IsExpired(now):
		status = "expired"
	}
	if c, ok := b.Curse(); ok {
		status += fmt.Sprintf(" (curse to area %d)", c.TargetArea)
	}
	return status
}
