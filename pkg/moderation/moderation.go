// Package moderation implements the moderator and CM command set. Commands
// resolve their targets, check or mutate an area or the ban ledger, and then
// trigger side effects through the Registry and Notifier collaborators.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/NicolasHaas/gavel/pkg/area"
	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/rbac"
	"github.com/NicolasHaas/gavel/pkg/target"
)

var (
	ErrNoTargets   = fmt.Errorf("%w: no targets found", model.ErrNotFound)
	ErrBadPassword = fmt.Errorf("%w: invalid password", model.ErrPermissionDenied)
	ErrBanned      = fmt.Errorf("%w: banned", model.ErrPermissionDenied)
	ErrSameArea    = fmt.Errorf("%w: you are already in that area", model.ErrNoChange)
)

// Registry owns the connected sessions. Commands only ever read snapshots;
// every mutation goes through Update.
type Registry interface {
	All() []model.Session
	Get(id model.SessionID) (model.Session, bool)
	// Update applies fn to the live session and reports false if it has
	// disconnected.
	Update(id model.SessionID, fn func(*model.Session)) bool
	// Disconnect sends notice and drops the session. It reports false if the
	// session was already gone.
	Disconnect(id model.SessionID, notice string) bool
	// Relocate moves the session to areaID, subject to the destination's
	// admission rules.
	Relocate(id model.SessionID, areaID int) error
}

// ActionLog receives an entry for every moderation action.
type ActionLog interface {
	LogAction(ctx context.Context, action model.Action) error
}

// Notifier delivers text to clients. Delivery is fire-and-forget.
type Notifier interface {
	SendOOC(id model.SessionID, text string)
	BroadcastArea(areaID int, text string)
	BroadcastAll(text string)
	// AreaChanged asks for the area's lock state and evidence to be pushed to
	// its occupants.
	AreaChanged(areaID int)
}

// Observer counts actions, e.g. for metrics.
type Observer interface {
	Observe(action string)
}

// BatchResult summarizes a command applied to several targets.
type BatchResult struct {
	Requested int // target arguments given
	Matched   int // sessions the arguments resolved to
	Failed    int // matched sessions the command could not be applied to
}

func (r BatchResult) String() string {
	return fmt.Sprintf("%d requested, %d matched, %d failed", r.Requested, r.Matched, r.Failed)
}

// Dependencies holds the collaborators of a Service.
type Dependencies struct {
	Registry Registry
	Areas    *area.Manager
	Ledger   *ledger.Ledger
	Log      ActionLog
	Notifier Notifier
	Observer Observer
	Profiles []model.ModProfile
}

// Service runs moderation commands.
type Service struct {
	registry Registry
	areas    *area.Manager
	ledger   *ledger.Ledger
	log      ActionLog
	notify   Notifier
	observer Observer
	profiles []model.ModProfile
	targets  *target.Resolver
}

// New creates a Service. Log and Observer may be nil.
func New(deps Dependencies) *Service {
	return &Service{
		registry: deps.Registry,
		areas:    deps.Areas,
		ledger:   deps.Ledger,
		log:      deps.Log,
		notify:   deps.Notifier,
		observer: deps.Observer,
		profiles: deps.Profiles,
		targets:  target.New(target.SourceFunc(deps.Registry.All)),
	}
}

// Targets returns the resolver over the registry.
func (s *Service) Targets() *target.Resolver {
	return s.targets
}

// Ledger returns the ban ledger.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// Audit records a denied command. Other errors are ignored: invalid
// arguments and missing targets are reported to the requester only.
func (s *Service) Audit(ctx context.Context, actor model.Session, command string, err error) {
	if !errors.Is(err, model.ErrPermissionDenied) {
		return
	}
	slog.Warn("command denied", "command", command, "session", actor.ID, "ipid", actor.IPID, "err", err)
	s.observe("denied")
	s.write(ctx, model.NewAction("denied", actor).With("%s: %v", command, err))
}

func (s *Service) record(ctx context.Context, action model.Action) {
	slog.Info("moderation action",
		"action", action.Name,
		"actor", action.ActorID,
		"target", action.TargetID,
		"message", action.Message,
	)
	s.observe(action.Name)
	s.write(ctx, action)
}

func (s *Service) write(ctx context.Context, action model.Action) {
	if s.log == nil {
		return
	}
	if err := s.log.LogAction(ctx, action); err != nil {
		slog.Error("moderation log write failed", "action", action.Name, "err", err)
	}
}

func (s *Service) observe(name string) {
	if s.observer != nil {
		s.observer.Observe(name)
	}
}

// standing is the actor's authority in its current area.
func (s *Service) standing(actor model.Session) model.Standing {
	if actor.IsMod {
		return model.StandingModerator
	}
	a, err := s.areas.Get(actor.AreaID)
	if err != nil {
		return model.StandingPlayer
	}
	return a.Standing(area.ActorOf(actor))
}

func (s *Service) require(actor model.Session, perm model.Permission) error {
	return rbac.Require(s.standing(actor), perm)
}

func (s *Service) areaOf(actor model.Session) (*area.Area, error) {
	a, err := s.areas.Get(actor.AreaID)
	if err != nil {
		return nil, fmt.Errorf("moderation: area of session %d: %w", actor.ID, err)
	}
	return a, nil
}

// occupants returns the sessions currently in areaID.
func (s *Service) occupants(areaID int) []model.Session {
	var out []model.Session
	for _, sess := range s.registry.All() {
		if sess.AreaID == areaID {
			out = append(out, sess)
		}
	}
	return out
}

// bySessionID resolves a single session ID argument anywhere on the server.
func (s *Service) bySessionID(actor model.Session, arg string) (model.Session, error) {
	found, err := s.targets.Resolve(actor, target.ID(arg), false)
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %q is not a session ID", model.ErrInvalidArgument, arg)
	}
	if len(found) == 0 {
		return model.Session{}, fmt.Errorf("%w: no session with ID %s", ErrNoTargets, strings.TrimSpace(arg))
	}
	return found[0], nil
}

// byIPID resolves "*" (everyone else in the area), "!" (everyone else on
// the server) or an IPID.
func (s *Service) byIPID(actor model.Session, arg string) ([]model.Session, error) {
	switch arg {
	case target.WildcardArea:
		return s.targets.AreaOthers(actor, nil), nil
	case target.WildcardServer:
		return s.targets.ServerOthers(actor, nil), nil
	}
	found, err := s.targets.Resolve(actor, target.IPID(arg), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %q does not look like a valid IPID", model.ErrInvalidArgument, arg)
	}
	return found, nil
}

// ParseIPID reads an IPID argument.
func ParseIPID(arg string) (int64, error) {
	ipid, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q does not look like a valid IPID", model.ErrInvalidArgument, arg)
	}
	return ipid, nil
}
