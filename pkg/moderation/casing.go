package moderation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/NicolasHaas/gavel/pkg/area"
	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/testimony"
)

// CM adds the sessions named by ids to the CM roster of the actor's area.
// With no ids the actor nominates itself, which only works while the roster
// is empty.
func (s *Service) CM(ctx context.Context, actor model.Session, ids []string) (BatchResult, error) {
	a, err := s.areaOf(actor)
	if err != nil {
		return BatchResult{}, err
	}
	who := area.ActorOf(actor)
	if len(ids) == 0 {
		res := BatchResult{Requested: 1, Matched: 1}
		if err := a.AddManager(who, actor.ID, true); err != nil {
			return res, err
		}
		s.notify.BroadcastArea(a.ID(), fmt.Sprintf("%s is CM in this area now.", actor.Label()))
		s.record(ctx, model.NewAction("cm", actor))
		return res, nil
	}

	res := BatchResult{Requested: len(ids)}
	var last error
	for _, arg := range ids {
		t, err := s.bySessionID(actor, arg)
		if err != nil {
			last = err
			continue
		}
		res.Matched++
		if err := a.AddManager(who, t.ID, t.AreaID == a.ID()); err != nil {
			res.Failed++
			last = err
			s.notify.SendOOC(actor.ID, fmt.Sprintf("%s: %v", t.Label(), err))
			continue
		}
		s.notify.BroadcastArea(a.ID(), fmt.Sprintf("%s is CM in this area now.", t.Label()))
		s.record(ctx, model.NewAction("cm", actor).Against(t))
	}
	if res.Matched == res.Failed {
		return res, last
	}
	return res, nil
}

// UnCM removes the given session IDs from the roster, or the actor itself
// when ids is empty. IDs of disconnected sessions are accepted.
func (s *Service) UnCM(ctx context.Context, actor model.Session, ids []string) (BatchResult, error) {
	a, err := s.areaOf(actor)
	if err != nil {
		return BatchResult{}, err
	}
	if len(ids) == 0 {
		ids = []string{strconv.Itoa(int(actor.ID))}
	}
	res := BatchResult{Requested: len(ids)}
	var last error
	for _, arg := range ids {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			last = fmt.Errorf("%w: %q is not a session ID", model.ErrInvalidArgument, arg)
			continue
		}
		id := model.SessionID(n)
		res.Matched++
		if err := a.RemoveManager(area.ActorOf(actor), id); err != nil {
			res.Failed++
			last = err
			continue
		}
		act := model.NewAction("uncm", actor)
		if t, ok := s.registry.Get(id); ok {
			act = act.Against(t)
			s.notify.BroadcastArea(a.ID(), fmt.Sprintf("%s is no longer CM in this area.", t.Label()))
		}
		s.record(ctx, act)
	}
	if res.Matched == 0 || res.Matched == res.Failed {
		return res, last
	}
	return res, nil
}

// ClearCM empties the roster of the actor's area.
func (s *Service) ClearCM(ctx context.Context, actor model.Session) error {
	if err := s.require(actor, model.PermClearManagers); err != nil {
		return err
	}
	a, err := s.areaOf(actor)
	if err != nil {
		return err
	}
	if err := a.ClearManagers(area.ActorOf(actor)); err != nil {
		return err
	}
	s.notify.BroadcastArea(a.ID(), "All CMs have been removed from this area.")
	s.record(ctx, model.NewAction("clear_cm", actor))
	return nil
}

// EvidenceMod changes the evidence mode of the actor's area. An empty mode
// only reports the current one.
func (s *Service) EvidenceMod(ctx context.Context, actor model.Session, mode string) (model.EvidenceMode, error) {
	a, err := s.areaOf(actor)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(mode) == "" {
		return a.EvidenceMode(), nil
	}
	if err := s.require(actor, model.PermEvidenceMode); err != nil {
		return 0, err
	}
	m, err := model.ParseEvidenceMode(mode)
	if err != nil {
		return 0, err
	}
	if err := a.SetEvidenceMode(area.ActorOf(actor), m); err != nil {
		return 0, err
	}
	s.notify.AreaChanged(a.ID())
	s.record(ctx, model.NewAction("evidence_mod", actor).With("%s", m))
	return m, nil
}

// EvidenceAdd appends an item to the actor's area and returns its index.
func (s *Service) EvidenceAdd(ctx context.Context, actor model.Session, ev model.Evidence) (int, error) {
	a, err := s.areaOf(actor)
	if err != nil {
		return 0, err
	}
	idx, err := a.AddEvidence(area.ActorOf(actor), ev)
	if err != nil {
		return 0, err
	}
	s.notify.AreaChanged(a.ID())
	s.record(ctx, model.NewAction("evidence_add", actor).With("%s", ev.Name))
	return idx, nil
}

// EvidenceRemove deletes an item by index or name.
func (s *Service) EvidenceRemove(ctx context.Context, actor model.Session, ref string) error {
	a, err := s.areaOf(actor)
	if err != nil {
		return err
	}
	ev, err := a.RemoveEvidence(area.ActorOf(actor), strings.TrimSpace(ref))
	if err != nil {
		return err
	}
	s.notify.AreaChanged(a.ID())
	s.record(ctx, model.NewAction("evidence_remove", actor).With("%s", ev.Name))
	return nil
}

// testimonyOf returns the engine of the actor's area after checking that the
// actor may edit it.
func (s *Service) testimonyOf(actor model.Session) (*area.Area, *testimony.Engine, error) {
	if err := s.require(actor, model.PermTestimony); err != nil {
		return nil, nil, err
	}
	a, err := s.areaOf(actor)
	if err != nil {
		return nil, nil, err
	}
	return a, a.Testimony(), nil
}

// TestimonyStart begins recording a testimony titled title.
func (s *Service) TestimonyStart(ctx context.Context, actor model.Session, title string) error {
	a, e, err := s.testimonyOf(actor)
	if err != nil {
		return err
	}
	if err := e.Start(title); err != nil {
		return err
	}
	s.notify.BroadcastArea(a.ID(), fmt.Sprintf("-- %s --\nTestimony recording started. Every IC message is recorded until /te_end.", e.Title()))
	s.record(ctx, model.NewAction("testimony_start", actor).With("%s", e.Title()))
	return nil
}

// TestimonyEnd stops recording or examining.
func (s *Service) TestimonyEnd(ctx context.Context, actor model.Session) error {
	a, e, err := s.testimonyOf(actor)
	if err != nil {
		return err
	}
	prev, err := e.End()
	if err != nil {
		return err
	}
	switch prev {
	case testimony.Recording:
		s.notify.BroadcastArea(a.ID(), fmt.Sprintf("Testimony recording ended with %d statement(s).", e.Len()))
	case testimony.Examining:
		s.notify.BroadcastArea(a.ID(), "Cross-examination ended.")
	}
	s.record(ctx, model.NewAction("testimony_end", actor).With("%s", prev))
	return nil
}

// TestimonyContinue resumes recording onto the existing transcript.
func (s *Service) TestimonyContinue(ctx context.Context, actor model.Session) error {
	a, e, err := s.testimonyOf(actor)
	if err != nil {
		return err
	}
	if err := e.Continue(); err != nil {
		return err
	}
	s.notify.BroadcastArea(a.ID(), fmt.Sprintf("-- %s --\nTestimony recording resumed.", e.Title()))
	s.record(ctx, model.NewAction("testimony_continue", actor))
	return nil
}

// ExaminationStart begins cross-examination of the recorded transcript.
func (s *Service) ExaminationStart(ctx context.Context, actor model.Session) error {
	a, e, err := s.testimonyOf(actor)
	if err != nil {
		return err
	}
	if err := e.StartExamination(); err != nil {
		return err
	}
	s.notify.BroadcastArea(a.ID(), fmt.Sprintf("-- %s --\nCross-examination started. Use > and < to move, =N to jump.", e.Title()))
	s.record(ctx, model.NewAction("examination_start", actor))
	return nil
}

// TestimonyRemove deletes statement idx.
func (s *Service) TestimonyRemove(ctx context.Context, actor model.Session, idx string) error {
	a, e, err := s.testimonyOf(actor)
	if err != nil {
		return err
	}
	i, err := statementIndex(idx)
	if err != nil {
		return err
	}
	if err := e.Remove(i); err != nil {
		return err
	}
	s.notify.BroadcastArea(a.ID(), fmt.Sprintf("Statement %d was removed.", i))
	s.record(ctx, model.NewAction("testimony_remove", actor).With("%d", i))
	return nil
}

// TestimonyClear drops the whole transcript.
func (s *Service) TestimonyClear(ctx context.Context, actor model.Session) error {
	a, e, err := s.testimonyOf(actor)
	if err != nil {
		return err
	}
	if err := e.Clear(); err != nil {
		return err
	}
	s.notify.BroadcastArea(a.ID(), "The testimony was cleared.")
	s.record(ctx, model.NewAction("testimony_clear", actor))
	return nil
}

// TestimonyAmend replaces the text of statement idx.
func (s *Service) TestimonyAmend(ctx context.Context, actor model.Session, idx, text string) error {
	a, e, err := s.testimonyOf(actor)
	if err != nil {
		return err
	}
	i, err := statementIndex(idx)
	if err != nil {
		return err
	}
	if err := e.Amend(i, text); err != nil {
		return err
	}
	s.notify.BroadcastArea(a.ID(), fmt.Sprintf("Statement %d was amended.", i))
	s.record(ctx, model.NewAction("testimony_amend", actor).With("%d: %s", i, text))
	return nil
}

// TestimonyInsert adds a statement after statement idx and returns the new
// statement's index.
func (s *Service) TestimonyInsert(ctx context.Context, actor model.Session, idx, text string) (int, error) {
	a, e, err := s.testimonyOf(actor)
	if err != nil {
		return 0, err
	}
	after, err := statementIndex(idx)
	if err != nil {
		return 0, err
	}
	at, err := e.Insert(after, text)
	if err != nil {
		return 0, err
	}
	s.notify.BroadcastArea(a.ID(), fmt.Sprintf("A statement was inserted as statement %d.", at))
	s.record(ctx, model.NewAction("testimony_insert", actor).With("%d: %s", at, text))
	return at, nil
}

// Testimony returns the title and numbered statements of the actor's area.
// Anyone may read it.
func (s *Service) Testimony(actor model.Session) (string, []testimony.Entry, error) {
	a, err := s.areaOf(actor)
	if err != nil {
		return "", nil, err
	}
	e := a.Testimony()
	entries := e.Listing()
	if len(entries) == 0 {
		return "", nil, testimony.ErrNoTestimony
	}
	return e.Title(), entries, nil
}

func statementIndex(arg string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a statement number", model.ErrInvalidArgument, arg)
	}
	return i, nil
}
