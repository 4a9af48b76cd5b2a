package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/NicolasHaas/gavel/pkg/area"
	"github.com/NicolasHaas/gavel/pkg/model"
	pb "github.com/NicolasHaas/gavel/pkg/protocol/pb"
)

func notice(text string) *pb.ControlMessage {
	return &pb.ControlMessage{Notice: &pb.Notice{Text: text}}
}

// SendOOC sends server text to one session.
func (s *Server) SendOOC(id model.SessionID, text string) {
	s.sessions.Send(id, notice(text))
}

// BroadcastArea sends server text to everyone in areaID.
func (s *Server) BroadcastArea(areaID int, text string) {
	s.broadcastArea(areaID, notice(text), model.NoSession)
}

// BroadcastAll sends server text to every session.
func (s *Server) BroadcastAll(text string) {
	msg := notice(text)
	for _, sess := range s.sessions.All() {
		s.sessions.Send(sess.ID, msg)
	}
}

// broadcastArea sends msg to the occupants of areaID except exclude.
func (s *Server) broadcastArea(areaID int, msg *pb.ControlMessage, exclude model.SessionID) {
	for _, sess := range s.sessions.InArea(areaID) {
		if sess.ID == exclude {
			continue
		}
		s.sessions.Send(sess.ID, msg)
	}
}

// AreaChanged pushes the area's state to each occupant. Evidence is filtered
// per viewer.
func (s *Server) AreaChanged(areaID int) {
	a, err := s.areas.Get(areaID)
	if err != nil {
		slog.Error("area changed: unknown area", "area", areaID, "err", err)
		return
	}
	for _, sess := range s.sessions.InArea(areaID) {
		s.sessions.Send(sess.ID, &pb.ControlMessage{AreaState: areaState(a, sess)})
	}
}

// ManagersChanged announces the CM roster of a.
func (s *Server) ManagersChanged(a *area.Area, managers []model.SessionID) {
	if len(managers) == 0 {
		s.BroadcastArea(a.ID(), "There are no CMs in this area.")
	} else {
		names := make([]string, 0, len(managers))
		for _, id := range managers {
			if sess, ok := s.sessions.Get(id); ok {
				names = append(names, fmt.Sprintf("[%d] %s", id, sess.Label()))
			} else {
				names = append(names, fmt.Sprintf("[%d] (away)", id))
			}
		}
		s.BroadcastArea(a.ID(), "CMs: "+strings.Join(names, ", "))
	}
	s.AreaChanged(a.ID())
}

// onMoved runs after a session changed area.
func (s *Server) onMoved(sess model.Session, from int) {
	a, err := s.areas.Get(sess.AreaID)
	if err != nil {
		return
	}
	s.sessions.Send(sess.ID, &pb.ControlMessage{AreaState: areaState(a, sess)})
	if !sess.Hidden {
		s.broadcastArea(from, notice(fmt.Sprintf("%s left the area.", sess.Label())), sess.ID)
		s.broadcastArea(a.ID(), notice(fmt.Sprintf("%s entered the area.", sess.Label())), sess.ID)
	}
	slog.Debug("session moved", "session", sess.ID, "from", from, "to", sess.AreaID)
}

func areaState(a *area.Area, viewer model.Session) *pb.AreaState {
	managers := a.Managers()
	ids := make([]int32, len(managers))
	for i, id := range managers {
		ids[i] = int32(id) //nolint:gosec // session IDs are small
	}
	evidence := a.VisibleEvidence(viewer)
	items := make([]pb.EvidenceInfo, len(evidence))
	for i, ev := range evidence {
		items[i] = pb.EvidenceInfo{
			Name:        ev.Name,
			Description: ev.Description,
			Image:       ev.Image,
			Pos:         ev.Pos,
		}
	}
	return &pb.AreaState{
		ID:           a.ID(),
		Name:         a.Name(),
		Background:   a.Background(),
		LockState:    a.LockState().String(),
		EvidenceMode: a.EvidenceMode().String(),
		Managers:     ids,
		Evidence:     items,
		Spectator:    viewer.Spectator,
	}
}

// areaInfos lists every area with its player count.
func (s *Server) areaInfos() []pb.AreaInfo {
	all := s.areas.All()
	out := make([]pb.AreaInfo, len(all))
	for i, a := range all {
		out[i] = pb.AreaInfo{
			ID:           a.ID(),
			Name:         a.Name(),
			Abbreviation: a.Abbreviation(),
			Players:      s.sessions.CountIn(a.ID()),
			LockState:    a.LockState().String(),
		}
	}
	return out
}
