package server

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/NicolasHaas/gavel/pkg/model"
	pb "github.com/NicolasHaas/gavel/pkg/protocol/pb"
	"github.com/NicolasHaas/gavel/pkg/testimony"
)

// handleIC runs an in-character message through the area's rules, the
// sender's filters and the testimony engine, then relays it.
func (s *Server) handleIC(_ context.Context, sess model.Session, m *pb.ICMessage) {
	a, err := s.areas.Get(sess.AreaID)
	if err != nil {
		return
	}
	if sess.Muted {
		s.metrics.ICDropped.Add(1)
		s.SendOOC(sess.ID, "You are muted.")
		return
	}
	if !a.CanSpeak(sess) {
		s.metrics.ICDropped.Add(1)
		s.SendOOC(sess.ID, "You are spectating this area.")
		return
	}
	if sess.AFK {
		s.sessions.Update(sess.ID, func(x *model.Session) { x.AFK = false })
		s.BroadcastArea(a.ID(), fmt.Sprintf("%s is no longer AFK.", sess.Label()))
	}

	st := model.Statement{
		Speaker:  sess.CharName,
		Showname: sanitizeText(m.Showname),
		Pos:      sess.Pos,
		Emote:    m.Emote,
		Color:    m.Color,
		Text:     sanitizeText(m.Text),
	}
	if st.Speaker == "" {
		st.Speaker = sanitizeText(m.CharName)
	}
	if st.Showname == "" {
		st.Showname = sess.Showname
	}
	if st.Pos == "" {
		st.Pos = strings.ToLower(m.Pos)
	}

	engine := a.Testimony()
	if engine.Mode() == testimony.Examining {
		step, ok, err := engine.Navigate(st.Text)
		if ok {
			if err != nil {
				s.SendOOC(sess.ID, err.Error())
				return
			}
			s.relayStatement(a.ID(), sess.ID, step.Statement, false)
			if step.Looped {
				s.BroadcastArea(a.ID(), fmt.Sprintf("%s looped.", engine.Title()))
			}
			return
		}
	}

	if sess.Disemvowel {
		st.Text = disemvowel(st.Text)
	}
	shake := false
	if sess.Shaken {
		st.Text = shakeWords(st.Text)
		shake = true
	}
	if err := st.Validate(); err != nil {
		s.metrics.ICDropped.Add(1)
		s.SendOOC(sess.ID, err.Error())
		return
	}

	if engine.Mode() == testimony.Recording {
		idx, err := engine.Record(st)
		if err != nil {
			s.SendOOC(sess.ID, err.Error())
		} else {
			s.metrics.Statements.Add(1)
			slog.Debug("testimony statement recorded", "area", a.ID(), "index", idx)
		}
	}
	s.metrics.ICMessages.Add(1)
	s.relayStatement(a.ID(), sess.ID, st, shake)
}

// relayStatement delivers st to everyone in areaID. Blinded sessions receive
// only their own lines.
func (s *Server) relayStatement(areaID int, sender model.SessionID, st model.Statement, shake bool) {
	msg := &pb.ControlMessage{
		ICEvent: &pb.ICMessage{
			SenderID: int32(sender), //nolint:gosec // session IDs are small
			CharName: st.Speaker,
			Showname: st.Showname,
			Pos:      st.Pos,
			Emote:    st.Emote,
			Color:    st.Color,
			Text:     st.Text,
			Shake:    shake,
		},
	}
	for _, r := range s.sessions.InArea(areaID) {
		if r.Blinded && r.ID != sender {
			continue
		}
		s.sessions.Send(r.ID, msg)
	}
}

func disemvowel(text string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune("aeiouAEIOU", r) {
			return -1
		}
		return r
	}, text)
}

// shakeWords returns text with its words in random order.
func shakeWords(text string) string {
	words := strings.Fields(text)
	rand.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	return strings.Join(words, " ")
}
