package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/NicolasHaas/gavel/pkg/crypto"
	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/moderation"
	"github.com/NicolasHaas/gavel/pkg/protocol"
	pb "github.com/NicolasHaas/gavel/pkg/protocol/pb"
)

// Error codes sent in ErrorResponse.
const (
	codeBadHandshake = 1
	codeBadName      = 2
	codeInternal     = 3
	codeBanned       = 4
	codeRefused      = 5
)

// acceptLoop accepts control connections until ctx is done.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	slog.Info("control plane listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "err", err)
			continue
		}
		go s.handleControlConn(ctx, conn)
	}
}

// handleControlConn handles a single control connection lifecycle.
func (s *Server) handleControlConn(ctx context.Context, nc net.Conn) {
	conn := protocol.NewConn(nc, s.cfg.WriteTimeout)
	defer func() { _ = conn.Close() }()

	remoteAddr := conn.RemoteAddr()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new control connection", "remote", remoteAddr)

	// First message must be Hello
	msg, err := conn.Receive(s.cfg.HelloTimeout)
	if err != nil {
		slog.Debug("hello read failed", "remote", remoteAddr, "err", err)
		return
	}
	if msg.Hello == nil {
		sendError(conn, codeBadHandshake, "first message must be hello")
		return
	}
	hello := msg.Hello
	name := sanitizeText(hello.Name)
	if err := model.ValidateName(name); err != nil {
		sendError(conn, codeBadName, "invalid name: "+err.Error())
		return
	}

	ipid, err := crypto.IPID(remoteAddr)
	if err != nil {
		sendError(conn, codeInternal, "internal error")
		slog.Error("ipid derivation failed", "remote", remoteAddr, "err", err)
		return
	}

	curse, err := s.mod.Screen(ctx, ipid, hello.HDID)
	if errors.Is(err, moderation.ErrBanned) {
		s.metrics.RejectedBanned.Add(1)
		slog.Info("banned client refused", "ipid", ipid, "hdid", hello.HDID)
		sendError(conn, codeBanned, strings.TrimPrefix(err.Error(), model.ErrPermissionDenied.Error()+": "))
		return
	}
	if err != nil {
		sendError(conn, codeInternal, "internal error")
		slog.Error("ban screen failed", "ipid", ipid, "err", err)
		return
	}

	areaID := s.areas.Default().ID()
	if curse != nil {
		areaID = curse.AreaID
	}
	session, err := s.sessions.Create(model.Session{
		IPID:  ipid,
		HDID:  hello.HDID,
		Name:  name,
		Curse: curse,
	}, areaID, conn)
	if err != nil {
		sendError(conn, codeRefused, err.Error())
		return
	}
	sessionID := session.ID

	defer func() {
		left, ok := s.sessions.Remove(sessionID)
		s.metrics.TotalDisconnects.Add(1)
		slog.Info("client disconnected", "name", name, "session", sessionID)
		if ok && !left.Hidden {
			s.BroadcastArea(left.AreaID, fmt.Sprintf("%s disconnected.", left.Label()))
		}
	}()

	a, err := s.areas.Get(areaID)
	if err != nil {
		return
	}
	welcome := &pb.ControlMessage{
		Welcome: &pb.Welcome{
			SessionID: int32(sessionID), //nolint:gosec // session IDs are small
			Areas:     s.areaInfos(),
			Area:      *areaState(a, session),
			Motd:      s.cfg.Motd,
		},
	}
	if err := conn.Send(welcome); err != nil {
		slog.Error("welcome write failed", "err", err)
		return
	}

	slog.Info("client connected", "name", name, "ipid", ipid, "session", sessionID, "area", a.Name())
	if curse != nil {
		s.SendOOC(sessionID, fmt.Sprintf("You are cursed to %s.", a.Name()))
	}
	s.broadcastArea(areaID, notice(fmt.Sprintf("%s joined.", session.Label())), sessionID)

	// Message loop
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := conn.Receive(0)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("read error", "session", sessionID, "err", err)
			return
		}
		s.handleMessage(ctx, sessionID, msg)
	}
}

// handleMessage dispatches a control message to the appropriate handler.
func (s *Server) handleMessage(ctx context.Context, id model.SessionID, msg *pb.ControlMessage) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return
	}
	switch {
	case msg.Command != nil:
		s.dispatch(ctx, sess, msg.Command.Text)

	case msg.OOC != nil:
		s.handleOOC(ctx, sess, msg.OOC)

	case msg.IC != nil:
		s.handleIC(ctx, sess, msg.IC)

	case msg.Character != nil:
		s.handleCharacter(sess, msg.Character)

	case msg.Ping != nil:
		s.sessions.Send(id, &pb.ControlMessage{
			Pong: &pb.Pong{Timestamp: msg.Ping.Timestamp},
		})
	}
}

// handleOOC relays out-of-character chat to the sender's area. Text starting
// with "/" is a command.
func (s *Server) handleOOC(ctx context.Context, sess model.Session, m *pb.OOCMessage) {
	text := sanitizeText(m.Text)
	if strings.HasPrefix(text, "/") {
		s.dispatch(ctx, sess, text)
		return
	}
	if sess.OOCMuted {
		s.SendOOC(sess.ID, "You are muted from OOC.")
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if utf8.RuneCountInString(text) > model.MessageMaxBodyLength {
		s.SendOOC(sess.ID, model.ErrMessageBodyTooLong.Error())
		return
	}
	s.metrics.OOCMessages.Add(1)
	s.broadcastArea(sess.AreaID, &pb.ControlMessage{
		OOCEvent: &pb.OOCMessage{
			SenderID:   int32(sess.ID), //nolint:gosec // session IDs are small
			SenderName: sess.Name,
			Text:       text,
		},
	}, model.NoSession)
}

// handleCharacter updates the sender's character, showname and position.
func (s *Server) handleCharacter(sess model.Session, c *pb.Character) {
	charName := sanitizeText(c.CharName)
	if charName != "" {
		if err := model.ValidateName(charName); err != nil {
			s.SendOOC(sess.ID, "invalid character name: "+err.Error())
			return
		}
	}
	s.sessions.Update(sess.ID, func(x *model.Session) {
		x.CharName = charName
		x.Showname = sanitizeText(c.Showname)
		x.Pos = strings.ToLower(strings.TrimSpace(c.Pos))
	})
	// Evidence visibility depends on position in HiddenCM areas.
	if updated, ok := s.sessions.Get(sess.ID); ok {
		if a, err := s.areas.Get(updated.AreaID); err == nil {
			s.sessions.Send(sess.ID, &pb.ControlMessage{AreaState: areaState(a, updated)})
		}
	}
}

func sendError(conn *protocol.Conn, code int32, message string) {
	_ = conn.Send(&pb.ControlMessage{
		Error: &pb.ErrorResponse{Code: code, Message: message},
	})
}

// sanitizeText strips control characters from user-supplied text. Newlines
// collapse to spaces.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
