package server

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/NicolasHaas/gavel/pkg/area"
	"github.com/NicolasHaas/gavel/pkg/model"
	pb "github.com/NicolasHaas/gavel/pkg/protocol/pb"
)

// Sender delivers control messages to one client.
type Sender interface {
	Send(msg *pb.ControlMessage) error
	Close() error
}

type entry struct {
	sess model.Session
	out  Sender
}

// SessionManager owns the connected sessions. It hands out copies; all
// mutation goes through Update.
type SessionManager struct {
	mu       sync.RWMutex
	areas    *area.Manager
	sessions map[model.SessionID]*entry

	// moved is called outside the lock after a session changed area.
	moved func(s model.Session, from int)
}

// NewSessionManager creates a session manager placing sessions in areas.
func NewSessionManager(areas *area.Manager) *SessionManager {
	return &SessionManager{
		areas:    areas,
		sessions: make(map[model.SessionID]*entry),
	}
}

// Create admits s into areaID under the lowest free session ID and returns
// the stored copy.
func (sm *SessionManager) Create(s model.Session, areaID int, out Sender) (model.Session, error) {
	dest, err := sm.areas.Get(areaID)
	if err != nil {
		return model.Session{}, err
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	id := model.SessionID(0)
	for {
		if _, taken := sm.sessions[id]; !taken {
			break
		}
		id++
	}
	s.ID = id
	adm, err := dest.Admit(s, sm.countLocked(areaID))
	if err != nil {
		return model.Session{}, err
	}
	s.AreaID = areaID
	s.Spectator = adm.Spectator
	sm.sessions[id] = &entry{sess: s.Clone(), out: out}
	return s.Clone(), nil
}

// Get retrieves a copy of a session.
func (sm *SessionManager) Get(id model.SessionID) (model.Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	e, ok := sm.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return e.sess.Clone(), true
}

// All returns copies of all sessions ordered by ID.
func (sm *SessionManager) All() []model.Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]model.Session, 0, len(sm.sessions))
	for _, e := range sm.sessions {
		result = append(result, e.sess.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// InArea returns copies of the sessions in areaID ordered by ID.
func (sm *SessionManager) InArea(areaID int) []model.Session {
	var out []model.Session
	for _, s := range sm.All() {
		if s.AreaID == areaID {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CountIn returns the number of sessions in areaID.
func (sm *SessionManager) CountIn(areaID int) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.countLocked(areaID)
}

func (sm *SessionManager) countLocked(areaID int) int {
	n := 0
	for _, e := range sm.sessions {
		if e.sess.AreaID == areaID {
			n++
		}
	}
	return n
}

// Update applies fn to the live session. It reports false when the session
// is gone. The ID and area cannot be changed through Update.
func (sm *SessionManager) Update(id model.SessionID, fn func(*model.Session)) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	e, ok := sm.sessions[id]
	if !ok {
		return false
	}
	areaID := e.sess.AreaID
	fn(&e.sess)
	e.sess.ID = id
	e.sess.AreaID = areaID
	return true
}

// Send delivers msg to one session. Delivery failures are logged only.
func (sm *SessionManager) Send(id model.SessionID, msg *pb.ControlMessage) {
	sm.mu.RLock()
	e, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if !ok || e.out == nil {
		return
	}
	if err := e.out.Send(msg); err != nil {
		slog.Error("send failed", "session", id, "err", err)
	}
}

// Relocate moves a session to areaID, subject to the destination's
// admission rules.
func (sm *SessionManager) Relocate(id model.SessionID, areaID int) error {
	dest, err := sm.areas.Get(areaID)
	if err != nil {
		return err
	}
	sm.mu.Lock()
	e, ok := sm.sessions[id]
	if !ok {
		sm.mu.Unlock()
		return fmt.Errorf("%w: session %d disconnected", model.ErrNotFound, id)
	}
	from := e.sess.AreaID
	if from == areaID {
		sm.mu.Unlock()
		return fmt.Errorf("%w: already in %s", model.ErrNoChange, dest.Name())
	}
	adm, err := dest.Admit(e.sess, sm.countLocked(areaID))
	if err != nil {
		sm.mu.Unlock()
		return err
	}
	e.sess.AreaID = areaID
	e.sess.Spectator = adm.Spectator
	moved := e.sess.Clone()
	sm.mu.Unlock()

	if prev, err := sm.areas.Get(from); err == nil {
		prev.Leave(id)
	}
	if sm.moved != nil {
		sm.moved(moved, from)
	}
	return nil
}

// Disconnect sends notice and drops the session.
func (sm *SessionManager) Disconnect(id model.SessionID, notice string) bool {
	e, ok := sm.remove(id)
	if !ok {
		return false
	}
	if e.out != nil {
		if notice != "" {
			_ = e.out.Send(&pb.ControlMessage{Notice: &pb.Notice{Text: notice}})
		}
		_ = e.out.Close()
	}
	return true
}

// Remove drops a session without notice, e.g. after its connection closed.
// It reports the removed session.
func (sm *SessionManager) Remove(id model.SessionID) (model.Session, bool) {
	e, ok := sm.remove(id)
	if !ok {
		return model.Session{}, false
	}
	return e.sess, true
}

func (sm *SessionManager) remove(id model.SessionID) (*entry, bool) {
	sm.mu.Lock()
	e, ok := sm.sessions[id]
	if ok {
		// IDs are reused, so invites must not outlive the session.
		for _, a := range sm.areas.All() {
			a.Forget(id)
		}
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	if !ok {
		return nil, false
	}
	if a, err := sm.areas.Get(e.sess.AreaID); err == nil {
		a.Leave(id)
	}
	return e, true
}
