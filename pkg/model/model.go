// Package model defines the core domain types for gavel.
package model

// SessionID identifies a connected client. IDs are assigned by the session
// registry and handed out again once the owner disconnects.
type SessionID int

// NoSession is never assigned to a connected client.
const NoSession SessionID = -1

// Curse binds a session to a single area until the backing ban is lifted.
type Curse struct {
	AreaID int   `json:"area_id"`
	BanID  int64 `json:"ban_id"`
}

// Session represents an active client session (in-memory only).
type Session struct {
	ID       SessionID
	IPID     int64
	HDID     string
	Name     string // OOC name
	CharName string
	Showname string
	Pos      string

	IsMod      bool
	ModProfile string

	AreaID int

	Muted      bool
	OOCMuted   bool
	Hidden     bool
	Blinded    bool
	AFK        bool
	Spectator  bool // admitted to a spectatable area without IC rights
	Disemvowel bool
	Shaken     bool

	Curse *Curse
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	if s.Curse != nil {
		c := *s.Curse
		s.Curse = &c
	}
	return s
}

// Label renders the session the way moderator notices refer to it.
func (s Session) Label() string {
	name := s.CharName
	if name == "" {
		name = s.Name
	}
	if name == "" {
		name = "Spectator"
	}
	return name
}

// CursedTo reports whether the session may only occupy areaID.
func (s Session) CursedTo(areaID int) bool {
	return s.Curse != nil && s.Curse.AreaID == areaID
}
