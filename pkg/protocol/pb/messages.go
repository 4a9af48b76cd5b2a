// Package pb holds the control messages exchanged between clients and the
// gavel server.
package pb

// ControlMessage wraps all control plane messages.
type ControlMessage struct {
	// Only one of these fields should be set.
	Hello     *Hello         `json:"hello,omitempty"`
	Welcome   *Welcome       `json:"welcome,omitempty"`
	Command   *Command       `json:"command,omitempty"`
	OOC       *OOCMessage    `json:"ooc,omitempty"`
	OOCEvent  *OOCMessage    `json:"ooc_event,omitempty"`
	IC        *ICMessage     `json:"ic,omitempty"`
	ICEvent   *ICMessage     `json:"ic_event,omitempty"`
	Character *Character     `json:"character,omitempty"`
	Notice    *Notice        `json:"notice,omitempty"`
	AreaState *AreaState     `json:"area_state,omitempty"`
	Error     *ErrorResponse `json:"error,omitempty"`
	Ping      *Ping          `json:"ping,omitempty"`
	Pong      *Pong          `json:"pong,omitempty"`
}

// ----- Handshake -----

type Hello struct {
	HDID string `json:"hdid"`
	Name string `json:"name"` // OOC name
}

type Welcome struct {
	SessionID int32      `json:"session_id"`
	Areas     []AreaInfo `json:"areas"`
	Area      AreaState  `json:"area"`
	Motd      string     `json:"motd,omitempty"`
}

// ----- Areas -----

type AreaInfo struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
	Players      int    `json:"players"`
	LockState    string `json:"lock_state"`
}

type AreaState struct {
	ID           int            `json:"id"`
	Name         string         `json:"name"`
	Background   string         `json:"background"`
	LockState    string         `json:"lock_state"`
	EvidenceMode string         `json:"evidence_mode"`
	Managers     []int32        `json:"managers"`
	Evidence     []EvidenceInfo `json:"evidence"`
	Spectator    bool           `json:"spectator"`
}

type EvidenceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Pos         string `json:"pos"`
}

// ----- Chat -----

// Command is a slash command, e.g. "/ban 4242 \"spam\" 2d".
type Command struct {
	Text string `json:"text"`
}

type OOCMessage struct {
	SenderID   int32  `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

type ICMessage struct {
	SenderID int32  `json:"sender_id"`
	CharName string `json:"char_name"`
	Showname string `json:"showname"`
	Pos      string `json:"pos"`
	Emote    string `json:"emote"`
	Color    int    `json:"color"`
	Text     string `json:"text"`
	Shake    bool   `json:"shake,omitempty"`
}

// Character selects the sender's character and position.
type Character struct {
	CharName string `json:"char_name"`
	Showname string `json:"showname"`
	Pos      string `json:"pos"`
}

// Notice is server text for one client: command output and announcements.
type Notice struct {
	Text string `json:"text"`
}

// ----- Generic -----

type ErrorResponse struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}
