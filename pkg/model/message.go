package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MessageMaxBodyLength = 256

var ErrMessageBodyTooLong = fmt.Errorf("message body exceeds %d characters", MessageMaxBodyLength)
var ErrMessageBodyEmpty = errors.New("message body cannot be empty")

// Statement is one in-character line as recorded by a testimony.
type Statement struct {
	Speaker  string `json:"speaker"`
	Showname string `json:"showname"`
	Pos      string `json:"pos"`
	Emote    string `json:"emote"`
	Color    int    `json:"color"`
	Text     string `json:"text"`
}

// Validate checks the spoken text of a statement.
func (s *Statement) Validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return ErrMessageBodyEmpty
	} else if utf8.RuneCountInString(s.Text) > MessageMaxBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}

// Action is one entry of the append-only moderation log.
type Action struct {
	EventID   string    `json:"event_id"`
	Name      string    `json:"name"`
	ActorID   SessionID `json:"actor_id"`
	ActorIPID int64     `json:"actor_ipid"`
	ActorName string    `json:"actor_name"`
	AreaID    int       `json:"area_id"`
	TargetID  SessionID `json:"target_id"` // NoSession when untargeted
	TargetIP  int64     `json:"target_ipid"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAction builds a log entry for an action taken by actor.
func NewAction(name string, actor Session) Action {
	label := actor.ModProfile
	if label == "" {
		label = actor.Label()
	}
	return Action{
		EventID:   uuid.NewString(),
		Name:      name,
		ActorID:   actor.ID,
		ActorIPID: actor.IPID,
		ActorName: label,
		AreaID:    actor.AreaID,
		TargetID:  NoSession,
	}
}

// Against sets the action's target.
func (a Action) Against(target Session) Action {
	a.TargetID = target.ID
	a.TargetIP = target.IPID
	return a
}

// With sets the free-form message.
func (a Action) With(format string, args ...any) Action {
	a.Message = fmt.Sprintf(format, args...)
	return a
}

// ActionFilters narrows a moderation log query. Nil fields match everything.
type ActionFilters struct {
	Name       *string
	ActorIPID  *int64
	TargetIPID *int64
	PageSize   *int
	Offset     *int
}
