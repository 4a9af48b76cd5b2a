package model

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxAreaNameLength   = 64
	MaxAreaAbbrevLength = 8
	MaxAreaPlayers      = 256
)

var ErrAreaNameEmpty = errors.New("area name must not be empty")
var ErrAreaNameTooLong = errors.New("area name too long")
var ErrAreaAbbrevTooLong = errors.New("area abbreviation too long")
var ErrAreaMaxPlayers = errors.New("area max players out of range")
var ErrAreaEvidenceMode = errors.New("unknown evidence mode")

// LockState is the admission state of an area.
type LockState int

const (
	LockFree LockState = iota
	LockLocked
	LockSpectatable
)

func (l LockState) String() string {
	switch l {
	case LockFree:
		return "FREE"
	case LockLocked:
		return "LOCKED"
	case LockSpectatable:
		return "SPECTATABLE"
	default:
		return "UNKNOWN"
	}
}

// EvidenceMode controls who may see and edit an area's evidence.
type EvidenceMode int

const (
	EvidenceFFA EvidenceMode = iota
	EvidenceMods
	EvidenceCM
	EvidenceHiddenCM
)

func (m EvidenceMode) String() string {
	switch m {
	case EvidenceFFA:
		return "FFA"
	case EvidenceMods:
		return "Mods"
	case EvidenceCM:
		return "CM"
	case EvidenceHiddenCM:
		return "HiddenCM"
	default:
		return "unknown"
	}
}

// ParseEvidenceMode converts the configured or typed mode name.
func ParseEvidenceMode(s string) (EvidenceMode, error) {
	switch s {
	case "FFA", "":
		return EvidenceFFA, nil
	case "Mods":
		return EvidenceMods, nil
	case "CM":
		return EvidenceCM, nil
	case "HiddenCM":
		return EvidenceHiddenCM, nil
	default:
		return 0, ErrAreaEvidenceMode
	}
}

// AllowsManagers reports whether the mode lets sessions claim CM.
func (m EvidenceMode) AllowsManagers() bool {
	return m == EvidenceCM || m == EvidenceHiddenCM
}

// AreaConfig is the static configuration of an area.
type AreaConfig struct {
	ID             int
	Name           string
	Abbreviation   string
	Background     string
	LockingAllowed bool
	EvidenceMode   EvidenceMode
	MaxPlayers     int // 0 = unlimited
}

// Validate checks an area configuration.
func (a *AreaConfig) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrAreaNameEmpty
	} else if utf8.RuneCountInString(a.Name) > MaxAreaNameLength {
		return ErrAreaNameTooLong
	}
	if utf8.RuneCountInString(a.Abbreviation) > MaxAreaAbbrevLength {
		return ErrAreaAbbrevTooLong
	}
	if a.MaxPlayers < 0 || a.MaxPlayers > MaxAreaPlayers {
		return ErrAreaMaxPlayers
	}
	return nil
}

// Evidence is a single item on an area's evidence list.
type Evidence struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Pos         string `json:"pos"` // "all" or the position allowed to see it in HiddenCM mode
}
