package model

// Standing represents how much authority a session holds over an area.
type Standing int

const (
	StandingPlayer    Standing = iota // Default, can talk and move between free areas
	StandingManager                   // CM of the area: lock control, invites, testimony
	StandingModerator                 // Server-wide moderator
)

func (s Standing) String() string {
	switch s {
	case StandingPlayer:
		return "player"
	case StandingManager:
		return "manager"
	case StandingModerator:
		return "moderator"
	default:
		return "unknown"
	}
}

// ParseStanding converts a string to a Standing.
func ParseStanding(s string) Standing {
	switch s {
	case "moderator", "mod":
		return StandingModerator
	case "manager", "cm":
		return StandingManager
	default:
		return StandingPlayer
	}
}

// Valid returns true if the standing is a recognised value.
func (s Standing) Valid() bool {
	return s >= StandingPlayer && s <= StandingModerator
}

// AtLeast reports whether s grants at least the authority of min.
func (s Standing) AtLeast(min Standing) bool {
	return s >= min
}

// Permission represents a specific moderation action that can be authorized.
type Permission int

const (
	PermLockArea      Permission = iota // lock, unlock and spectate the area
	PermInvite                          // manage the area whitelist
	PermAreaKick                        // move sessions out of the area
	PermForcePos                        // change someone else's position
	PermTestimony                       // record and edit the area's testimony
	PermKick                            // disconnect sessions
	PermBan                             // issue bans
	PermUnban                           // lift bans
	PermCurse                           // confine sessions to one area
	PermMute                            // IC and OOC mutes
	PermBlind                           // blind and hide
	PermFun                             // disemvowel and shake
	PermInspect                         // ban listings, whois, multiclients
	PermEvidenceMode                    // change the evidence mode
	PermClearManagers                   // drop every CM in the area
)
