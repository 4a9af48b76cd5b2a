package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Ban is a durable ban record. A record can cover several identities when a
// moderator links a later IPID or HDID ban to an existing one.
type Ban struct {
	ID           int64        `json:"id"`
	IPIDs        []int64      `json:"ipids"`
	HDIDs        []string     `json:"hdids"`
	Reason       string       `json:"reason"`
	BannedBy     SessionID    `json:"banned_by"`
	BannedByName string       `json:"banned_by_name"`
	BannedAt     time.Time    `json:"banned_at"`
	UnbanAt      time.Time    `json:"unban_at"` // zero = permanent
	Unbanned     bool         `json:"unbanned"`
	Extension    BanExtension `json:"-"`
}

// Permanent returns true if the ban has no unban date.
func (b *Ban) Permanent() bool {
	return b.UnbanAt.IsZero()
}

// IsExpired returns true if the ban's unban date has passed at now.
func (b *Ban) IsExpired(now time.Time) bool {
	if b.UnbanAt.IsZero() {
		return false
	}
	return !now.Before(b.UnbanAt)
}

// Active returns true if the ban still applies at now.
func (b *Ban) Active(now time.Time) bool {
	return !b.Unbanned && !b.IsExpired(now)
}

// CoversIPID reports whether ipid is in the ban's identity set.
func (b *Ban) CoversIPID(ipid int64) bool {
	return slices.Contains(b.IPIDs, ipid)
}

// CoversHDID reports whether hdid is in the ban's identity set.
func (b *Ban) CoversHDID(hdid string) bool {
	return hdid != "" && slices.Contains(b.HDIDs, hdid)
}

// Curse returns the area-curse payload, if any.
func (b *Ban) Curse() (AreaCurse, bool) {
	c, ok := b.Extension.(AreaCurse)
	return c, ok
}

// BanExtension is the closed set of ban subtypes. A nil extension is a plain
// ban that disconnects the client.
type BanExtension interface {
	banType() string
}

// AreaCurse confines the banned identities to TargetArea instead of
// disconnecting them.
type AreaCurse struct {
	TargetArea int
}

func (AreaCurse) banType() string { return banTypeAreaCurse }

const banTypeAreaCurse = "area_curse"

type extensionJSON struct {
	BanType    string `json:"ban_type"`
	TargetArea *int   `json:"target_area,omitempty"`
}

// EncodeExtension serializes ext for storage. A nil extension encodes to "".
func EncodeExtension(ext BanExtension) (string, error) {
	switch e := ext.(type) {
	case nil:
		return "", nil
	case AreaCurse:
		area := e.TargetArea
		data, err := json.Marshal(extensionJSON{BanType: banTypeAreaCurse, TargetArea: &area})
		if err != nil {
			return "", fmt.Errorf("model: encode ban extension: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("model: encode ban extension: unknown type %T", ext)
	}
}

// DecodeExtension parses a stored extension. Empty, malformed or unknown
// payloads decode to a plain ban.
func DecodeExtension(data string) BanExtension {
	if data == "" {
		return nil
	}
	var raw extensionJSON
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil
	}
	switch raw.BanType {
	case banTypeAreaCurse:
		if raw.TargetArea == nil {
			return nil
		}
		return AreaCurse{TargetArea: *raw.TargetArea}
	default:
		return nil
	}
}

// BanLookup selects which identity a ban history query matches on.
type BanLookup int

const (
	LookupBanID BanLookup = iota
	LookupIPID
	LookupHDID
)

// ParseBanLookup converts the /baninfo lookup argument.
func ParseBanLookup(s string) (BanLookup, error) {
	switch s {
	case "", "ban_id":
		return LookupBanID, nil
	case "ipid":
		return LookupIPID, nil
	case "hdid":
		return LookupHDID, nil
	default:
		return 0, fmt.Errorf("%w: incorrect lookup type %q", ErrInvalidArgument, s)
	}
}

func (l BanLookup) String() string {
	switch l {
	case LookupIPID:
		return "ipid"
	case LookupHDID:
		return "hdid"
	default:
		return "ban_id"
	}
}
