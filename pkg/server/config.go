package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/NicolasHaas/gavel/pkg/crypto"
	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/model"
	"gopkg.in/yaml.v3"
)

// AreaYAML represents an area in the server file.
type AreaYAML struct {
	Name         string `yaml:"name"`
	Abbreviation string `yaml:"abbreviation,omitempty"`
	Background   string `yaml:"background,omitempty"`
	Locking      *bool  `yaml:"locking,omitempty"`       // default true
	EvidenceMode string `yaml:"evidence_mode,omitempty"` // FFA, Mods, CM, HiddenCM
	MaxPlayers   int    `yaml:"max_players,omitempty"`
}

// ModeratorYAML is a moderator login. Hash and salt are hex encoded; generate
// an entry with `gavel -hash-password name`.
type ModeratorYAML struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
	Salt         string `yaml:"salt"`
}

// File is the top-level YAML server file.
type File struct {
	DefaultBanDuration string          `yaml:"default_ban_duration,omitempty"`
	Areas              []AreaYAML      `yaml:"areas"`
	Moderators         []ModeratorYAML `yaml:"moderators,omitempty"`
}

// DefaultFile is used when no server file is configured: a single open
// lobby and no moderators.
func DefaultFile() *File {
	return &File{Areas: []AreaYAML{{Name: "Lobby", Abbreviation: "LOB"}}}
}

// LoadFile reads and parses a server file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return nil, fmt.Errorf("read server file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses and validates server file YAML.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse server file: %w", err)
	}
	if _, err := f.AreaConfigs(); err != nil {
		return nil, err
	}
	if _, err := f.Profiles(); err != nil {
		return nil, err
	}
	if _, err := f.BanDuration(); err != nil {
		return nil, err
	}
	slog.Debug("parsed server file", "areas", len(f.Areas), "moderators", len(f.Moderators))
	return &f, nil
}

// AreaConfigs converts the areas in file order. Area IDs are their positions,
// starting at 0.
func (f *File) AreaConfigs() ([]model.AreaConfig, error) {
	if len(f.Areas) == 0 {
		return nil, fmt.Errorf("server file: %w: at least one area is required", model.ErrInvalidArgument)
	}
	out := make([]model.AreaConfig, 0, len(f.Areas))
	for i, a := range f.Areas {
		mode, err := model.ParseEvidenceMode(a.EvidenceMode)
		if err != nil {
			return nil, fmt.Errorf("server file: area %q: %w", a.Name, err)
		}
		cfg := model.AreaConfig{
			ID:             i,
			Name:           a.Name,
			Abbreviation:   a.Abbreviation,
			Background:     a.Background,
			LockingAllowed: a.Locking == nil || *a.Locking,
			EvidenceMode:   mode,
			MaxPlayers:     a.MaxPlayers,
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("server file: area %d: %w", i, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Profiles decodes the moderator logins.
func (f *File) Profiles() ([]model.ModProfile, error) {
	out := make([]model.ModProfile, 0, len(f.Moderators))
	for _, m := range f.Moderators {
		if err := model.ValidateName(m.Name); err != nil {
			return nil, fmt.Errorf("server file: moderator: %w", err)
		}
		hash, err := crypto.DecodeHex(m.PasswordHash)
		if err != nil {
			return nil, fmt.Errorf("server file: moderator %q: password_hash: %w", m.Name, err)
		}
		salt, err := crypto.DecodeHex(m.Salt)
		if err != nil {
			return nil, fmt.Errorf("server file: moderator %q: salt: %w", m.Name, err)
		}
		if len(hash) == 0 || len(salt) == 0 {
			return nil, fmt.Errorf("server file: moderator %q: %w: hash and salt are required", m.Name, model.ErrInvalidArgument)
		}
		out = append(out, model.ModProfile{Name: m.Name, PasswordHash: hash, Salt: salt})
	}
	return out, nil
}

// BanDuration returns the configured default ban duration, or zero when
// unset.
func (f *File) BanDuration() (time.Duration, error) {
	if f.DefaultBanDuration == "" {
		return 0, nil
	}
	d, err := ledger.ParseDuration(f.DefaultBanDuration)
	if err != nil {
		return 0, fmt.Errorf("server file: default_ban_duration: %w", err)
	}
	return d, nil
}

// NewModerator hashes password into a server file entry.
func NewModerator(name, password string) (ModeratorYAML, error) {
	if err := model.ValidateName(name); err != nil {
		return ModeratorYAML{}, err
	}
	if password == "" {
		return ModeratorYAML{}, fmt.Errorf("%w: empty password", model.ErrInvalidArgument)
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return ModeratorYAML{}, err
	}
	return ModeratorYAML{
		Name:         name,
		PasswordHash: crypto.EncodeHex(crypto.HashPassword(password, salt)),
		Salt:         crypto.EncodeHex(salt),
	}, nil
}

// BanYAML represents a ban record in the YAML export.
type BanYAML struct {
	ID        int64    `yaml:"id"`
	IPIDs     []int64  `yaml:"ipids,omitempty"`
	HDIDs     []string `yaml:"hdids,omitempty"`
	Reason    string   `yaml:"reason"`
	BannedBy  string   `yaml:"banned_by"`
	BannedAt  string   `yaml:"banned_at"`
	UnbanAt   string   `yaml:"unban_at,omitempty"` // empty = permanent
	Unbanned  bool     `yaml:"unbanned"`
	CurseArea *int     `yaml:"curse_area,omitempty"`
}

// BansExport is the top-level YAML for the ban export.
type BansExport struct {
	Bans []BanYAML `yaml:"bans"`
}

// ExportBansYAML exports every ban in the ledger as YAML.
func ExportBansYAML(ctx context.Context, l *ledger.Ledger) ([]byte, error) {
	bans, err := l.All(ctx)
	if err != nil {
		return nil, err
	}

	export := BansExport{Bans: make([]BanYAML, 0, len(bans))}
	for _, b := range bans {
		entry := BanYAML{
			ID:       b.ID,
			IPIDs:    b.IPIDs,
			HDIDs:    b.HDIDs,
			Reason:   b.Reason,
			BannedBy: b.BannedByName,
			BannedAt: b.BannedAt.Format(time.RFC3339),
			Unbanned: b.Unbanned,
		}
		if !b.Permanent() {
			entry.UnbanAt = b.UnbanAt.Format(time.RFC3339)
		}
		if c, ok := b.Curse(); ok {
			area := c.TargetArea
			entry.CurseArea = &area
		}
		export.Bans = append(export.Bans, entry)
	}
	return yaml.Marshal(&export)
}
