package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gavel/pkg/crypto"
	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/store"
)

func TestParseFile(t *testing.T) {
	t.Parallel()

	data := []byte(`
default_ban_duration: 3 days
areas:
  - name: Lobby
    abbreviation: LOB
  - name: Courtroom
    abbreviation: CR
    locking: false
    evidence_mode: HiddenCM
    max_players: 6
`)
	f, err := ParseFile(data)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	got, err := f.AreaConfigs()
	if err != nil {
		t.Fatalf("AreaConfigs: %v", err)
	}
	want := []model.AreaConfig{
		{ID: 0, Name: "Lobby", Abbreviation: "LOB", LockingAllowed: true, EvidenceMode: model.EvidenceFFA},
		{ID: 1, Name: "Courtroom", Abbreviation: "CR", LockingAllowed: false, EvidenceMode: model.EvidenceHiddenCM, MaxPlayers: 6},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AreaConfigs mismatch (-want +got):\n%s", diff)
	}

	d, err := f.BanDuration()
	if err != nil {
		t.Fatalf("BanDuration: %v", err)
	}
	if d != 72*time.Hour {
		t.Errorf("BanDuration = %v, want 72h", d)
	}
}

func TestParseFileErrors(t *testing.T) {
	t.Parallel()
	type tcase struct {
		yaml string
		want error
	}

	tests := map[string]tcase{
		"no areas": {
			yaml: "areas: []\n",
			want: model.ErrInvalidArgument,
		},
		"bad evidence mode": {
			yaml: "areas:\n  - name: Lobby\n    evidence_mode: chaos\n",
			want: model.ErrAreaEvidenceMode,
		},
		"bad ban duration": {
			yaml: "default_ban_duration: soon\nareas:\n  - name: Lobby\n",
			want: model.ErrInvalidArgument,
		},
		"moderator without salt": {
			yaml: "areas:\n  - name: Lobby\nmoderators:\n  - name: alice\n    password_hash: abcd\n",
			want: model.ErrInvalidArgument,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseFile([]byte(tc.yaml))
			if !errors.Is(err, tc.want) {
				t.Errorf("ParseFile err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNewModeratorRoundTrip(t *testing.T) {
	t.Parallel()

	entry, err := NewModerator("alice", "objection")
	if err != nil {
		t.Fatalf("NewModerator: %v", err)
	}
	out, err := yaml.Marshal(File{Areas: []AreaYAML{{Name: "Lobby"}}, Moderators: []ModeratorYAML{entry}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	f, err := ParseFile(out)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	profiles, err := f.Profiles()
	if err != nil {
		t.Fatalf("Profiles: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Name != "alice" {
		t.Fatalf("profiles = %+v", profiles)
	}
	p := profiles[0]
	if !crypto.VerifyPassword("objection", p.Salt, p.PasswordHash) {
		t.Error("password does not verify against the generated entry")
	}
	if crypto.VerifyPassword("hold it", p.Salt, p.PasswordHash) {
		t.Error("wrong password verified")
	}

	if _, err := NewModerator("alice", ""); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("empty password err = %v", err)
	}
}

func TestExportBansYAML(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := ledger.New(store.NewMemoryWithClock(clock), ledger.WithClock(clock))

	issuer := model.Session{ID: 1, Name: "alice", IsMod: true}
	if _, err := l.Ban(ctx, ledger.BanRequest{
		IPIDs:    []int64{4242},
		Reason:   "spam",
		Issuer:   issuer,
		Duration: ledger.Permanent,
	}); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if _, err := l.Ban(ctx, ledger.BanRequest{
		IPIDs:     []int64{77},
		HDIDs:     []string{"hdid-77"},
		Reason:    "contempt",
		Issuer:    issuer,
		Duration:  2 * time.Hour,
		Extension: model.AreaCurse{TargetArea: 1},
	}); err != nil {
		t.Fatalf("Ban curse: %v", err)
	}

	out, err := ExportBansYAML(ctx, l)
	if err != nil {
		t.Fatalf("ExportBansYAML: %v", err)
	}
	var got BansExport
	if err := yaml.Unmarshal(out, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Bans) != 2 {
		t.Fatalf("exported %d bans, want 2:\n%s", len(got.Bans), out)
	}

	byReason := map[string]BanYAML{}
	for _, b := range got.Bans {
		byReason[b.Reason] = b
	}
	if perm := byReason["spam"]; perm.UnbanAt != "" || perm.CurseArea != nil {
		t.Errorf("permanent ban exported as %+v", perm)
	}
	curse := byReason["contempt"]
	if curse.CurseArea == nil || *curse.CurseArea != 1 {
		t.Errorf("curse area = %v, want 1", curse.CurseArea)
	}
	if want := now.Add(2 * time.Hour).Format(time.RFC3339); curse.UnbanAt != want {
		t.Errorf("unban_at = %q, want %q", curse.UnbanAt, want)
	}
	if diff := cmp.Diff([]string{"hdid-77"}, curse.HDIDs); diff != "" {
		t.Errorf("hdids mismatch (-want +got):\n%s", diff)
	}
}
