package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/model"
	"github.com/NicolasHaas/gavel/pkg/store"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLedger(t *testing.T) (*ledger.Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return ledger.New(store.NewMemoryWithClock(clock.Now), ledger.WithClock(clock.Now)), clock
}

var mod = model.Session{ID: 0, IPID: 1, ModProfile: "alice", IsMod: true}

func TestBanFindUnban(t *testing.T) {
	t.Parallel()

	l, clock := newLedger(t)
	ctx := context.Background()

	id, err := l.Ban(ctx, ledger.BanRequest{IPIDs: []int64{4242}, Reason: "spam", Issuer: mod})
	if err != nil {
		t.Fatalf("Ban: %v", err)
	}

	found, err := l.FindByIPID(ctx, 4242)
	if err != nil {
		t.Fatalf("FindByIPID: %v", err)
	}
	want := []model.Ban{{
		ID:           id,
		IPIDs:        []int64{4242},
		Reason:       "spam",
		BannedBy:     0,
		BannedByName: "alice",
		BannedAt:     clock.Now(),
		UnbanAt:      clock.Now().Add(ledger.DefaultBanDuration),
	}}
	if diff := cmp.Diff(want, found, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("FindByIPID mismatch (-want +got):\n%s", diff)
	}

	lifted, err := l.Unban(ctx, id)
	if err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if !lifted.Unbanned {
		t.Fatalf("Unban: returned record not marked unbanned")
	}

	found, err = l.FindByIPID(ctx, 4242)
	if err != nil {
		t.Fatalf("FindByIPID: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("FindByIPID after unban: want none, got %+v", found)
	}

	if _, err := l.Unban(ctx, id); !errors.Is(err, model.ErrNoChange) {
		t.Fatalf("second Unban: want ErrNoChange, got %v", err)
	}
	if _, err := l.Unban(ctx, id+1); !errors.Is(err, ledger.ErrBanNotFound) || !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Unban(missing): want ErrBanNotFound, got %v", err)
	}
}

func TestLazyExpiry(t *testing.T) {
	t.Parallel()

	l, clock := newLedger(t)
	ctx := context.Background()

	id, err := l.Ban(ctx, ledger.BanRequest{HDIDs: []string{"hw-1"}, Duration: time.Hour, Issuer: mod})
	if err != nil {
		t.Fatalf("Ban: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if found, _ := l.FindByHDID(ctx, "hw-1"); len(found) != 1 {
		t.Fatalf("FindByHDID before expiry: want 1 record, got %d", len(found))
	}

	clock.Advance(time.Minute)
	if found, _ := l.FindByHDID(ctx, "hw-1"); len(found) != 0 {
		t.Fatalf("FindByHDID at expiry: want none, got %d", len(found))
	}

	ban, err := l.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ban.Unbanned {
		t.Fatalf("Get: expired record should read as unbanned")
	}
}

func TestPermanentBan(t *testing.T) {
	t.Parallel()

	l, clock := newLedger(t)
	ctx := context.Background()

	if _, err := l.Ban(ctx, ledger.BanRequest{IPIDs: []int64{9}, Duration: ledger.Permanent, Issuer: mod}); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	clock.Advance(100 * 365 * 24 * time.Hour)
	found, err := l.FindByIPID(ctx, 9)
	if err != nil {
		t.Fatalf("FindByIPID: %v", err)
	}
	if len(found) != 1 || !found[0].Permanent() {
		t.Fatalf("FindByIPID: want one permanent record, got %+v", found)
	}
}

func TestAppendIdentity(t *testing.T) {
	t.Parallel()

	l, _ := newLedger(t)
	ctx := context.Background()

	id, err := l.Ban(ctx, ledger.BanRequest{IPIDs: []int64{1000}, Issuer: mod})
	if err != nil {
		t.Fatalf("Ban: %v", err)
	}

	got, err := l.Ban(ctx, ledger.BanRequest{IPIDs: []int64{1001, 1000}, HDIDs: []string{"hw-x", ""}, ExistingBanID: id, Issuer: mod})
	if err != nil {
		t.Fatalf("Ban (append): %v", err)
	}
	if got != id {
		t.Fatalf("Ban (append): returned ID %d, want %d", got, id)
	}

	all, err := l.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("All: append must not create a record, got %d", len(all))
	}
	if diff := cmp.Diff([]int64{1000, 1001}, all[0].IPIDs); diff != "" {
		t.Errorf("IPIDs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"hw-x"}, all[0].HDIDs); diff != "" {
		t.Errorf("HDIDs mismatch (-want +got):\n%s", diff)
	}

	_, err = l.Ban(ctx, ledger.BanRequest{IPIDs: []int64{5}, ExistingBanID: 404, Issuer: mod})
	if !errors.Is(err, ledger.ErrBanNotFound) {
		t.Fatalf("append to missing ban: want ErrBanNotFound, got %v", err)
	}
}

func TestBanRejectsEmptyIdentity(t *testing.T) {
	t.Parallel()

	l, _ := newLedger(t)
	_, err := l.Ban(context.Background(), ledger.BanRequest{HDIDs: []string{"  "}, Issuer: mod})
	if !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("Ban: want ErrInvalidArgument, got %v", err)
	}
}

func TestDefaultDurationOption(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	l := ledger.New(store.NewMemory(), ledger.WithClock(clock.Now), ledger.WithDefaultDuration(48*time.Hour))
	id, err := l.Ban(context.Background(), ledger.BanRequest{IPIDs: []int64{3}, Issuer: mod})
	if err != nil {
		t.Fatalf("Ban: %v", err)
	}
	ban, err := l.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(clock.Now().Add(48*time.Hour), ban.UnbanAt); diff != "" {
		t.Errorf("UnbanAt mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryAndRecent(t *testing.T) {
	t.Parallel()

	l, _ := newLedger(t)
	ctx := context.Background()

	first, _ := l.Ban(ctx, ledger.BanRequest{IPIDs: []int64{50}, HDIDs: []string{"hw-50"}, Issuer: mod})
	second, _ := l.Ban(ctx, ledger.BanRequest{IPIDs: []int64{50}, Issuer: mod})
	if _, err := l.Unban(ctx, first); err != nil {
		t.Fatalf("Unban: %v", err)
	}

	type tcase struct {
		lookup    model.BanLookup
		value     string
		want      []int64
		expectErr bool
	}

	tests := map[string]tcase{
		"by_ipid_includes_lifted": {
			lookup: model.LookupIPID,
			value:  "50",
			want:   []int64{first, second},
		},
		"by_hdid": {
			lookup: model.LookupHDID,
			value:  "hw-50",
			want:   []int64{first},
		},
		"by_ban_id": {
			lookup: model.LookupBanID,
			value:  " 2 ",
			want:   []int64{second},
		},
		"missing_ban_id": {
			lookup: model.LookupBanID,
			value:  "99",
		},
		"non_numeric_ipid": {
			lookup:    model.LookupIPID,
			value:     "abc",
			expectErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			bans, err := l.History(ctx, tc.lookup, tc.value)
			if tc.expectErr {
				if !errors.Is(err, model.ErrInvalidArgument) {
					t.Fatalf("History: want ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			var got []int64
			for _, b := range bans {
				got = append(got, b.ID)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("History mismatch (-want +got):\n%s", diff)
			}
		})
	}

	recent, err := l.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != second || !recent[1].Unbanned {
		t.Fatalf("Recent = %+v, want newest first with the lifted record last", recent)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	type tcase struct {
		input     string
		want      time.Duration
		expectErr bool
	}

	tests := map[string]tcase{
		"bare_number_is_hours": {input: "6", want: 6 * time.Hour},
		"words":                {input: "2 days", want: 48 * time.Hour},
		"compound":             {input: "1w 3d", want: 10 * 24 * time.Hour},
		"go_syntax":            {input: "6h30m", want: 6*time.Hour + 30*time.Minute},
		"comma_separated":      {input: "1 hour, 30 minutes", want: 90 * time.Minute},
		"month":                {input: "1 month", want: 30 * 24 * time.Hour},
		"mixed_case":           {input: "3 Hours", want: 3 * time.Hour},
		"permanent":            {input: "perma", want: ledger.Permanent},
		"permanently":          {input: "Permanently", want: ledger.Permanent},
		"zero":                 {input: "0", expectErr: true},
		"empty":                {input: "", expectErr: true},
		"unknown_unit":         {input: "3 fortnights", expectErr: true},
		"garbage":              {input: "soon", expectErr: true},
		"overflow":             {input: "999999999999 years", expectErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := ledger.ParseDuration(tc.input)
			if tc.expectErr {
				if !errors.Is(err, model.ErrInvalidArgument) {
					t.Fatalf("ParseDuration(%q): want ErrInvalidArgument, got %v", tc.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q): %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}
