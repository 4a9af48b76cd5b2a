// Package ledger is the durable record of bans and area curses.
//
// Records are never deleted. After creation only three things change: the
// identity set grows, the unbanned flag is set, and the unban date passes.
// Expiry is evaluated lazily on every lookup against the ledger's clock.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasHaas/gavel/pkg/model"
)

// DefaultBanDuration applies when neither the request nor the configuration
// names one.
const DefaultBanDuration = 6 * time.Hour

var ErrBanNotFound = fmt.Errorf("%w: ban not found", model.ErrNotFound)

// Store persists ban records. Lookups return (nil, nil) for a missing record.
type Store interface {
	CreateBan(ctx context.Context, ban *model.Ban) error
	GetBan(ctx context.Context, id int64) (*model.Ban, error)
	AddBanIPID(ctx context.Context, id int64, ipid int64) error
	AddBanHDID(ctx context.Context, id int64, hdid string) error
	SetBanUnbanned(ctx context.Context, id int64) error
	ListBansByIPID(ctx context.Context, ipid int64) ([]model.Ban, error)
	ListBansByHDID(ctx context.Context, hdid string) ([]model.Ban, error)
	RecentBans(ctx context.Context, limit int) ([]model.Ban, error)
	ListBans(ctx context.Context) ([]model.Ban, error)
}

// BanRequest describes a new ban or an identity append.
type BanRequest struct {
	IPIDs  []int64
	HDIDs  []string
	Reason string
	Issuer model.Session
	// Duration is Permanent, a positive duration, or zero for the default.
	Duration time.Duration
	// ExistingBanID, when set, appends the identities to that record instead
	// of creating a new one.
	ExistingBanID int64
	Extension     model.BanExtension
}

// Ledger issues, revokes and looks up bans.
type Ledger struct {
	store           Store
	now             func() time.Time
	defaultDuration time.Duration
	keys            keyedMutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used for issue dates and expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithDefaultDuration sets the duration of bans issued without one.
func WithDefaultDuration(d time.Duration) Option {
	return func(l *Ledger) {
		if d != 0 {
			l.defaultDuration = d
		}
	}
}

// New creates a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:           store,
		now:             func() time.Time { return time.Now().UTC() },
		defaultDuration: DefaultBanDuration,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultDuration returns the duration applied when a request has none.
func (l *Ledger) DefaultDuration() time.Duration {
	return l.defaultDuration
}

// Ban records a new ban and returns its ID, or appends the request's
// identities to ExistingBanID and returns that ID.
func (l *Ledger) Ban(ctx context.Context, req BanRequest) (int64, error) {
	req.HDIDs = nonEmpty(req.HDIDs)
	if len(req.IPIDs) == 0 && len(req.HDIDs) == 0 {
		return 0, fmt.Errorf("%w: a ban needs an IPID or HDID", model.ErrInvalidArgument)
	}
	if req.ExistingBanID != 0 {
		return req.ExistingBanID, l.appendIdentities(ctx, req)
	}

	d := req.Duration
	if d == 0 {
		d = l.defaultDuration
	}
	if d < 0 && d != Permanent {
		return 0, fmt.Errorf("%w: negative ban duration", model.ErrInvalidArgument)
	}
	now := l.now()
	ban := &model.Ban{
		IPIDs:        dedupe(req.IPIDs),
		HDIDs:        dedupe(req.HDIDs),
		Reason:       req.Reason,
		BannedBy:     req.Issuer.ID,
		BannedByName: req.Issuer.ModProfile,
		BannedAt:     now,
		Extension:    req.Extension,
	}
	if ban.BannedByName == "" {
		ban.BannedByName = req.Issuer.Label()
	}
	if d != Permanent {
		ban.UnbanAt = now.Add(d)
	}
	if err := l.store.CreateBan(ctx, ban); err != nil {
		return 0, fmt.Errorf("ledger: ban: %w", err)
	}
	slog.Info("ban issued", "ban_id", ban.ID, "ipids", ban.IPIDs, "hdids", len(ban.HDIDs), "by", ban.BannedByName, "permanent", ban.Permanent())
	return ban.ID, nil
}

func (l *Ledger) appendIdentities(ctx context.Context, req BanRequest) error {
	unlock := l.keys.lock(req.ExistingBanID)
	defer unlock()

	ban, err := l.store.GetBan(ctx, req.ExistingBanID)
	if err != nil {
		return fmt.Errorf("ledger: append identity: %w", err)
	}
	if ban == nil {
		return fmt.Errorf("%w: %d", ErrBanNotFound, req.ExistingBanID)
	}
	for _, ipid := range dedupe(req.IPIDs) {
		if ban.CoversIPID(ipid) {
			continue
		}
		if err := l.store.AddBanIPID(ctx, ban.ID, ipid); err != nil {
			return fmt.Errorf("ledger: append ipid: %w", err)
		}
	}
	for _, hdid := range dedupe(req.HDIDs) {
		if ban.CoversHDID(hdid) {
			continue
		}
		if err := l.store.AddBanHDID(ctx, ban.ID, hdid); err != nil {
			return fmt.Errorf("ledger: append hdid: %w", err)
		}
	}
	slog.Info("ban identity appended", "ban_id", ban.ID, "ipids", req.IPIDs, "hdids", len(req.HDIDs))
	return nil
}

// Unban lifts a ban and returns the record so the caller can reverse its
// extension. Lifting a lifted ban is model.ErrNoChange.
func (l *Ledger) Unban(ctx context.Context, id int64) (model.Ban, error) {
	unlock := l.keys.lock(id)
	defer unlock()

	ban, err := l.store.GetBan(ctx, id)
	if err != nil {
		return model.Ban{}, fmt.Errorf("ledger: unban: %w", err)
	}
	if ban == nil {
		return model.Ban{}, fmt.Errorf("%w: %d", ErrBanNotFound, id)
	}
	if ban.Unbanned {
		return *ban, fmt.Errorf("%w: ban %d is already lifted", model.ErrNoChange, id)
	}
	if err := l.store.SetBanUnbanned(ctx, id); err != nil {
		return model.Ban{}, fmt.Errorf("ledger: unban: %w", err)
	}
	ban.Unbanned = true
	slog.Info("ban lifted", "ban_id", id)
	return *ban, nil
}

// Get returns one record. A record past its unban date is reported unbanned.
func (l *Ledger) Get(ctx context.Context, id int64) (model.Ban, error) {
	ban, err := l.store.GetBan(ctx, id)
	if err != nil {
		return model.Ban{}, fmt.Errorf("ledger: get: %w", err)
	}
	if ban == nil {
		return model.Ban{}, fmt.Errorf("%w: %d", ErrBanNotFound, id)
	}
	return l.present(*ban), nil
}

// FindByIPID returns the active bans covering ipid.
func (l *Ledger) FindByIPID(ctx context.Context, ipid int64) ([]model.Ban, error) {
	bans, err := l.store.ListBansByIPID(ctx, ipid)
	if err != nil {
		return nil, fmt.Errorf("ledger: find by ipid: %w", err)
	}
	return l.active(bans), nil
}

// FindByHDID returns the active bans covering hdid.
func (l *Ledger) FindByHDID(ctx context.Context, hdid string) ([]model.Ban, error) {
	if hdid == "" {
		return nil, nil
	}
	bans, err := l.store.ListBansByHDID(ctx, hdid)
	if err != nil {
		return nil, fmt.Errorf("ledger: find by hdid: %w", err)
	}
	return l.active(bans), nil
}

// History returns every record, lifted or not, matching value.
func (l *Ledger) History(ctx context.Context, lookup model.BanLookup, value string) ([]model.Ban, error) {
	value = strings.TrimSpace(value)
	var (
		bans []model.Ban
		err  error
	)
	switch lookup {
	case model.LookupBanID:
		id, perr := strconv.ParseInt(value, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("%w: %q is not a ban ID", model.ErrInvalidArgument, value)
		}
		ban, gerr := l.store.GetBan(ctx, id)
		if ban != nil {
			bans = []model.Ban{*ban}
		}
		err = gerr
	case model.LookupIPID:
		ipid, perr := strconv.ParseInt(value, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("%w: %q does not look like a valid IPID", model.ErrInvalidArgument, value)
		}
		bans, err = l.store.ListBansByIPID(ctx, ipid)
	case model.LookupHDID:
		bans, err = l.store.ListBansByHDID(ctx, value)
	default:
		return nil, fmt.Errorf("%w: lookup %d", model.ErrInvalidArgument, lookup)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: history: %w", err)
	}
	for i := range bans {
		bans[i] = l.present(bans[i])
	}
	return bans, nil
}

// Recent returns the n most recently issued records, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]model.Ban, error) {
	if n <= 0 {
		return nil, nil
	}
	bans, err := l.store.RecentBans(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	for i := range bans {
		bans[i] = l.present(bans[i])
	}
	return bans, nil
}

// All returns every record in ID order.
func (l *Ledger) All(ctx context.Context) ([]model.Ban, error) {
	bans, err := l.store.ListBans(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: all: %w", err)
	}
	for i := range bans {
		bans[i] = l.present(bans[i])
	}
	return bans, nil
}

// Now returns the ledger's clock reading.
func (l *Ledger) Now() time.Time {
	return l.now()
}

func (l *Ledger) present(ban model.Ban) model.Ban {
	if ban.IsExpired(l.now()) {
		ban.Unbanned = true
	}
	return ban
}

func (l *Ledger) active(bans []model.Ban) []model.Ban {
	now := l.now()
	var out []model.Ban
	for _, b := range bans {
		if b.Active(now) {
			out = append(out, b)
		}
	}
	return out
}

func dedupe[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func nonEmpty(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
