package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/gavel/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation for tests.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextBanID int64
	bansByID  map[int64]*memoryBan
	actions   []model.Action
}

type memoryBan struct {
	ban       model.Ban
	extension string
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:       now,
		nextBanID: 1,
		bansByID:  make(map[int64]*memoryBan),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ---- Bans ----

// CreateBan stores ban and assigns its ID. The extension round-trips through
// its stored encoding, as it does in SQLite.
func (s *MemoryStore) CreateBan(_ context.Context, ban *model.Ban) error {
	ext, err := model.EncodeExtension(ban.Extension)
	if err != nil {
		return fmt.Errorf("store: create ban: %w", err)
	}
	if ban.BannedAt.IsZero() {
		ban.BannedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ban.ID = s.nextBanID
	s.nextBanID++
	stored := *ban
	stored.IPIDs = slices.Clone(ban.IPIDs)
	stored.HDIDs = slices.Clone(ban.HDIDs)
	stored.Extension = nil
	s.bansByID[ban.ID] = &memoryBan{ban: stored, extension: ext}
	return nil
}

// GetBan retrieves a ban by ID. Returns (nil, nil) if not found.
func (s *MemoryStore) GetBan(_ context.Context, id int64) (*model.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, ok := s.bansByID[id]
	if !ok {
		return nil, nil
	}
	ban := mb.copy()
	return &ban, nil
}

// AddBanIPID adds ipid to a ban's identity set.
func (s *MemoryStore) AddBanIPID(_ context.Context, id int64, ipid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.bansByID[id]
	if !ok {
		return fmt.Errorf("store: add ban ipid: %w: ban %d", model.ErrNotFound, id)
	}
	if !mb.ban.CoversIPID(ipid) {
		mb.ban.IPIDs = append(mb.ban.IPIDs, ipid)
	}
	return nil
}

// AddBanHDID adds hdid to a ban's identity set.
func (s *MemoryStore) AddBanHDID(_ context.Context, id int64, hdid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.bansByID[id]
	if !ok {
		return fmt.Errorf("store: add ban hdid: %w: ban %d", model.ErrNotFound, id)
	}
	if !mb.ban.CoversHDID(hdid) {
		mb.ban.HDIDs = append(mb.ban.HDIDs, hdid)
	}
	return nil
}

// SetBanUnbanned sets the unbanned flag.
func (s *MemoryStore) SetBanUnbanned(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok := s.bansByID[id]; ok {
		mb.ban.Unbanned = true
	}
	return nil
}

// ListBansByIPID returns every ban covering ipid, in ID order.
func (s *MemoryStore) ListBansByIPID(_ context.Context, ipid int64) ([]model.Ban, error) {
	return s.filterBans(func(b *model.Ban) bool { return b.CoversIPID(ipid) }), nil
}

// ListBansByHDID returns every ban covering hdid, in ID order.
func (s *MemoryStore) ListBansByHDID(_ context.Context, hdid string) ([]model.Ban, error) {
	return s.filterBans(func(b *model.Ban) bool { return b.CoversHDID(hdid) }), nil
}

// ListBans returns every ban in ID order.
func (s *MemoryStore) ListBans(_ context.Context) ([]model.Ban, error) {
	return s.filterBans(func(*model.Ban) bool { return true }), nil
}

// RecentBans returns the newest bans first.
func (s *MemoryStore) RecentBans(_ context.Context, limit int) ([]model.Ban, error) {
	bans := s.filterBans(func(*model.Ban) bool { return true })
	slices.Reverse(bans)
	if limit >= 0 && len(bans) > limit {
		bans = bans[:limit]
	}
	return bans, nil
}

func (s *MemoryStore) filterBans(keep func(*model.Ban) bool) []model.Ban {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Ban
	for _, mb := range s.bansByID {
		if keep(&mb.ban) {
			out = append(out, mb.copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (mb *memoryBan) copy() model.Ban {
	ban := mb.ban
	ban.IPIDs = slices.Clone(mb.ban.IPIDs)
	ban.HDIDs = slices.Clone(mb.ban.HDIDs)
	ban.Extension = model.DecodeExtension(mb.extension)
	return ban
}

// ---- Moderation log ----

// LogAction appends an entry to the moderation log.
func (s *MemoryStore) LogAction(_ context.Context, action model.Action) error {
	if action.Name == "" {
		return fmt.Errorf("store: log action: %w: empty action name", model.ErrInvalidArgument)
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

// ListActions returns log entries, newest first.
func (s *MemoryStore) ListActions(_ context.Context, filters model.ActionFilters) ([]model.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Action
	for i := len(s.actions) - 1; i >= 0; i-- {
		a := s.actions[i]
		if filters.Name != nil && a.Name != *filters.Name {
			continue
		}
		if filters.ActorIPID != nil && a.ActorIPID != *filters.ActorIPID {
			continue
		}
		if filters.TargetIPID != nil && a.TargetIP != *filters.TargetIPID {
			continue
		}
		out = append(out, a)
	}
	offset, size := 0, 100
	if filters.Offset != nil {
		offset = *filters.Offset
	}
	if filters.PageSize != nil {
		size = *filters.PageSize
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > size {
		out = out[:size]
	}
	return out, nil
}

// Compile-time check: *MemoryStore implements DataStore.
var _ DataStore = (*MemoryStore)(nil)
