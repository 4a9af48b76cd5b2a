package area

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NicolasHaas/gavel/pkg/model"
)

var ErrUnknownArea = fmt.Errorf("%w: area not found", model.ErrNotFound)

// Manager is the ordered registry of areas.
type Manager struct {
	areas []*Area
	byID  map[int]*Area
}

// NewManager validates cfgs and builds one Area per entry. The first entry is
// the default area new sessions join.
func NewManager(cfgs []model.AreaConfig, listener Listener) (*Manager, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("area: new manager: %w: no areas configured", model.ErrInvalidArgument)
	}
	m := &Manager{byID: make(map[int]*Area, len(cfgs))}
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("area: new manager: area %d: %w", cfg.ID, err)
		}
		if _, dup := m.byID[cfg.ID]; dup {
			return nil, fmt.Errorf("area: new manager: %w: duplicate area id %d", model.ErrInvalidArgument, cfg.ID)
		}
		a := New(cfg, listener)
		m.areas = append(m.areas, a)
		m.byID[cfg.ID] = a
	}
	return m, nil
}

// All returns the areas in configuration order.
func (m *Manager) All() []*Area {
	out := make([]*Area, len(m.areas))
	copy(out, m.areas)
	return out
}

// Default returns the area new sessions are placed in.
func (m *Manager) Default() *Area {
	return m.areas[0]
}

// Get returns the area with the given ID.
func (m *Manager) Get(id int) (*Area, error) {
	a, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownArea, id)
	}
	return a, nil
}

// ByName returns the area whose name matches case-insensitively.
func (m *Manager) ByName(name string) (*Area, error) {
	for _, a := range m.areas {
		if strings.EqualFold(a.Name(), name) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownArea, name)
}

// Find resolves an ID, a name or an abbreviation.
func (m *Manager) Find(query string) (*Area, error) {
	query = strings.TrimSpace(query)
	if id, err := strconv.Atoi(query); err == nil {
		return m.Get(id)
	}
	for _, a := range m.areas {
		if strings.EqualFold(a.Name(), query) || (a.Abbreviation() != "" && a.Abbreviation() == query) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownArea, query)
}
