package area

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/NicolasHaas/gavel/pkg/model"
)

// EvidencePosAll makes a HiddenCM evidence item visible from every position.
const EvidencePosAll = "all"

// EvidenceMode returns the current evidence mode.
func (a *Area) EvidenceMode() model.EvidenceMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evidenceMode
}

func (a *Area) canEditEvidence(actor Actor) error {
	switch a.evidenceMode {
	case model.EvidenceFFA:
		return nil
	case model.EvidenceMods:
		if !actor.IsMod {
			return ErrModOnly
		}
		return nil
	default:
		return a.requireManager(actor)
	}
}

// SetEvidenceMode changes the mode. Leaving HiddenCM reveals every item.
// Moderators only.
func (a *Area) SetEvidenceMode(actor Actor, mode model.EvidenceMode) error {
	if !actor.IsMod {
		return ErrModOnly
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.evidenceMode == mode {
		return fmt.Errorf("%w: evidence mode is already %s", model.ErrNoChange, mode)
	}
	if a.evidenceMode == model.EvidenceHiddenCM {
		for i := range a.evidence {
			a.evidence[i].Pos = EvidencePosAll
		}
	}
	a.evidenceMode = mode
	return nil
}

// AddEvidence appends ev and returns its index.
func (a *Area) AddEvidence(actor Actor, ev model.Evidence) (int, error) {
	if strings.TrimSpace(ev.Name) == "" {
		return 0, fmt.Errorf("%w: evidence needs a name", model.ErrInvalidArgument)
	}
	if ev.Description == "" {
		ev.Description = "<description>"
	}
	if ev.Image == "" {
		ev.Image = "empty.png"
	}
	if ev.Pos == "" {
		ev.Pos = EvidencePosAll
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.canEditEvidence(actor); err != nil {
		return 0, err
	}
	a.evidence = append(a.evidence, ev)
	return len(a.evidence) - 1, nil
}

// RemoveEvidence deletes the item at index, or the first item whose name
// matches ref case-insensitively, and returns it.
func (a *Area) RemoveEvidence(actor Actor, ref string) (model.Evidence, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.canEditEvidence(actor); err != nil {
		return model.Evidence{}, err
	}
	i := a.findEvidence(ref)
	if i < 0 {
		return model.Evidence{}, ErrEvidenceIndex
	}
	ev := a.evidence[i]
	a.evidence = slices.Delete(a.evidence, i, i+1)
	return ev, nil
}

func (a *Area) findEvidence(ref string) int {
	if idx, err := strconv.Atoi(ref); err == nil {
		if idx >= 0 && idx < len(a.evidence) {
			return idx
		}
		return -1
	}
	for i, ev := range a.evidence {
		if strings.EqualFold(ev.Name, ref) {
			return i
		}
	}
	return -1
}

// Evidence returns the full evidence list.
func (a *Area) Evidence() []model.Evidence {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.evidence)
}

// VisibleEvidence returns the items viewer may see. In HiddenCM mode,
// non-managers see only items placed at "all" or at their own position.
func (a *Area) VisibleEvidence(viewer model.Session) []model.Evidence {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.evidenceMode != model.EvidenceHiddenCM || a.standing(ActorOf(viewer)).AtLeast(model.StandingManager) {
		return slices.Clone(a.evidence)
	}
	var out []model.Evidence
	for _, ev := range a.evidence {
		if ev.Pos == EvidencePosAll || ev.Pos == viewer.Pos {
			out = append(out, ev)
		}
	}
	return out
}
