// Package target turns typed command arguments into sets of connected
// sessions.
package target

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/NicolasHaas/gavel/pkg/model"
)

// Kind selects how a predicate value is matched.
type Kind int

const (
	ByID       Kind = iota // exact session ID
	ByIPID                 // exact IPID
	ByCharName             // case-insensitive substring of the character name
	ByOOCName              // case-insensitive substring of the OOC name
	ByShowname             // case-insensitive substring of the showname
	ByAFK                  // sessions flagged AFK; value ignored
)

func (k Kind) String() string {
	switch k {
	case ByID:
		return "id"
	case ByIPID:
		return "ipid"
	case ByCharName:
		return "char_name"
	case ByOOCName:
		return "ooc_name"
	case ByShowname:
		return "showname"
	case ByAFK:
		return "afk"
	default:
		return "unknown"
	}
}

// Wildcard tokens interpreted by callers before resolving.
const (
	WildcardArea   = "*"
	WildcardServer = "!"
	KeywordAFK     = "afk"
)

var ErrNotNumeric = errors.New("target: value is not a number")

// Predicate is a tagged query. The caller decides the kind; the resolver never
// guesses whether a string is an ID or a name.
type Predicate struct {
	Kind  Kind
	Value string
}

// ID builds a session ID predicate.
func ID(v string) Predicate { return Predicate{Kind: ByID, Value: v} }

// IPID builds an IPID predicate.
func IPID(v string) Predicate { return Predicate{Kind: ByIPID, Value: v} }

// CharName builds a character name predicate.
func CharName(v string) Predicate { return Predicate{Kind: ByCharName, Value: v} }

// OOCName builds an OOC name predicate.
func OOCName(v string) Predicate { return Predicate{Kind: ByOOCName, Value: v} }

// SessionSource provides a consistent snapshot of connected sessions.
type SessionSource interface {
	Sessions() []model.Session
}

// SourceFunc adapts a snapshot function to SessionSource.
type SourceFunc func() []model.Session

func (f SourceFunc) Sessions() []model.Session { return f() }

// Resolver matches predicates against a session source.
type Resolver struct {
	source SessionSource
}

// New creates a Resolver over source.
func New(source SessionSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the sessions matching pred, ordered by session ID. An empty
// result is not an error. ID and IPID predicates fail with
// model.ErrInvalidArgument when the value is not an integer.
func (r *Resolver) Resolve(requester model.Session, pred Predicate, sameArea bool) ([]model.Session, error) {
	match, err := r.matcher(pred)
	if err != nil {
		return nil, err
	}
	var out []model.Session
	for _, s := range r.pool(requester, sameArea) {
		if match(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// AreaOthers returns everyone in the requester's area except the requester,
// skipping sessions for which skip returns true. skip may be nil.
func (r *Resolver) AreaOthers(requester model.Session, skip func(model.Session) bool) []model.Session {
	return r.others(requester, true, skip)
}

// ServerOthers returns every session on the server except the requester
// and those skip reports true for. A nil skip keeps everyone.
func (r *Resolver) ServerOthers(requester model.Session, skip func(model.Session) bool) []model.Session {
	return r.others(requester, false, skip)
}

func (r *Resolver) others(requester model.Session, sameArea bool, skip func(model.Session) bool) []model.Session {
	var out []model.Session
	for _, s := range r.pool(requester, sameArea) {
		if s.ID == requester.ID {
			continue
		}
		if skip != nil && skip(s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// First tries each predicate in order and returns the first non-empty result.
// Numeric predicates whose value is not a number are skipped.
func (r *Resolver) First(requester model.Session, sameArea bool, preds ...Predicate) []model.Session {
	for _, pred := range preds {
		found, err := r.Resolve(requester, pred, sameArea)
		if err != nil {
			continue
		}
		if len(found) > 0 {
			return found
		}
	}
	return nil
}

// Multiclients returns every session sharing the IPID or the HDID. An empty
// HDID matches nothing.
func (r *Resolver) Multiclients(ipid int64, hdid string) []model.Session {
	var out []model.Session
	for _, s := range r.snapshot() {
		if s.IPID == ipid || (hdid != "" && s.HDID == hdid) {
			out = append(out, s)
		}
	}
	return out
}

// Whois returns the union of IPID, character name, showname and OOC name
// matches for query across the whole server.
func (r *Resolver) Whois(query string) []model.Session {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	ipid, numErr := strconv.ParseInt(query, 10, 64)
	needle := fold(query)
	var out []model.Session
	for _, s := range r.snapshot() {
		switch {
		case numErr == nil && s.IPID == ipid,
			contains(s.CharName, needle),
			contains(s.Showname, needle),
			contains(s.Name, needle):
			out = append(out, s)
		}
	}
	return out
}

func (r *Resolver) matcher(pred Predicate) (func(model.Session) bool, error) {
	switch pred.Kind {
	case ByID:
		id, err := parseInt(pred)
		if err != nil {
			return nil, err
		}
		return func(s model.Session) bool { return int64(s.ID) == id }, nil
	case ByIPID:
		ipid, err := parseInt(pred)
		if err != nil {
			return nil, err
		}
		return func(s model.Session) bool { return s.IPID == ipid }, nil
	case ByCharName, ByOOCName, ByShowname:
		needle := fold(strings.TrimSpace(pred.Value))
		if needle == "" {
			return func(model.Session) bool { return false }, nil
		}
		field := pred.Kind
		return func(s model.Session) bool {
			switch field {
			case ByCharName:
				return contains(s.CharName, needle)
			case ByOOCName:
				return contains(s.Name, needle)
			default:
				return contains(s.Showname, needle)
			}
		}, nil
	case ByAFK:
		return func(s model.Session) bool { return s.AFK }, nil
	default:
		return nil, fmt.Errorf("%w: unknown predicate kind %d", model.ErrInvalidArgument, pred.Kind)
	}
}

func contains(haystack, foldedNeedle string) bool {
	if haystack == "" || foldedNeedle == "" {
		return false
	}
	return strings.Contains(fold(haystack), foldedNeedle)
}

// fold applies Unicode case folding. Casers are stateful, so each call gets
// its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

func (r *Resolver) pool(requester model.Session, sameArea bool) []model.Session {
	all := r.snapshot()
	if !sameArea {
		return all
	}
	var out []model.Session
	for _, s := range all {
		if s.AreaID == requester.AreaID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Resolver) snapshot() []model.Session {
	all := slices.Clone(r.source.Sessions())
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func parseInt(pred Predicate) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(pred.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %w", model.ErrInvalidArgument, pred.Kind, pred.Value, ErrNotNumeric)
	}
	return v, nil
}

// IsNumeric reports whether v parses as a base-10 integer.
func IsNumeric(v string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return err == nil
}
