// Package testimony keeps the per-area transcript of recorded in-character
// statements and drives the recording and examination modes.
//
// Index 0 of a transcript is a sentinel standing in for the opening line,
// which is never recorded. It is never listed, amended or removed.
package testimony

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/NicolasHaas/gavel/pkg/model"
)

// Mode is the transcript's current activity. Recording and Examining are
// mutually exclusive.
type Mode int

const (
	Idle Mode = iota
	Recording
	Examining
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Examining:
		return "examining"
	default:
		return "unknown"
	}
}

const MinTitleLength = 3

var (
	ErrBusy           = fmt.Errorf("%w: a testimony or examination is already running", model.ErrInvalidArgument)
	ErrTitleTooShort  = fmt.Errorf("%w: title must contain at least %d characters", model.ErrInvalidArgument, MinTitleLength)
	ErrNotRecording   = fmt.Errorf("%w: no testimony is being recorded", model.ErrInvalidArgument)
	ErrNotExamining   = fmt.Errorf("%w: no examination is running", model.ErrInvalidArgument)
	ErrNoTestimony    = fmt.Errorf("%w: there is no testimony in this area", model.ErrNotFound)
	ErrNothingToClear = fmt.Errorf("%w: nothing to clear", model.ErrNoChange)
	ErrIndex          = fmt.Errorf("%w: statement index out of range", model.ErrInvalidArgument)
	ErrFirstStatement = fmt.Errorf("%w: this is the first statement", model.ErrNoChange)
)

// Entry is one listed statement numbered from 1.
type Entry struct {
	Index     int
	Statement model.Statement
}

// Engine is a single area's transcript. It is safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	title      string
	statements []model.Statement
	mode       Mode
	cursor     int
}

// New returns an idle engine with no transcript.
func New() *Engine {
	return &Engine{}
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Title returns the transcript title.
func (e *Engine) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

// Len returns the number of real statements.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realLen()
}

func (e *Engine) realLen() int {
	if len(e.statements) == 0 {
		return 0
	}
	return len(e.statements) - 1
}

// Start begins recording a fresh transcript.
func (e *Engine) Start(title string) error {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) < MinTitleLength {
		return ErrTitleTooShort
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != Idle {
		return ErrBusy
	}
	e.title = title
	e.statements = []model.Statement{{}}
	e.cursor = 0
	e.mode = Recording
	return nil
}

// Record appends st while recording and returns its index.
func (e *Engine) Record(st model.Statement) (int, error) {
	if err := st.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", model.ErrInvalidArgument, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != Recording {
		return 0, ErrNotRecording
	}
	e.seed()
	e.statements = append(e.statements, st)
	return len(e.statements) - 1, nil
}

// End stops recording or examining and returns the mode that ended.
func (e *Engine) End() (Mode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == Idle {
		return Idle, fmt.Errorf("%w: no testimony or examination is running", model.ErrNoChange)
	}
	prev := e.mode
	e.mode = Idle
	e.cursor = 0
	return prev, nil
}

// Continue resumes recording onto the existing transcript.
func (e *Engine) Continue() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.realLen() == 0:
		return ErrNoTestimony
	case e.mode == Examining:
		return fmt.Errorf("%w: cannot continue testimony while in examination", model.ErrInvalidArgument)
	case e.mode == Recording:
		return fmt.Errorf("%w: testimony is already being recorded", model.ErrNoChange)
	}
	e.mode = Recording
	return nil
}

// StartExamination switches to replay mode with the cursor on the sentinel.
func (e *Engine) StartExamination() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != Idle {
		return ErrBusy
	}
	if e.realLen() == 0 {
		return ErrNoTestimony
	}
	e.mode = Examining
	e.cursor = 0
	return nil
}

// Next advances the examination cursor, looping back to the first statement
// after the last. looped reports the wrap.
func (e *Engine) Next() (idx int, st model.Statement, looped bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.examining(); err != nil {
		return 0, model.Statement{}, false, err
	}
	e.cursor++
	if e.cursor > e.realLen() {
		e.cursor = 1
		looped = true
	}
	return e.cursor, e.statements[e.cursor], looped, nil
}

// Previous moves the examination cursor back one statement.
func (e *Engine) Previous() (int, model.Statement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.examining(); err != nil {
		return 0, model.Statement{}, err
	}
	if e.cursor <= 1 {
		return 0, model.Statement{}, ErrFirstStatement
	}
	e.cursor--
	return e.cursor, e.statements[e.cursor], nil
}

// Goto moves the examination cursor to statement n.
func (e *Engine) Goto(n int) (model.Statement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.examining(); err != nil {
		return model.Statement{}, err
	}
	if !e.addressable(n) {
		return model.Statement{}, ErrIndex
	}
	e.cursor = n
	return e.statements[n], nil
}

func (e *Engine) examining() error {
	if e.mode != Examining {
		return ErrNotExamining
	}
	if e.realLen() == 0 {
		return ErrNoTestimony
	}
	return nil
}

// Remove deletes statement i, shifting later statements left.
func (e *Engine) Remove(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.addressable(i) {
		return ErrIndex
	}
	e.statements = append(e.statements[:i], e.statements[i+1:]...)
	if e.cursor >= len(e.statements) {
		e.cursor = len(e.statements) - 1
	}
	return nil
}

// Clear empties the transcript and resets the title. A transcript holding at
// most the sentinel has nothing to clear.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.statements) <= 1 {
		return ErrNothingToClear
	}
	e.statements = nil
	e.title = ""
	e.cursor = 0
	return nil
}

// Amend replaces the spoken text of statement i, keeping everything else.
func (e *Engine) Amend(i int, text string) error {
	st := model.Statement{Text: text}
	if err := st.Validate(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidArgument, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.addressable(i) {
		return ErrIndex
	}
	e.statements[i].Text = text
	return nil
}

// Insert adds a statement right after index after and returns its index. The
// new statement copies all attributes but the text from the last statement.
func (e *Engine) Insert(after int, text string) (int, error) {
	st := model.Statement{Text: text}
	if err := st.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", model.ErrInvalidArgument, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seed()
	if after < 0 || after >= len(e.statements) {
		return 0, ErrIndex
	}
	if last := len(e.statements) - 1; last > 0 {
		st = e.statements[last]
		st.Text = text
	}
	at := after + 1
	e.statements = append(e.statements, model.Statement{})
	copy(e.statements[at+1:], e.statements[at:])
	e.statements[at] = st
	return at, nil
}

// Listing returns the real statements numbered from 1.
func (e *Engine) Listing() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.realLen() == 0 {
		return nil
	}
	out := make([]Entry, 0, e.realLen())
	for i, st := range e.statements[1:] {
		out = append(out, Entry{Index: i + 1, Statement: st})
	}
	return out
}

// seed restores the sentinel on a cleared transcript.
func (e *Engine) seed() {
	if len(e.statements) == 0 {
		e.statements = []model.Statement{{}}
	}
}

func (e *Engine) addressable(i int) bool {
	return i >= 1 && i < len(e.statements)
}

// Step is the statement an examination moved to.
type Step struct {
	Index     int
	Statement model.Statement
	Looped    bool
}

// Navigate interprets an examination token: ">" moves forward, "<" moves
// back and "=N" jumps to statement N. ok is false when text is not a token.
func (e *Engine) Navigate(text string) (step Step, ok bool, err error) {
	text = strings.TrimSpace(text)
	switch {
	case text == ">":
		step.Index, step.Statement, step.Looped, err = e.Next()
	case text == "<":
		step.Index, step.Statement, err = e.Previous()
	case strings.HasPrefix(text, "=") && len(text) > 1:
		n, convErr := strconv.Atoi(strings.TrimSpace(text[1:]))
		if convErr != nil {
			return Step{}, false, nil
		}
		step.Index = n
		step.Statement, err = e.Goto(n)
	default:
		return Step{}, false, nil
	}
	if err != nil {
		return Step{}, true, err
	}
	return step, true, nil
}
