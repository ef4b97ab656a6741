package agent

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/notify"
	"github.com/rahul/billagent/internal/relevance"
	"github.com/rahul/billagent/internal/reminder"
)

var (
	ErrEmptyGoal         = errors.New("goal text is empty")
	ErrPlanAlreadySet    = errors.New("plan already set")
	ErrAlreadyClassified = errors.New("goal already classified")
)

// AppendLog is a grow-only sequence, safe for concurrent writers. There is no
// way to remove or replace an entry.
type AppendLog[T comparable] struct {
	mu      sync.RWMutex
	entries []T
}

func (l *AppendLog[T]) Append(v ...T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, v...)
}

func (l *AppendLog[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the log.
func (l *AppendLog[T]) Entries() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

func (l *AppendLog[T]) Contains(v T) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Contains(l.entries, v)
}

// Download is an attachment saved to disk for a retained item.
type Download struct {
	ItemID string
	Path   string
}

// RunState is the record threaded through every step of one run. It is owned
// by a single executor call and discarded afterwards.
type RunState struct {
	goalText  string
	Identity  string
	SessionID string
	Origin    notify.Channel

	mu         sync.RWMutex
	goal       Goal
	confidence float64
	params     Params
	classified bool
	plan       Plan
	planned    bool
	aborted    bool

	Completed AppendLog[Step]
	Errors    AppendLog[string]
	Tools     AppendLog[string]

	Items      []mail.Item
	Decisions  []relevance.Decision
	Downloaded []Download
	Documents  []ParsedDocument
	Records    []Record
	SavedIDs   []string
	Retrieved  []SearchHit
	WebResults []WebResult
	Reminders  []reminder.Reminder
	Skipped    int
	Response   string
}

// NewRunState starts a run for goalText on behalf of identity.
func NewRunState(goalText, identity string, origin notify.Channel) (*RunState, error) {
	if goalText == "" {
		return nil, ErrEmptyGoal
	}
	return &RunState{
		goalText:  goalText,
		Identity:  identity,
		SessionID: uuid.NewString(),
		Origin:    origin,
	}, nil
}

func (s *RunState) GoalText() string {
	return s.goalText
}

func (s *RunState) Goal() Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.goal
}

func (s *RunState) Confidence() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confidence
}

func (s *RunState) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Plan returns a copy of the plan, nil before planning.
func (s *RunState) Plan() Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.plan)
}

func (s *RunState) Aborted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aborted
}

func (s *RunState) setClassification(goal Goal, confidence float64, params Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classified {
		return ErrAlreadyClassified
	}
	s.goal = goal
	s.confidence = min(max(confidence, 0), 1)
	s.params = params
	s.classified = true
	return nil
}

func (s *RunState) setPlan(p Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.planned {
		return ErrPlanAlreadySet
	}
	s.plan = slices.Clone(p)
	s.planned = true
	return nil
}

func (s *RunState) addError(step Step, format string, args ...any) {
	s.Errors.Append(step.String() + ": " + fmt.Sprintf(format, args...))
}

func (s *RunState) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}
