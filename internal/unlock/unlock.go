// Package unlock tracks attempts to replace a trial clip with its full variant.
//
// At most one Attempt is live at a time. It is created when the trigger
// fires on an idle machine and lives until it either plays or is abandoned.
// The machine is not safe for concurrent use; the engine loop owns it.
package unlock

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"hlshunter/internal/media"
)

// DefaultThreshold separates trial clips from full-length media.
const DefaultThreshold = 60 * time.Second

// State is the attempt lifecycle.
type State int

const (
	Idle State = iota
	Detecting
	Committing
	Playing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Committing:
		return "committing"
	case Playing:
		return "playing"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Attempt is one try at acquiring and playing a full-quality resource.
type Attempt struct {
	ID       string
	State    State
	URL      string // URL in flight or playing
	Tries    int    // commits made by this attempt
	Err      error  // last handoff failure
	Duration float64
}

// Commit is a URL the engine must hand off.
type Commit struct {
	AttemptID string
	Candidate media.Candidate
}

// Trigger decides whether the page is showing a trial clip.
type Trigger struct {
	Threshold time.Duration
}

// Fired reports whether any element has a finite duration under the
// threshold, or a trial-end marker is visible. Live and unknown durations
// never fire.
func (t Trigger) Fired(page media.PageState) bool {
	if page.MarkerVisible {
		return true
	}
	limit := t.Threshold
	if limit <= 0 {
		limit = DefaultThreshold
	}
	for _, el := range page.Elements {
		if el.Finite() && el.Duration < limit.Seconds() {
			return true
		}
	}
	return false
}

// Machine is the selection protocol state machine.
type Machine struct {
	Trigger Trigger

	// OnTransition, if set, observes every state change.
	OnTransition func(id string, from, to State)

	attempt *Attempt
}

// NewMachine returns an idle machine.
func NewMachine(threshold time.Duration) *Machine {
	return &Machine{Trigger: Trigger{Threshold: threshold}}
}

// State returns the current state; Idle when no attempt is live.
func (m *Machine) State() State {
	if m.attempt == nil {
		return Idle
	}
	return m.attempt.State
}

// Active reports whether an attempt is live.
func (m *Machine) Active() bool {
	return m.attempt != nil
}

// Attempt returns a copy of the live attempt.
func (m *Machine) Attempt() (Attempt, bool) {
	if m.attempt == nil {
		return Attempt{}, false
	}
	return *m.attempt, true
}

// Step runs the protocol for one tick. It returns a Commit when a URL must be
// handed off. ErrNoCandidate is returned when an attempt found nothing to
// commit; the attempt stays in Detecting.
func (m *Machine) Step(page media.PageState, set media.CandidateSet) (Commit, bool, error) {
	if m.attempt == nil {
		if !m.Trigger.Fired(page) {
			return Commit{}, false, nil
		}
		m.attempt = &Attempt{ID: uuid.NewString(), State: Idle}
		m.transition(Detecting)
	}

	switch m.attempt.State {
	case Committing, Playing:
		return Commit{}, false, nil
	case Failed:
		m.transition(Detecting)
	}

	c, ok := set.Pick()
	if !ok {
		return Commit{}, false, ErrNoCandidate
	}

	m.attempt.URL = c.URL
	m.attempt.Tries++
	m.transition(Committing)
	return Commit{AttemptID: m.attempt.ID, Candidate: c}, true, nil
}

// Started records a successful handoff. It returns false for a stale attempt.
func (m *Machine) Started(id string, s media.Started) bool {
	if !m.current(id) || m.attempt.State != Committing {
		return false
	}
	m.attempt.Duration = s.Duration
	m.attempt.Err = nil
	m.transition(Playing)
	return true
}

// Fail records a failed handoff. Recoverable failures leave the attempt in
// Failed so the next Step retries; an unsupported format ends it.
func (m *Machine) Fail(id string, err error) (Outcome, bool) {
	if !m.current(id) || m.attempt.State != Committing {
		return Retry, false
	}
	m.attempt.Err = err
	m.transition(Failed)

	outcome := Classify(err)
	if outcome == Abandon {
		m.Reset()
	}
	return outcome, true
}

// Reset ends the live attempt, if any.
func (m *Machine) Reset() {
	if m.attempt == nil {
		return
	}
	m.transition(Idle)
	m.attempt = nil
}

func (m *Machine) current(id string) bool {
	return m.attempt != nil && m.attempt.ID == id
}

func (m *Machine) transition(to State) {
	from := m.attempt.State
	m.attempt.State = to
	if m.OnTransition != nil && from != to {
		m.OnTransition(m.attempt.ID, from, to)
	}
}
