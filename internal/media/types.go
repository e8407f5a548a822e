// Package media defines shared types for the hlshunter application.
package media

import (
	"fmt"
	"math"
)

// Origin records where a candidate URL came from.
type Origin int

const (
	Observed Origin = iota
	Deduced
)

func (o Origin) String() string {
	switch o {
	case Observed:
		return "original"
	case Deduced:
		return "deduced"
	default:
		return "unknown"
	}
}

// MarshalText renders the origin the way the display boundary tags it.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses the display tag back into an origin.
func (o *Origin) UnmarshalText(text []byte) error {
	switch string(text) {
	case "original":
		*o = Observed
	case "deduced":
		*o = Deduced
	default:
		return fmt.Errorf("unknown candidate type %q", text)
	}
	return nil
}

// Candidate is a discovered or deduced manifest URL.
type Candidate struct {
	URL    string `json:"url"`
	Origin Origin `json:"type"`
	Source string `json:"source,omitempty"` // observed URL a deduced entry came from
	Rule   string `json:"rule,omitempty"`   // rule that produced a deduced entry

	// Variant is set on an observed entry whose deduction was already in the
	// set, as an earlier observed URL or another entry's deduction.
	Variant string `json:"variant,omitempty"`
}

// CandidateSet is the de-duplicated, insertion-ordered result of one tick.
// Each observed entry is immediately followed by its deduced sibling, if any.
type CandidateSet []Candidate

// Pick returns the preferred candidate: the most recently observed entry,
// replaced by its deduced sibling or by the existing entry for its Variant.
func (s CandidateSet) Pick() (Candidate, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Origin != Observed {
			continue
		}
		if i+1 < len(s) && s[i+1].Origin == Deduced && s[i+1].Source == s[i].URL {
			return s[i+1], true
		}
		if c, ok := s.find(s[i].Variant); ok {
			return c, true
		}
		return s[i], true
	}
	// A set holding only deduced entries cannot come out of Build, but a
	// caller-assembled one still gets its freshest entry.
	if len(s) > 0 {
		return s[len(s)-1], true
	}
	return Candidate{}, false
}

func (s CandidateSet) find(url string) (Candidate, bool) {
	if url == "" {
		return Candidate{}, false
	}
	for _, c := range s {
		if c.URL == url {
			return c, true
		}
	}
	return Candidate{}, false
}

// URLs returns the candidate URLs in order.
func (s CandidateSet) URLs() []string {
	urls := make([]string, len(s))
	for i, c := range s {
		urls[i] = c.URL
	}
	return urls
}

// Equal reports whether two sets hold the same entries in the same order.
func (s CandidateSet) Equal(other CandidateSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Element is a media-playback element as read from the host page.
type Element struct {
	Src        string   // src attribute
	CurrentSrc string   // resolved active source
	Sources    []string // child <source> declarations
	Duration   float64  // seconds; NaN when unknown, +Inf for live streams
}

// Finite reports whether the element has a measured, finite duration.
func (e Element) Finite() bool {
	return !math.IsNaN(e.Duration) && !math.IsInf(e.Duration, 0) && e.Duration > 0
}

// PageState is what the unlock trigger evaluates each tick.
type PageState struct {
	Elements      []Element
	MarkerVisible bool // a trial-end marker text is visible on the page
}

// Started is the handoff's success signal.
type Started struct {
	URL      string
	Duration float64 // measured duration in seconds, for diagnostics
}
