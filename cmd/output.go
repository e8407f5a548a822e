package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"hlshunter/internal/engine"
	"hlshunter/internal/media"
	"hlshunter/internal/player"
)

// printer writes engine updates as lines or JSON records. It is only
// called from the engine loop.
type printer struct {
	w    io.Writer
	json bool
	enc  *json.Encoder
	seen map[string]bool
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{w: w, json: asJSON, enc: json.NewEncoder(w), seen: make(map[string]bool)}
}

type candidatesRecord struct {
	Candidates media.CandidateSet `json:"candidates"`
}

type eventRecord struct {
	Event    string   `json:"event"`
	Attempt  string   `json:"attempt,omitempty"`
	URL      string   `json:"url"`
	Duration *float64 `json:"duration,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// candidates prints the whole set as JSON, or only newly seen URLs as lines.
// An empty set starts a new page, so its URLs are printed again.
func (p *printer) candidates(set media.CandidateSet) {
	if p.json {
		p.encode(candidatesRecord{Candidates: set})
		return
	}
	if len(set) == 0 {
		p.seen = make(map[string]bool)
	}
	for _, c := range set {
		if p.seen[c.URL] {
			continue
		}
		p.seen[c.URL] = true
		fmt.Fprintln(p.w, formatCandidate(c))
	}
}

func (p *printer) event(ev engine.Event) {
	if p.json {
		rec := eventRecord{Event: ev.Kind.String(), Attempt: ev.AttemptID, URL: ev.URL, Duration: finite(ev.Duration)}
		if ev.Err != nil {
			rec.Error = ev.Err.Error()
		}
		p.encode(rec)
		return
	}
	switch ev.Kind {
	case engine.Started:
		fmt.Fprintf(p.w, "%-9s %s (%s)\n", ev.Kind, ev.URL, player.FormatDuration(ev.Duration))
	case engine.Failed:
		fmt.Fprintf(p.w, "%-9s %s: %v\n", ev.Kind, ev.URL, ev.Err)
	default:
		fmt.Fprintf(p.w, "%-9s %s\n", ev.Kind, ev.URL)
	}
}

func (p *printer) encode(v any) {
	if err := p.enc.Encode(v); err != nil {
		logger.Debug("writing output", "err", err)
	}
}

func formatCandidate(c media.Candidate) string {
	if c.Origin == media.Deduced {
		return fmt.Sprintf("%-9s %s  (%s)", c.Origin, c.URL, c.Rule)
	}
	return fmt.Sprintf("%-9s %s", c.Origin, c.URL)
}

// finite drops durations JSON can't carry.
func finite(d float64) *float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return nil
	}
	return &d
}
