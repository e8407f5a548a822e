// Package sniff discovers manifest URLs on a host page and deduces their
// unrestricted variants.
//
// One tick is Observe -> Build. Build is a pure function of its input: it
// filters, deduces and de-duplicates without memory across ticks.
package sniff

import (
	"context"
	"log/slog"
	"strings"

	"hlshunter/internal/media"
)

// DefaultManifestMarker identifies HLS playlists.
const DefaultManifestMarker = ".m3u8"

// Source is the read-only view of a host page.
type Source interface {
	// Resources returns the names in the page's passive resource log.
	// The log is append-only; implementations must not clear it.
	Resources(ctx context.Context) ([]string, error)

	// Elements returns the page's media-playback elements.
	Elements(ctx context.Context) ([]media.Element, error)
}

// Sniffer holds the static configuration of the pipeline.
type Sniffer struct {
	Marker string
	Filter *Filter
	Rules  *Ruleset
	Log    *slog.Logger
}

// New returns a Sniffer with the default marker, denylist and rules.
func New() *Sniffer {
	return &Sniffer{
		Marker: DefaultManifestMarker,
		Filter: NewFilter(DefaultExcludeKeywords),
		Rules:  MustCompileRules(DefaultRules),
		Log:    slog.Default(),
	}
}

// Observe collects raw manifest URLs from the resource log and media elements,
// in discovery order with duplicates collapsed. A failing source contributes
// nothing this tick.
func (s *Sniffer) Observe(ctx context.Context, src Source) []string {
	var raw []string
	seen := make(map[string]bool)
	add := func(u string) {
		if u == "" || seen[u] || !s.isManifest(u) || strings.HasPrefix(u, "blob:") {
			return
		}
		seen[u] = true
		raw = append(raw, u)
	}

	names, err := src.Resources(ctx)
	if err != nil {
		s.logger().Debug("reading resource log", "err", err)
	}
	for _, name := range names {
		add(name)
	}

	elements, err := src.Elements(ctx)
	if err != nil {
		s.logger().Debug("reading media elements", "err", err)
	}
	for _, el := range elements {
		add(el.Src)
		add(el.CurrentSrc)
		for _, u := range el.Sources {
			add(u)
		}
	}

	return raw
}

// Build turns raw URLs into a CandidateSet. Excluded URLs are dropped before
// deduction; each observed URL is followed by its deduced variant when that
// variant is new to this set, and otherwise points at it through Variant.
func (s *Sniffer) Build(raw []string) media.CandidateSet {
	set := media.CandidateSet{}
	seen := make(map[string]bool, len(raw)*2)

	for _, u := range raw {
		// A URL already in the set, possibly as another entry's deduction,
		// is not deduced again.
		if seen[u] || s.Filter.Excluded(u) {
			continue
		}
		seen[u] = true
		d := s.Rules.Deduce(u)
		if d.OK && seen[d.URL] {
			set = append(set, media.Candidate{URL: u, Origin: media.Observed, Variant: d.URL})
			continue
		}
		set = append(set, media.Candidate{URL: u, Origin: media.Observed})
		if !d.OK {
			continue
		}
		seen[d.URL] = true
		set = append(set, media.Candidate{
			URL:    d.URL,
			Origin: media.Deduced,
			Source: u,
			Rule:   d.Rule,
		})
	}

	return set
}

// Sniff runs one full tick against src.
func (s *Sniffer) Sniff(ctx context.Context, src Source) media.CandidateSet {
	return s.Build(s.Observe(ctx, src))
}

func (s *Sniffer) isManifest(u string) bool {
	marker := s.Marker
	if marker == "" {
		marker = DefaultManifestMarker
	}
	return strings.Contains(u, marker)
}

func (s *Sniffer) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
