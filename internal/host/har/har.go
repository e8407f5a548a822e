// Package har reads a page snapshot from disk: a HAR capture as the
// resource log and, optionally, the saved HTML as the DOM.
//
// The HAR file is re-read on every call, so a capture that a browser
// extension keeps appending to behaves like a live resource log.
package har

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/grafov/m3u8"

	"hlshunter/internal/media"
)

// File is the subset of the HAR 1.2 format the snapshot needs.
type File struct {
	Log struct {
		Pages []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"pages"`
		Entries []Entry `json:"entries"`
	} `json:"log"`
}

// Entry is one request/response pair.
type Entry struct {
	Request struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"request"`
	Response struct {
		Status  int `json:"status"`
		Content struct {
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
			Encoding string `json:"encoding"`
		} `json:"content"`
	} `json:"response"`
}

// Body returns the decoded response body, if the capture recorded one.
func (e Entry) Body() (string, bool) {
	text := e.Response.Content.Text
	if text == "" {
		return "", false
	}
	if e.Response.Content.Encoding == "base64" {
		data, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
	return text, true
}

// Snapshot is a sniff.Source backed by files.
type Snapshot struct {
	HARPath  string
	HTMLPath string   // optional
	BaseURL  string   // resolves relative element URLs; defaults to the HAR page title
	Markers  []string // trial-end marker texts looked for in the HTML
}

// Load parses the HAR file.
func (s *Snapshot) Load() (*File, error) {
	data, err := os.ReadFile(s.HARPath)
	if err != nil {
		return nil, fmt.Errorf("reading HAR: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing HAR %s: %w", s.HARPath, err)
	}
	return &f, nil
}

// Resources returns request URLs in capture order.
func (s *Snapshot) Resources(ctx context.Context) ([]string, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.Log.Entries))
	for _, e := range f.Log.Entries {
		names = append(names, e.Request.URL)
	}
	return names, nil
}

// Elements parses <video> elements from the saved HTML. Durations are
// measured from manifests recorded in the HAR.
func (s *Snapshot) Elements(ctx context.Context) ([]media.Element, error) {
	if s.HTMLPath == "" {
		return nil, nil
	}
	doc, err := s.document()
	if err != nil {
		return nil, err
	}

	var bodies map[string]string
	base := s.BaseURL
	if f, err := s.Load(); err == nil {
		bodies = manifestBodies(f)
		if base == "" && len(f.Log.Pages) > 0 {
			base = f.Log.Pages[0].Title
		}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		base = resolve(base, href)
	}

	elements := parseElements(doc, base)
	for i := range elements {
		elements[i].Duration = measure(elements[i], bodies)
	}
	return elements, nil
}

// MarkerVisible reports whether any trial marker text appears in the HTML body.
func (s *Snapshot) MarkerVisible(ctx context.Context) (bool, error) {
	if s.HTMLPath == "" || len(s.Markers) == 0 {
		return false, nil
	}
	doc, err := s.document()
	if err != nil {
		return false, err
	}
	return markerVisible(doc, s.Markers), nil
}

func (s *Snapshot) document() (*goquery.Document, error) {
	f, err := os.Open(s.HTMLPath)
	if err != nil {
		return nil, fmt.Errorf("opening HTML: %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML %s: %w", s.HTMLPath, err)
	}
	return doc, nil
}

// parseElements extracts media elements. Uses DOM parsing rather than
// pattern matching on raw HTML so attribute quoting can't confuse it.
func parseElements(doc *goquery.Document, base string) []media.Element {
	var elements []media.Element

	doc.Find("video").Each(func(_ int, v *goquery.Selection) {
		el := media.Element{Duration: math.NaN()}
		if src, ok := v.Attr("src"); ok {
			el.Src = resolve(base, strings.TrimSpace(src))
		}
		v.Find("source[src]").Each(func(_ int, s *goquery.Selection) {
			src := strings.TrimSpace(s.AttrOr("src", ""))
			if src != "" {
				el.Sources = append(el.Sources, resolve(base, src))
			}
		})
		// A saved page has no currentSrc; the first declared source stands in.
		el.CurrentSrc = el.Src
		if el.CurrentSrc == "" && len(el.Sources) > 0 {
			el.CurrentSrc = el.Sources[0]
		}
		elements = append(elements, el)
	})

	return elements
}

// markerVisible looks for marker texts outside elements hidden inline.
func markerVisible(doc *goquery.Document, markers []string) bool {
	found := false
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 || hidden(s) {
			return true
		}
		text := strings.TrimSpace(s.Text())
		for _, m := range markers {
			if m != "" && strings.Contains(text, m) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func hidden(s *goquery.Selection) bool {
	for n := s; n.Length() > 0; n = n.Parent() {
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
		if _, ok := n.Attr("hidden"); ok {
			return true
		}
	}
	return false
}

func resolve(base, ref string) string {
	if base == "" || ref == "" || strings.HasPrefix(ref, "blob:") {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func manifestBodies(f *File) map[string]string {
	bodies := make(map[string]string)
	for _, e := range f.Log.Entries {
		if body, ok := e.Body(); ok && strings.HasPrefix(strings.TrimSpace(body), "#EXTM3U") {
			bodies[e.Request.URL] = body
		}
	}
	return bodies
}

// measure returns the element's duration from a recorded manifest: the sum
// of segment durations for a closed playlist, +Inf for a live one, NaN when
// nothing was recorded.
func measure(el media.Element, bodies map[string]string) float64 {
	for _, src := range append([]string{el.CurrentSrc, el.Src}, el.Sources...) {
		if src == "" {
			continue
		}
		if d, ok := playlistDuration(src, bodies, 0); ok {
			return d
		}
	}
	return math.NaN()
}

func playlistDuration(src string, bodies map[string]string, depth int) (float64, bool) {
	body, ok := bodies[src]
	if !ok || depth > 2 {
		return 0, false
	}
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil {
		return 0, false
	}

	switch listType {
	case m3u8.MEDIA:
		mp := p.(*m3u8.MediaPlaylist)
		if !mp.Closed {
			return math.Inf(1), true
		}
		var total float64
		for _, seg := range mp.Segments {
			if seg != nil {
				total += seg.Duration
			}
		}
		return total, true
	case m3u8.MASTER:
		for _, v := range p.(*m3u8.MasterPlaylist).Variants {
			if v == nil || v.URI == "" {
				continue
			}
			if d, ok := playlistDuration(resolve(src, v.URI), bodies, depth+1); ok {
				return d, true
			}
		}
	}
	return 0, false
}
