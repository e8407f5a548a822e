package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"hlshunter/internal/media"
	"hlshunter/internal/sniff"
	"hlshunter/internal/unlock"
)

type fakeSource struct {
	mu        sync.Mutex
	resources []string
	elements  []media.Element
	marker    bool
	mutations chan struct{}
	closed    chan struct{}
}

func (f *fakeSource) Resources(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resources...), nil
}

func (f *fakeSource) Elements(ctx context.Context) ([]media.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.Element(nil), f.elements...), nil
}

func (f *fakeSource) MarkerVisible(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marker, nil
}

func (f *fakeSource) Mutations(ctx context.Context) (<-chan struct{}, error) {
	out := make(chan struct{})
	go func() {
		defer close(out)
		defer close(f.closed)
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.mutations:
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type fakeHandoff struct {
	mu    sync.Mutex
	calls []string
	errs  []error // returned in order; nil once exhausted
}

func (f *fakeHandoff) Attach(ctx context.Context, url string) (media.Started, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return media.Started{}, err
		}
	}
	return media.Started{URL: url, Duration: 5400}, nil
}

func (f *fakeHandoff) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSuppressor struct {
	mu    sync.Mutex
	count int
}

func (f *fakeSuppressor) Suppress(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func (f *fakeSuppressor) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func trialSource() *fakeSource {
	return &fakeSource{
		resources: []string{"https://x/a_0001.m3u8"},
		elements:  []media.Element{{CurrentSrc: "blob:https://x/1", Duration: 45}},
	}
}

// settle delivers the pending handoff result to the engine.
func settle(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case r := <-e.results:
		e.complete(context.Background(), r)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handoff result")
	}
}

func TestTickPublishesCandidates(t *testing.T) {
	var published []media.CandidateSet
	src := &fakeSource{resources: []string{"https://x/a_0001.m3u8"}}
	e := New(src, sniff.New(), Options{
		OnCandidates: func(s media.CandidateSet) { published = append(published, s) },
	})

	e.Tick(context.Background())
	e.Tick(context.Background())

	if len(published) != 1 {
		t.Fatalf("OnCandidates called %d times, want 1 for an unchanged set", len(published))
	}
	got := e.Candidates()
	if len(got) != 2 || got[1].URL != "https://x/a.m3u8" || got[1].Origin != media.Deduced {
		t.Errorf("Candidates() = %+v", got)
	}
}

func TestTickRebuildsFromScratch(t *testing.T) {
	src := &fakeSource{resources: []string{"https://x/a.m3u8"}}
	e := New(src, sniff.New(), Options{})

	e.Tick(context.Background())
	src.mu.Lock()
	src.resources = []string{"https://x/b.m3u8"}
	src.mu.Unlock()
	e.Tick(context.Background())

	got := e.Candidates()
	if len(got) != 1 || got[0].URL != "https://x/b.m3u8" {
		t.Errorf("Candidates() = %v, want only the current tick's URL", got.URLs())
	}
}

func TestTickAutoUnlock(t *testing.T) {
	h := &fakeHandoff{}
	sup := &fakeSuppressor{}
	var events []Event
	e := New(trialSource(), sniff.New(), Options{
		Handoff:    h,
		Suppressor: sup,
		OnEvent:    func(ev Event) { events = append(events, ev) },
	})

	e.Tick(context.Background())
	if e.State() != unlock.Committing {
		t.Fatalf("state = %v, want committing", e.State())
	}
	settle(t, e)

	if e.State() != unlock.Playing {
		t.Fatalf("state = %v, want playing", e.State())
	}
	if calls := h.Calls(); len(calls) != 1 || calls[0] != "https://x/a.m3u8" {
		t.Errorf("handoff calls = %v, want the deduced URL", calls)
	}
	if sup.Count() != 1 {
		t.Errorf("suppress count = %d, want 1 after start", sup.Count())
	}
	if len(events) != 2 || events[0].Kind != Committed || events[1].Kind != Started {
		t.Errorf("events = %+v", events)
	}
	if events[1].Duration != 5400 || events[1].Manual() {
		t.Errorf("started event = %+v", events[1])
	}

	// Playing: further ticks do not commit again but suppression continues.
	e.Tick(context.Background())
	e.suppress(context.Background())
	if len(h.Calls()) != 1 {
		t.Errorf("handoff called %d times, want 1", len(h.Calls()))
	}
	if sup.Count() != 2 {
		t.Errorf("suppress count = %d, want 2", sup.Count())
	}
}

func TestTickNoHandoffStaysIdle(t *testing.T) {
	e := New(trialSource(), sniff.New(), Options{})
	e.Tick(context.Background())
	if e.State() != unlock.Idle {
		t.Errorf("state = %v, want idle without an auto handoff", e.State())
	}
}

func TestTickLiveStreamNeverTriggers(t *testing.T) {
	h := &fakeHandoff{}
	src := &fakeSource{
		resources: []string{"https://x/live_0001.m3u8"},
		elements:  []media.Element{{Duration: math.Inf(1)}},
	}
	e := New(src, sniff.New(), Options{Handoff: h})

	for i := 0; i < 3; i++ {
		e.Tick(context.Background())
	}
	if e.State() != unlock.Idle || len(h.Calls()) != 0 {
		t.Errorf("state = %v, calls = %v, want idle and no handoff", e.State(), h.Calls())
	}
}

func TestTickMarkerTriggers(t *testing.T) {
	h := &fakeHandoff{}
	src := &fakeSource{resources: []string{"https://x/v_0001.m3u8"}, marker: true}
	e := New(src, sniff.New(), Options{Handoff: h})

	e.Tick(context.Background())
	settle(t, e)
	if e.State() != unlock.Playing {
		t.Errorf("state = %v, want playing", e.State())
	}
}

func TestTickRetriesAfterEmptySet(t *testing.T) {
	h := &fakeHandoff{}
	src := &fakeSource{elements: []media.Element{{Duration: 45}}}
	e := New(src, sniff.New(), Options{Handoff: h})

	e.Tick(context.Background())
	if e.State() != unlock.Detecting {
		t.Fatalf("state = %v, want detecting", e.State())
	}

	src.mu.Lock()
	src.resources = []string{"https://x/a_trial.m3u8"}
	src.mu.Unlock()
	e.Tick(context.Background())
	settle(t, e)

	if calls := h.Calls(); len(calls) != 1 || calls[0] != "https://x/a.m3u8" {
		t.Errorf("handoff calls = %v", calls)
	}
}

func TestTickDecoderFailureRetries(t *testing.T) {
	h := &fakeHandoff{errs: []error{unlock.ErrDecoderUnavailable}}
	e := New(trialSource(), sniff.New(), Options{Handoff: h})

	e.Tick(context.Background())
	settle(t, e)
	if e.State() != unlock.Failed {
		t.Fatalf("state = %v, want failed", e.State())
	}

	e.Tick(context.Background())
	settle(t, e)
	if e.State() != unlock.Playing {
		t.Fatalf("state = %v, want playing after retry", e.State())
	}
	if len(h.Calls()) != 2 {
		t.Errorf("handoff calls = %d, want 2", len(h.Calls()))
	}
}

func TestTickUnsupportedFormatAbandons(t *testing.T) {
	h := &fakeHandoff{errs: []error{unlock.ErrUnsupportedFormat}}
	e := New(trialSource(), sniff.New(), Options{Handoff: h})

	e.Tick(context.Background())
	settle(t, e)
	if e.State() != unlock.Idle {
		t.Fatalf("state = %v, want idle", e.State())
	}

	e.Tick(context.Background())
	if e.State() != unlock.Committing {
		t.Errorf("state = %v, want a new attempt committing", e.State())
	}
	settle(t, e)
}

func TestSuppressOnlyWhileActive(t *testing.T) {
	sup := &fakeSuppressor{}
	e := New(&fakeSource{}, sniff.New(), Options{Handoff: &fakeHandoff{}, Suppressor: sup})

	e.suppress(context.Background())
	if sup.Count() != 0 {
		t.Errorf("suppress count = %d, want 0 while idle", sup.Count())
	}
}

func TestSuppressAlways(t *testing.T) {
	sup := &fakeSuppressor{}
	e := New(&fakeSource{}, sniff.New(), Options{Suppressor: sup, AlwaysSuppress: true})

	e.suppress(context.Background())
	if sup.Count() != 1 {
		t.Errorf("suppress count = %d, want 1 without an attempt", sup.Count())
	}
}

// loadPage swaps the fake page for one playing another trial clip.
func loadPage(src *fakeSource, resource string, duration float64) {
	src.mu.Lock()
	defer src.mu.Unlock()
	src.resources = []string{resource}
	src.elements = []media.Element{{CurrentSrc: "blob:" + resource, Duration: duration}}
}

func TestNavigateStartsOver(t *testing.T) {
	h := &fakeHandoff{}
	var published []media.CandidateSet
	src := trialSource()
	e := New(src, sniff.New(), Options{
		Handoff:      h,
		OnCandidates: func(s media.CandidateSet) { published = append(published, s) },
	})

	e.Tick(context.Background())
	settle(t, e)
	if e.State() != unlock.Playing {
		t.Fatalf("state = %v, want playing", e.State())
	}

	loadPage(src, "https://x/b_0001.m3u8", 30)
	e.Navigate(context.Background(), "https://x/page/b")
	if e.State() != unlock.Committing {
		t.Fatalf("state = %v, want the new page's trial committing", e.State())
	}
	settle(t, e)

	if calls := h.Calls(); len(calls) != 2 || calls[1] != "https://x/b.m3u8" {
		t.Errorf("handoff calls = %v, want the second page's deduced URL", calls)
	}
	if got := e.Candidates().URLs(); len(got) != 2 || got[0] != "https://x/b_0001.m3u8" {
		t.Errorf("Candidates() = %v, want only the new page's entries", got)
	}
	// Old set, cleared set, new set.
	if len(published) != 3 || len(published[1]) != 0 {
		t.Errorf("published = %v", published)
	}
}

func TestNavigateIgnoresStaleResult(t *testing.T) {
	h := &fakeHandoff{}
	src := trialSource()
	e := New(src, sniff.New(), Options{Handoff: h})

	e.Tick(context.Background())
	r := <-e.results

	loadPage(src, "https://x/movie/index.m3u8", 5400)
	e.Navigate(context.Background(), "https://x/page/full")
	e.complete(context.Background(), r)
	if e.State() != unlock.Idle {
		t.Errorf("state = %v, want idle; the old page's handoff must not count", e.State())
	}
}

// navSource reports page loads sent on loads.
type navSource struct {
	*fakeSource
	loads chan string
}

func (n *navSource) Navigations(ctx context.Context) (<-chan string, error) {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case url := <-n.loads:
				select {
				case out <- url:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func TestRunNavigation(t *testing.T) {
	h := &fakeHandoff{}
	page := trialSource()
	page.mutations = make(chan struct{})
	page.closed = make(chan struct{})
	src := &navSource{fakeSource: page, loads: make(chan string)}
	events := make(chan Event, 8)
	e := New(src, sniff.New(), Options{
		PollInterval: time.Hour,
		Handoff:      h,
		OnEvent:      func(ev Event) { events <- ev },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	wait := func(kind EventKind, url string) {
		t.Helper()
		for {
			select {
			case ev := <-events:
				if ev.Kind == kind && ev.URL == url {
					return
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for %v %s", kind, url)
			}
		}
	}
	wait(Started, "https://x/a.m3u8")

	loadPage(page, "https://x/b_0001.m3u8", 30)
	src.loads <- "https://x/page/b"
	wait(Started, "https://x/b.m3u8")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestSelectWithoutManualHandoff(t *testing.T) {
	e := New(&fakeSource{}, sniff.New(), Options{})
	if e.Select("https://x/a.m3u8") {
		t.Error("Select() should fail without a manual handoff")
	}
}

func TestRunManualSelectionAndTeardown(t *testing.T) {
	manual := &fakeHandoff{errs: []error{errors.New("player exited")}}
	src := &fakeSource{
		resources: []string{"https://x/a.m3u8"},
		mutations: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	events := make(chan Event, 4)
	e := New(src, sniff.New(), Options{
		PollInterval: 10 * time.Millisecond,
		Manual:       manual,
		OnEvent:      func(ev Event) { events <- ev },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	src.mutations <- struct{}{}
	if !e.Select("https://x/a.m3u8") {
		t.Fatal("Select() rejected")
	}

	var got []EventKind
	for len(got) < 2 {
		select {
		case ev := <-events:
			if !ev.Manual() {
				t.Errorf("event %+v should be manual", ev)
			}
			got = append(got, ev.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for manual events")
		}
	}
	if got[0] != Committed || got[1] != Failed {
		t.Errorf("events = %v, want committed then failed", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	select {
	case <-src.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("mutation subscription not released")
	}
}
