// Package engine runs the sniff-and-unlock loop against a host page.
//
// Everything that touches engine state happens on the goroutine running
// Run: poll ticks, mutation-triggered ticks, page loads, suppression ticks
// and handoff completions are serialized by a single select. Handoffs run on
// their own goroutines and report back over a channel.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hlshunter/internal/media"
	"hlshunter/internal/sniff"
	"hlshunter/internal/unlock"
)

// Default intervals.
const (
	DefaultPollInterval     = time.Second
	DefaultSuppressInterval = time.Second
)

// Handoff attaches a committed URL to a playback surface. It returns once
// playback has started or failed.
type Handoff interface {
	Attach(ctx context.Context, url string) (media.Started, error)
}

// Suppressor dismisses overlays the host page puts over the player.
type Suppressor interface {
	Suppress(ctx context.Context) error
}

// Notifier is implemented by sources that report page mutations. The
// channel is closed when ctx is done.
type Notifier interface {
	Mutations(ctx context.Context) (<-chan struct{}, error)
}

// Navigator is implemented by sources that report top-level page loads. The
// channel carries the new page's URL and is closed when ctx is done.
type Navigator interface {
	Navigations(ctx context.Context) (<-chan string, error)
}

// MarkerSource is implemented by sources that can tell whether a trial-end
// marker is visible on the page.
type MarkerSource interface {
	MarkerVisible(ctx context.Context) (bool, error)
}

// Options configures an Engine. Zero intervals use the defaults.
type Options struct {
	PollInterval     time.Duration
	SuppressInterval time.Duration
	Threshold        time.Duration

	// Handoff receives automatic unlock commits. Nil disables auto-unlock.
	Handoff Handoff
	// Manual receives URLs chosen through Select.
	Manual Handoff
	// Suppressor, if set, runs on its own ticker while an attempt is live.
	Suppressor Suppressor
	// AlwaysSuppress runs the Suppressor even when no attempt is live.
	AlwaysSuppress bool

	// OnCandidates is called from the loop whenever the candidate set changes.
	OnCandidates func(media.CandidateSet)
	// OnEvent is called from the loop for commits and handoff outcomes.
	OnEvent func(Event)

	Log *slog.Logger
}

// EventKind classifies an Event.
type EventKind int

const (
	Committed EventKind = iota
	Started
	Failed
)

func (k EventKind) String() string {
	switch k {
	case Committed:
		return "committed"
	case Started:
		return "started"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event reports selection progress to the display boundary.
type Event struct {
	Kind      EventKind
	AttemptID string // empty for manual selections
	URL       string
	Duration  float64
	Err       error
}

// Manual reports whether the event belongs to a manual selection.
func (e Event) Manual() bool { return e.AttemptID == "" }

type result struct {
	attemptID string
	url       string
	started   media.Started
	err       error
}

// Engine owns the candidate set and the unlock state machine for the page
// currently loaded in the source. Both are dropped when a Navigator source
// reports a new page.
type Engine struct {
	src     sniff.Source
	sniffer *sniff.Sniffer
	machine *unlock.Machine
	opts    Options
	log     *slog.Logger

	mu      sync.RWMutex
	current media.CandidateSet

	results chan result
	manual  chan string
	wg      sync.WaitGroup
}

// New creates an engine reading from src.
func New(src sniff.Source, sniffer *sniff.Sniffer, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SuppressInterval <= 0 {
		opts.SuppressInterval = DefaultSuppressInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = unlock.DefaultThreshold
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		src:     src,
		sniffer: sniffer,
		machine: unlock.NewMachine(opts.Threshold),
		opts:    opts,
		log:     log,
		results: make(chan result, 1),
		manual:  make(chan string, 1),
	}
	e.machine.OnTransition = func(id string, from, to unlock.State) {
		e.log.Debug("unlock transition", "attempt", id, "from", from, "to", to)
	}
	return e
}

// Candidates returns the most recent candidate set.
func (e *Engine) Candidates() media.CandidateSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append(media.CandidateSet(nil), e.current...)
}

// State returns the unlock state. Only meaningful on the loop goroutine or
// after Run has returned.
func (e *Engine) State() unlock.State {
	return e.machine.State()
}

// Select queues a manual handoff of url. It returns false if no manual
// handoff is configured or a selection is already queued.
func (e *Engine) Select(url string) bool {
	if e.opts.Manual == nil {
		return false
	}
	select {
	case e.manual <- url:
		return true
	default:
		return false
	}
}

// Run polls the source until ctx is done. Tickers and the mutation
// subscription are released and in-flight handoffs cancelled before it returns.
// Automatic handoffs belong to the page they were committed on and are
// cancelled by a navigation; manual ones run until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer e.wg.Wait()
	defer cancel()

	pageCtx, endPage := context.WithCancel(runCtx)
	defer func() { endPage() }()

	poll := time.NewTicker(e.opts.PollInterval)
	defer poll.Stop()

	var suppressC <-chan time.Time
	if e.opts.Suppressor != nil {
		t := time.NewTicker(e.opts.SuppressInterval)
		defer t.Stop()
		suppressC = t.C
	}

	var mutations <-chan struct{}
	if n, ok := e.src.(Notifier); ok {
		ch, err := n.Mutations(runCtx)
		if err != nil {
			e.log.Warn("page mutation notifications unavailable", "err", err)
		} else {
			mutations = ch
		}
	}

	var navigations <-chan string
	if n, ok := e.src.(Navigator); ok {
		ch, err := n.Navigations(runCtx)
		if err != nil {
			e.log.Warn("page navigation notifications unavailable", "err", err)
		} else {
			navigations = ch
		}
	}

	e.Tick(pageCtx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			e.Tick(pageCtx)
		case _, ok := <-mutations:
			if !ok {
				mutations = nil
				continue
			}
			e.Tick(pageCtx)
		case url, ok := <-navigations:
			if !ok {
				navigations = nil
				continue
			}
			endPage()
			pageCtx, endPage = context.WithCancel(runCtx)
			e.Navigate(pageCtx, url)
		case <-suppressC:
			e.suppress(pageCtx)
		case r := <-e.results:
			e.complete(pageCtx, r)
		case url := <-e.manual:
			e.emit(Event{Kind: Committed, URL: url})
			e.dispatch(runCtx, "", url, e.opts.Manual)
		}
	}
}

// Navigate drops the candidate set and any unlock attempt of the previous
// page, then ticks against the new one. Results still arriving for the old
// attempt are ignored.
func (e *Engine) Navigate(ctx context.Context, url string) {
	e.log.Info("page loaded", "url", url)
	e.machine.Reset()
	e.publish(nil)
	e.Tick(ctx)
}

// Tick runs observe, build and selection once.
func (e *Engine) Tick(ctx context.Context) {
	ts := &tickSource{Source: e.src}
	set := e.sniffer.Build(e.sniffer.Observe(ctx, ts))
	e.publish(set)

	if e.opts.Handoff == nil {
		return
	}

	page := media.PageState{Elements: ts.elements}
	if m, ok := e.src.(MarkerSource); ok && !e.machine.Active() {
		visible, err := m.MarkerVisible(ctx)
		if err != nil {
			e.log.Debug("checking trial marker", "err", err)
		}
		page.MarkerVisible = visible
	}

	commit, ok, err := e.machine.Step(page, set)
	if errors.Is(err, unlock.ErrNoCandidate) {
		e.log.Debug("trial detected, no candidate yet")
		return
	}
	if !ok {
		return
	}

	e.log.Info("committing candidate",
		"attempt", commit.AttemptID,
		"url", commit.Candidate.URL,
		"type", commit.Candidate.Origin,
	)
	e.emit(Event{Kind: Committed, AttemptID: commit.AttemptID, URL: commit.Candidate.URL})
	e.dispatch(ctx, commit.AttemptID, commit.Candidate.URL, e.opts.Handoff)
}

func (e *Engine) dispatch(ctx context.Context, attemptID, url string, h Handoff) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		started, err := h.Attach(ctx, url)
		select {
		case e.results <- result{attemptID: attemptID, url: url, started: started, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) complete(ctx context.Context, r result) {
	ev := Event{AttemptID: r.attemptID, URL: r.url, Duration: r.started.Duration, Err: r.err}

	if r.attemptID == "" {
		if r.err != nil {
			ev.Kind = Failed
			e.log.Warn("playback failed", "url", r.url, "err", r.err)
		} else {
			ev.Kind = Started
			e.log.Info("playback started", "url", r.url, "duration", r.started.Duration)
		}
		e.emit(ev)
		return
	}

	if r.err == nil {
		if !e.machine.Started(r.attemptID, r.started) {
			return
		}
		ev.Kind = Started
		e.log.Info("full video loaded", "attempt", r.attemptID, "url", r.url,
			"minutes", r.started.Duration/60)
		e.emit(ev)
		e.suppress(ctx)
		return
	}

	outcome, ok := e.machine.Fail(r.attemptID, r.err)
	if !ok {
		return
	}
	ev.Kind = Failed
	if outcome == unlock.Abandon {
		e.log.Info("unlock attempt abandoned", "attempt", r.attemptID, "url", r.url, "err", r.err)
	} else {
		e.log.Debug("unlock attempt failed, retrying", "attempt", r.attemptID, "url", r.url, "err", r.err)
	}
	e.emit(ev)
}

func (e *Engine) suppress(ctx context.Context) {
	if e.opts.Suppressor == nil || (!e.opts.AlwaysSuppress && !e.machine.Active()) {
		return
	}
	if err := e.opts.Suppressor.Suppress(ctx); err != nil {
		e.log.Debug("suppressing overlays", "err", err)
	}
}

func (e *Engine) publish(set media.CandidateSet) {
	e.mu.Lock()
	changed := !set.Equal(e.current)
	if changed {
		e.current = set
	}
	e.mu.Unlock()

	if changed && e.opts.OnCandidates != nil {
		e.opts.OnCandidates(append(media.CandidateSet(nil), set...))
	}
}

func (e *Engine) emit(ev Event) {
	if e.opts.OnEvent != nil {
		e.opts.OnEvent(ev)
	}
}

// tickSource remembers the elements read during one tick so the trigger
// sees the same page state the observer did.
type tickSource struct {
	sniff.Source
	elements []media.Element
}

func (t *tickSource) Elements(ctx context.Context) ([]media.Element, error) {
	els, err := t.Source.Elements(ctx)
	t.elements = els
	return els, err
}
