// Package browser observes and drives a live browser page over the Chrome
// DevTools Protocol. Besides being a sniff.Source, a Page reports trial
// markers, mutations and navigations, suppresses overlays and hands off
// playback to the page's own player.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	"hlshunter/internal/httputil"
	"hlshunter/internal/media"
)

const bindingName = "__hlsHunterMutation"

// Suppress configures overlay dismissal.
type Suppress struct {
	Click      []string `json:"click"`
	Remove     []string `json:"remove"`
	Container  string   `json:"container"`
	Paywall    []string `json:"paywall"`
	SkipLabels []string `json:"skipLabels"`
	BlockPause bool     `json:"blockPause"`
}

// Options configures a Page.
type Options struct {
	Markers       []string // trial-end marker texts
	Suppress      Suppress
	HLSCDN        string        // hls.js script URL
	Selector      string        // video element to attach to; first <video> when empty
	AttachTimeout time.Duration // how long the handoff waits for playback
	Log           *slog.Logger
}

// Page is a connection to one browser tab.
type Page struct {
	conn   *rpcc.Conn
	client *cdp.Client
	target string
	opts   Options
	log    *slog.Logger
}

// Connect attaches to a page target. endpoint is either the DevTools HTTP
// address (e.g. http://127.0.0.1:9222) or a page's debugger websocket URL.
// match selects the first page whose URL or title contains it.
func Connect(ctx context.Context, endpoint, match string, opts Options) (*Page, error) {
	if err := httputil.ValidateEndpoint(endpoint); err != nil {
		return nil, fmt.Errorf("devtools endpoint: %w", err)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.AttachTimeout <= 0 {
		opts.AttachTimeout = 30 * time.Second
	}

	wsURL, title := endpoint, endpoint
	if !httputil.IsWebSocket(endpoint) {
		devt := devtool.New(endpoint, devtool.WithClient(httputil.NewClient()))
		targets, err := devt.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing devtools targets: %w", err)
		}
		t, err := pickTarget(targets, match)
		if err != nil {
			return nil, err
		}
		wsURL, title = t.WebSocketDebuggerURL, t.URL
	}

	conn, err := rpcc.DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", wsURL, err)
	}

	p := &Page{
		conn:   conn,
		client: cdp.NewClient(conn),
		target: title,
		opts:   opts,
		log:    log,
	}
	log.Info("attached to page", "target", title)
	return p, nil
}

// pickTarget returns the first page target matching match.
func pickTarget(targets []*devtool.Target, match string) (*devtool.Target, error) {
	for _, t := range targets {
		if t.Type != devtool.Page || t.WebSocketDebuggerURL == "" {
			continue
		}
		if match == "" || strings.Contains(t.URL, match) || strings.Contains(t.Title, match) {
			return t, nil
		}
	}
	if match != "" {
		return nil, fmt.Errorf("no page target matching %q", match)
	}
	return nil, fmt.Errorf("no page targets available")
}

// Target returns the attached page's URL.
func (p *Page) Target() string { return p.target }

// Close releases the debugger connection.
func (p *Page) Close() error {
	return p.conn.Close()
}

// Resources returns the names in the page's resource timing log.
func (p *Page) Resources(ctx context.Context) ([]string, error) {
	var names []string
	if err := p.eval(ctx, resourcesScript, false, &names); err != nil {
		return nil, fmt.Errorf("reading resource log: %w", err)
	}
	return names, nil
}

type jsElement struct {
	Src        string   `json:"src"`
	CurrentSrc string   `json:"currentSrc"`
	Sources    []string `json:"sources"`
	Duration   *float64 `json:"duration"`
	Live       bool     `json:"live"`
}

// Elements returns the page's <video> elements.
func (p *Page) Elements(ctx context.Context) ([]media.Element, error) {
	var raw []jsElement
	if err := p.eval(ctx, elementsScript, false, &raw); err != nil {
		return nil, fmt.Errorf("reading media elements: %w", err)
	}
	return toElements(raw), nil
}

func toElements(raw []jsElement) []media.Element {
	els := make([]media.Element, 0, len(raw))
	for _, r := range raw {
		el := media.Element{
			Src:        r.Src,
			CurrentSrc: r.CurrentSrc,
			Sources:    r.Sources,
			Duration:   durationOf(r.Duration, r.Live),
		}
		els = append(els, el)
	}
	return els
}

// durationOf restores the non-finite values JSON can't carry.
func durationOf(d *float64, live bool) float64 {
	switch {
	case live:
		return math.Inf(1)
	case d == nil:
		return math.NaN()
	default:
		return *d
	}
}

// MarkerVisible reports whether a trial-end marker text is rendered.
func (p *Page) MarkerVisible(ctx context.Context) (bool, error) {
	if len(p.opts.Markers) == 0 {
		return false, nil
	}
	script, err := withArg(markerScript, p.opts.Markers)
	if err != nil {
		return false, err
	}
	var visible bool
	if err := p.eval(ctx, script, false, &visible); err != nil {
		return false, fmt.Errorf("checking trial marker: %w", err)
	}
	return visible, nil
}

// Mutations installs a throttled MutationObserver that calls back through a
// runtime binding, and installs it again on every new document. The channel
// is closed when ctx is done.
func (p *Page) Mutations(ctx context.Context) (<-chan struct{}, error) {
	if err := p.client.Runtime.Enable(ctx); err != nil {
		return nil, fmt.Errorf("enabling runtime: %w", err)
	}
	if err := p.client.Page.Enable(ctx); err != nil {
		return nil, fmt.Errorf("enabling page events: %w", err)
	}
	if err := p.client.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(bindingName)); err != nil {
		return nil, fmt.Errorf("adding binding: %w", err)
	}
	calls, err := p.client.Runtime.BindingCalled(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribing to binding calls: %w", err)
	}
	loads, err := p.client.Page.DOMContentEventFired(ctx)
	if err != nil {
		calls.Close()
		return nil, fmt.Errorf("subscribing to page loads: %w", err)
	}
	if err := p.installObserver(ctx); err != nil {
		calls.Close()
		loads.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()
		calls.Close()
		loads.Close()
	}()
	go func() {
		for {
			if _, err := loads.Recv(); err != nil {
				return
			}
			if err := p.installObserver(ctx); err != nil {
				p.log.Debug("reinstalling mutation observer", "err", err)
			}
		}
	}()
	go func() {
		defer close(out)
		for {
			ev, err := calls.Recv()
			if err != nil {
				return
			}
			if ev.Name != bindingName {
				continue
			}
			// Coalesce bursts; one pending notification is enough.
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, nil
}

// Navigations reports the URL of every document committed in the tab's top
// frame. The channel is closed when ctx is done.
func (p *Page) Navigations(ctx context.Context) (<-chan string, error) {
	if err := p.client.Page.Enable(ctx); err != nil {
		return nil, fmt.Errorf("enabling page events: %w", err)
	}
	navs, err := p.client.Page.FrameNavigated(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribing to navigations: %w", err)
	}

	out := make(chan string)
	go func() {
		<-ctx.Done()
		navs.Close()
	}()
	go func() {
		defer close(out)
		for {
			ev, err := navs.Recv()
			if err != nil {
				return
			}
			url, ok := topFrameURL(ev)
			if !ok {
				continue
			}
			select {
			case out <- url:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// topFrameURL returns the URL of a navigation in the main frame. Iframes
// loading ads or players do not start a new page.
func topFrameURL(ev *page.FrameNavigatedReply) (string, bool) {
	if ev == nil || ev.Frame.ParentID != nil {
		return "", false
	}
	return ev.Frame.URL, true
}

func (p *Page) installObserver(ctx context.Context) error {
	script, err := withArg(observerScript, bindingName)
	if err != nil {
		return err
	}
	if err := p.eval(ctx, script, false, nil); err != nil {
		return fmt.Errorf("installing mutation observer: %w", err)
	}
	return nil
}

// Suppress dismisses configured overlays, paywall boxes and skip buttons.
func (p *Page) Suppress(ctx context.Context) error {
	script, err := withArg(suppressScript, p.opts.Suppress)
	if err != nil {
		return err
	}
	var n int
	if err := p.eval(ctx, script, false, &n); err != nil {
		return fmt.Errorf("suppressing overlays: %w", err)
	}
	if n > 0 {
		p.log.Debug("overlays suppressed", "count", n)
	}
	return nil
}

func (p *Page) eval(ctx context.Context, expr string, await bool, out any) error {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true)
	if await {
		args = args.SetAwaitPromise(true)
	}
	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return err
	}
	if reply.ExceptionDetails != nil {
		return fmt.Errorf("page script error: %s", reply.ExceptionDetails.Text)
	}
	if out == nil || len(reply.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result.Value, out); err != nil {
		return fmt.Errorf("decoding script result: %w", err)
	}
	return nil
}
