package browser

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/page"

	"hlshunter/internal/unlock"
)

func TestPickTarget(t *testing.T) {
	targets := []*devtool.Target{
		{Type: devtool.ServiceWorker, URL: "https://site.example/sw.js", WebSocketDebuggerURL: "ws://h/sw"},
		{Type: devtool.Page, URL: "https://news.example/", Title: "News", WebSocketDebuggerURL: "ws://h/1"},
		{Type: devtool.Page, URL: "https://site.example/play/42", Title: "Episode 42", WebSocketDebuggerURL: "ws://h/2"},
		{Type: devtool.Page, URL: "https://site.example/attached", WebSocketDebuggerURL: ""},
	}

	tests := []struct {
		name    string
		match   string
		want    string
		wantErr bool
	}{
		{"first page", "", "ws://h/1", false},
		{"by url", "/play/", "ws://h/2", false},
		{"by title", "Episode", "ws://h/2", false},
		{"already attached skipped", "attached", "", true},
		{"no match", "nothing", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickTarget(targets, tt.match)
			if (err != nil) != tt.wantErr {
				t.Fatalf("pickTarget() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.WebSocketDebuggerURL != tt.want {
				t.Errorf("pickTarget() = %s, want %s", got.WebSocketDebuggerURL, tt.want)
			}
		})
	}

	if _, err := pickTarget(nil, ""); err == nil {
		t.Error("expected error with no targets")
	}
}

func TestTopFrameURL(t *testing.T) {
	parent := page.FrameID("main")
	tests := []struct {
		name string
		ev   *page.FrameNavigatedReply
		want string
		ok   bool
	}{
		{"top frame", &page.FrameNavigatedReply{Frame: page.Frame{URL: "https://site.example/play/43"}}, "https://site.example/play/43", true},
		{"iframe", &page.FrameNavigatedReply{Frame: page.Frame{URL: "https://ads.example/", ParentID: &parent}}, "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := topFrameURL(tt.ev)
			if got != tt.want || ok != tt.ok {
				t.Errorf("topFrameURL() = %q, %v, want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestToElements(t *testing.T) {
	d := 45.0
	els := toElements([]jsElement{
		{Src: "https://x/a.m3u8", Duration: &d},
		{CurrentSrc: "https://x/live.m3u8", Live: true},
		{Sources: []string{"https://x/b.m3u8"}},
	})

	if len(els) != 3 {
		t.Fatalf("got %d elements", len(els))
	}
	if els[0].Duration != 45 || !els[0].Finite() {
		t.Errorf("els[0] = %+v", els[0])
	}
	if !math.IsInf(els[1].Duration, 1) {
		t.Errorf("live duration = %v, want +Inf", els[1].Duration)
	}
	if !math.IsNaN(els[2].Duration) {
		t.Errorf("unknown duration = %v, want NaN", els[2].Duration)
	}
}

func TestWithArg(t *testing.T) {
	scripts := map[string]any{
		"marker":   []string{`试看结束"); alert(1); ("`},
		"observer": bindingName,
		"suppress": Suppress{Click: []string{".timer_close"}, SkipLabels: []string{"跳过预览"}},
		"attach":   attachArgs{URL: "https://x/a.m3u8", CDN: "https://cdn/hls.js", TimeoutMs: 1000},
	}
	templates := map[string]string{
		"marker":   markerScript,
		"observer": observerScript,
		"suppress": suppressScript,
		"attach":   attachScript,
	}

	for name, arg := range scripts {
		got, err := withArg(templates[name], arg)
		if err != nil {
			t.Fatalf("%s: withArg() error: %v", name, err)
		}
		if strings.Contains(got, "%!") {
			t.Errorf("%s: template has stray verbs: %s", name, got)
		}
	}

	got, _ := withArg(markerScript, []string{`"); alert(1); ("`})
	if !strings.Contains(got, `["\"); alert(1); (\""]`) {
		t.Errorf("marker argument not JSON-escaped: %s", got)
	}
	got, _ = withArg(suppressScript, Suppress{SkipLabels: []string{"跳过预览"}})
	if !strings.Contains(got, `"skipLabels":["跳过预览"]`) {
		t.Errorf("suppress config missing: %s", got)
	}
}

func TestAttachResult(t *testing.T) {
	d := 5400.0
	tests := []struct {
		name    string
		res     attachResult
		wantErr error
	}{
		{"started", attachResult{OK: true, Duration: &d}, nil},
		{"decoder unavailable", attachResult{Kind: "decoder-unavailable", Detail: "loading hls.js failed"}, unlock.ErrDecoderUnavailable},
		{"unsupported", attachResult{Kind: "unsupported", Detail: "hls.js is not supported"}, unlock.ErrUnsupportedFormat},
		{"attach", attachResult{Kind: "attach", Detail: "networkError: manifestLoadError"}, unlock.ErrDecoderAttach},
		{"unknown kind", attachResult{Kind: "weird"}, unlock.ErrDecoderAttach},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.res.started("https://x/a.m3u8")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("started() error: %v", err)
				}
				if s.Duration != 5400 || s.URL != "https://x/a.m3u8" {
					t.Errorf("started() = %+v", s)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("started() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
