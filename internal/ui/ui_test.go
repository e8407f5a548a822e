package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"hlshunter/internal/engine"
	"hlshunter/internal/media"
)

var testSet = media.CandidateSet{
	{URL: "https://cdn.example/v/42_0001.m3u8", Origin: media.Observed},
	{URL: "https://cdn.example/v/42.m3u8", Origin: media.Deduced, Source: "https://cdn.example/v/42_0001.m3u8", Rule: "trial-segment"},
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestPlay(t *testing.T) {
	var played []string
	m := sized(New(testSet, Options{Play: func(url string) bool {
		played = append(played, url)
		return true
	}}))

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if len(played) != 1 || played[0] != testSet[0].URL {
		t.Errorf("played = %v, want the highlighted URL", played)
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	next.(Model).Update(tea.KeyMsg{Type: tea.KeyEnter})
	if len(played) != 2 || played[1] != testSet[1].URL {
		t.Errorf("played = %v, want the deduced URL second", played)
	}
}

func TestCopy(t *testing.T) {
	var copied string
	m := sized(New(testSet, Options{Copy: func(s string) error {
		copied = s
		return nil
	}}))

	next, _ := m.Update(runes("c"))
	if copied != testSet[0].URL {
		t.Errorf("copied = %q", copied)
	}
	if strings.Contains(next.View(), "Clipboard unavailable") {
		t.Error("successful copy should not prompt")
	}
}

func TestCopyFallbackPrompt(t *testing.T) {
	m := sized(New(testSet, Options{Copy: func(string) error {
		return errors.New("no clipboard")
	}}))

	next, _ := m.Update(runes("c"))
	view := next.View()
	if !strings.Contains(view, "Clipboard unavailable") || !strings.Contains(view, testSet[0].URL) {
		t.Fatalf("expected manual copy prompt, got:\n%s", view)
	}

	// The prompt swallows the next key, even quit.
	next, cmd := next.Update(runes("q"))
	if cmd != nil {
		t.Error("dismissing the prompt should not quit")
	}
	if strings.Contains(next.View(), "Clipboard unavailable") {
		t.Error("prompt should be dismissed by a key press")
	}
}

func TestQuit(t *testing.T) {
	m := sized(New(testSet, Options{}))
	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("q produced %T, want tea.QuitMsg", cmd())
	}
}

func TestCandidatesMsg(t *testing.T) {
	m := sized(New(nil, Options{}))
	if n := len(m.list.Items()); n != 0 {
		t.Fatalf("started with %d items", n)
	}
	next, _ := m.Update(CandidatesMsg(testSet))
	if n := len(next.(Model).list.Items()); n != 2 {
		t.Errorf("got %d items after update, want 2", n)
	}
}

func TestItemDescription(t *testing.T) {
	if d := (Item{testSet[1]}).Description(); !strings.Contains(d, "deduced") || !strings.Contains(d, "trial-segment") {
		t.Errorf("deduced description = %q", d)
	}
	if d := (Item{testSet[0]}).Description(); !strings.Contains(d, "original") {
		t.Errorf("observed description = %q", d)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		ev   engine.Event
		want string
	}{
		{engine.Event{Kind: engine.Committed, AttemptID: "a1", URL: "u"}, "unlocking with u"},
		{engine.Event{Kind: engine.Committed, URL: "u"}, "opening u"},
		{engine.Event{Kind: engine.Started, URL: "u", Duration: 5400}, "1:30:00"},
		{engine.Event{Kind: engine.Failed, URL: "u", Err: errors.New("boom")}, "boom"},
	}
	for _, tt := range tests {
		if got := status(tt.ev); !strings.Contains(got, tt.want) {
			t.Errorf("status(%v) = %q, want it to contain %q", tt.ev.Kind, got, tt.want)
		}
	}
}

func TestCopyOrPrompt(t *testing.T) {
	orig := writeClipboard
	t.Cleanup(func() { writeClipboard = orig })

	writeClipboard = func(string) error { return errNoClipboard }
	var out bytes.Buffer
	if err := CopyOrPrompt("https://x/a.m3u8", &out, strings.NewReader("\n")); err != nil {
		t.Fatalf("CopyOrPrompt() error: %v", err)
	}
	if !strings.Contains(out.String(), "https://x/a.m3u8") {
		t.Errorf("prompt = %q", out.String())
	}

	writeClipboard = func(string) error { return nil }
	out.Reset()
	if err := CopyOrPrompt("https://x/a.m3u8", &out, strings.NewReader("")); err != nil || out.Len() != 0 {
		t.Errorf("CopyOrPrompt() = %v, output %q", err, out.String())
	}
}
