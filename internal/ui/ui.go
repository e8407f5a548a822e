// Package ui is the terminal picker for the candidate list. The engine pushes
// candidate sets and handoff events into a running program as messages; the
// user plays or copies the highlighted URL.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"hlshunter/internal/engine"
	"hlshunter/internal/media"
	"hlshunter/internal/player"
)

var (
	deducedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	originalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	promptStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 2)
)

var keys = struct {
	Play key.Binding
	Copy key.Binding
	Quit key.Binding
}{
	Play: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "play")),
	Copy: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy")),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// CandidatesMsg replaces the listed candidates.
type CandidatesMsg media.CandidateSet

// EventMsg reports handoff progress.
type EventMsg engine.Event

// Item is one list row.
type Item struct {
	media.Candidate
}

func (i Item) Title() string       { return i.URL }
func (i Item) FilterValue() string { return i.URL }

func (i Item) Description() string {
	if i.Origin == media.Deduced {
		return deducedStyle.Render("deduced") + originalStyle.Render(" via "+i.Rule)
	}
	return originalStyle.Render(i.Origin.String())
}

// Options wires the picker to the engine.
type Options struct {
	Title string
	// Play is called with the chosen URL; false means it could not be queued.
	Play func(url string) bool
	// Copy writes to the system clipboard by default.
	Copy func(text string) error
}

// Model is the bubbletea model for the picker.
type Model struct {
	list   list.Model
	opts   Options
	prompt string // URL shown for manual copy when the clipboard failed
}

// New returns a picker showing set.
func New(set media.CandidateSet, opts Options) Model {
	if opts.Copy == nil {
		opts.Copy = writeClipboard
	}
	if opts.Title == "" {
		opts.Title = "Manifests"
	}

	l := list.New(items(set), list.NewDefaultDelegate(), 0, 0)
	l.Title = opts.Title
	l.SetStatusBarItemName("manifest", "manifests")
	l.AdditionalShortHelpKeys = func() []key.Binding {
		return []key.Binding{keys.Play, keys.Copy}
	}
	return Model{list: l, opts: opts}
}

func items(set media.CandidateSet) []list.Item {
	out := make([]list.Item, len(set))
	for i, c := range set {
		out[i] = Item{c}
	}
	return out
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
		return m, nil

	case CandidatesMsg:
		return m, m.list.SetItems(items(media.CandidateSet(msg)))

	case EventMsg:
		return m, m.list.NewStatusMessage(status(engine.Event(msg)))

	case tea.KeyMsg:
		// The fallback prompt is modal: any key dismisses it.
		if m.prompt != "" {
			m.prompt = ""
			return m, nil
		}
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Play):
			return m.play()
		case key.Matches(msg, keys.Copy):
			return m.copy()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) play() (tea.Model, tea.Cmd) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok || m.opts.Play == nil {
		return m, nil
	}
	if !m.opts.Play(it.URL) {
		return m, m.list.NewStatusMessage(errorStyle.Render("playback busy, try again"))
	}
	return m, m.list.NewStatusMessage("opening " + it.URL)
}

func (m Model) copy() (tea.Model, tea.Cmd) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return m, nil
	}
	if err := m.opts.Copy(it.URL); err != nil {
		m.prompt = it.URL
		return m, nil
	}
	return m, m.list.NewStatusMessage("copied " + it.URL)
}

func status(ev engine.Event) string {
	switch ev.Kind {
	case engine.Committed:
		if ev.Manual() {
			return "opening " + ev.URL
		}
		return "unlocking with " + ev.URL
	case engine.Started:
		return deducedStyle.Render("playing") + fmt.Sprintf(" %s (%s)", ev.URL, player.FormatDuration(ev.Duration))
	case engine.Failed:
		return errorStyle.Render("failed: " + ev.Err.Error())
	default:
		return ""
	}
}

func (m Model) View() string {
	if m.prompt != "" {
		return promptStyle.Render(
			"Clipboard unavailable. Copy the URL below:\n\n" + m.prompt + "\n\nPress any key to continue.",
		)
	}
	return m.list.View()
}

// Program runs a picker and accepts engine updates from other goroutines.
type Program struct {
	p *tea.Program
}

// NewProgram prepares a full-screen picker bound to ctx.
func NewProgram(ctx context.Context, m Model) *Program {
	return &Program{p: tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))}
}

// Run blocks until the user quits or ctx is done.
func (p *Program) Run() error {
	_, err := p.p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// Candidates pushes a new candidate set into the picker.
func (p *Program) Candidates(set media.CandidateSet) { p.p.Send(CandidatesMsg(set)) }

// Event pushes a handoff event into the picker.
func (p *Program) Event(ev engine.Event) { p.p.Send(EventMsg(ev)) }

// Interactive reports whether both stdin and stdout are terminals.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

var errNoClipboard = errors.New("no clipboard utility available")

var writeClipboard = func(text string) error {
	if clipboard.Unsupported {
		return errNoClipboard
	}
	return clipboard.WriteAll(text)
}

// CopyOrPrompt copies text to the clipboard. When no clipboard is available
// it prints text to w and blocks until a line is read from r.
func CopyOrPrompt(text string, w io.Writer, r io.Reader) error {
	if err := writeClipboard(text); err == nil {
		return nil
	}
	fmt.Fprintf(w, "Clipboard unavailable. Copy the URL below, then press Enter:\n%s\n", text)
	if _, err := bufio.NewReader(r).ReadString('\n'); err != nil && err != io.EOF {
		return err
	}
	return nil
}
