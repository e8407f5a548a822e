package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"hlshunter/internal/engine"
	"hlshunter/internal/host/browser"
	"hlshunter/internal/logging"
	"hlshunter/internal/player"
	"hlshunter/internal/sniff"
	"hlshunter/internal/ui"
)

// Watch flags, shared by the root command.
var (
	flagDevTools string
	flagTarget   string
	flagNoAuto   bool
	flagRemux    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a browser tab for manifests and unlock trial clips",
	Long: `Attach to a Chrome or Chromium tab over the DevTools protocol (start the
browser with --remote-debugging-port=9222). Manifests are listed as they
appear. When the page plays a trial clip, the best full-length candidate is
attached to the page's own player.`,
	Args: cobra.NoArgs,
	RunE: watchRun,
}

func init() {
	watchFlags(watchCmd)
}

func watchFlags(c *cobra.Command) {
	c.Flags().StringVar(&flagDevTools, "devtools", "", "DevTools endpoint or page websocket URL")
	c.Flags().StringVar(&flagTarget, "target", "", "Attach to the first tab whose URL or title contains this")
	c.Flags().BoolVar(&flagNoAuto, "no-auto", false, "List manifests only; never unlock automatically")
	c.Flags().BoolVar(&flagRemux, "remux", false, "Pipe selections through ffmpeg into the player")
}

func watchRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeLog, err := redirectLog()
	if err != nil {
		return err
	}
	defer closeLog()

	endpoint := cfg.DevTools
	if flagDevTools != "" {
		endpoint = flagDevTools
	}
	target := cfg.Target
	if flagTarget != "" {
		target = flagTarget
	}

	sniffer, err := newSniffer()
	if err != nil {
		return err
	}

	page, err := browser.Connect(ctx, endpoint, target, browser.Options{
		Markers:  cfg.TrialMarkers,
		Suppress: suppressOptions(),
		HLSCDN:   cfg.HLSCDN,
		Log:      logging.WithComponent(logger, "browser"),
	})
	if err != nil {
		return err
	}
	defer page.Close()

	opts := engineOptions()
	opts.Suppressor = page
	opts.AlwaysSuppress = cfg.Suppress.Always
	if !flagNoAuto {
		opts.Handoff = page
	}

	return run(ctx, page, sniffer, opts, page.Target())
}

func suppressOptions() browser.Suppress {
	s := cfg.Suppress
	return browser.Suppress{
		Click:      s.Click,
		Remove:     s.Remove,
		Container:  s.Container,
		Paywall:    s.Paywall,
		SkipLabels: s.SkipLabels,
		BlockPause: s.BlockPause,
	}
}

func newSniffer() (*sniff.Sniffer, error) {
	sniffer, err := cfg.Sniffer()
	if err != nil {
		return nil, fmt.Errorf("building ruleset: %w", err)
	}
	sniffer.Log = logging.WithComponent(logger, "sniff")
	return sniffer, nil
}

// engineOptions returns the config-driven options with an external player
// as the manual handoff.
func engineOptions() engine.Options {
	handoff := player.NewHandoff(player.New(cfg.Player), logging.WithComponent(logger, "player"))
	handoff.Remux = cfg.Remux || flagRemux

	return engine.Options{
		PollInterval:     cfg.PollInterval.Duration,
		SuppressInterval: cfg.SuppressInterval.Duration,
		Threshold:        cfg.Threshold(),
		Manual:           handoff,
		Log:              logging.WithComponent(logger, "engine"),
	}
}

func interactive() bool {
	return !flagJSON && ui.Interactive()
}

// redirectLog sends log records to a file while the picker owns the terminal.
func redirectLog() (func(), error) {
	if !interactive() {
		return func() {}, nil
	}
	path := filepath.Join(os.TempDir(), "hlshunter.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogJSON, f)
	return func() { f.Close() }, nil
}

// run drives the engine until ctx is done, through the picker when attached
// to a terminal and as line or JSON output otherwise.
func run(ctx context.Context, src sniff.Source, sniffer *sniff.Sniffer, opts engine.Options, title string) error {
	if !interactive() {
		out := newPrinter(os.Stdout, flagJSON)
		opts.OnCandidates = out.candidates
		opts.OnEvent = out.event
		return engine.New(src, sniffer, opts).Run(ctx)
	}

	var eng *engine.Engine
	prog := ui.NewProgram(ctx, ui.New(nil, ui.Options{
		Title: title,
		Play:  func(url string) bool { return eng.Select(url) },
	}))
	opts.OnCandidates = prog.Candidates
	opts.OnEvent = prog.Event
	eng = engine.New(src, sniffer, opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- eng.Run(ctx) }()

	err := prog.Run()
	cancel()
	if runErr := <-errc; err == nil {
		err = runErr
	}
	return err
}
