package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hlshunter/internal/host/har"
	"hlshunter/internal/logging"
	"hlshunter/internal/media"
	"hlshunter/internal/player"
	"hlshunter/internal/ui"
	"hlshunter/internal/unlock"
)

var (
	flagHTML string
	flagBase string
	flagPick bool
	flagCopy bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <capture.har>",
	Short: "Find manifests in a saved HAR capture",
	Long: `Run one sniff pass over a HAR capture, optionally with the page's saved
HTML, and report the candidates, whether the trial trigger fires and which
URL would be picked. With --pick the capture is watched like a live page
and candidates can be played from the picker.`,
	Args: cobra.ExactArgs(1),
	RunE: scanRun,
}

func init() {
	scanCmd.Flags().StringVar(&flagHTML, "html", "", "Saved HTML of the page, for <video> elements and trial markers")
	scanCmd.Flags().StringVar(&flagBase, "base", "", "Base URL for relative element sources")
	scanCmd.Flags().BoolVar(&flagPick, "pick", false, "Open the interactive picker")
	scanCmd.Flags().BoolVar(&flagCopy, "copy", false, "Copy the picked URL to the clipboard")
	scanCmd.Flags().BoolVar(&flagRemux, "remux", false, "Pipe selections through ffmpeg into the player")
}

// scanReport is the JSON form of a scan.
type scanReport struct {
	Candidates media.CandidateSet `json:"candidates"`
	Trigger    bool               `json:"trigger"`
	Pick       *media.Candidate   `json:"pick"`
	Attempt    string             `json:"attempt,omitempty"`
}

func scanRun(cmd *cobra.Command, args []string) error {
	snap := &har.Snapshot{
		HARPath:  args[0],
		HTMLPath: flagHTML,
		BaseURL:  flagBase,
		Markers:  cfg.TrialMarkers,
	}
	if _, err := snap.Load(); err != nil {
		return err
	}

	sniffer, err := newSniffer()
	if err != nil {
		return err
	}

	if flagPick {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		closeLog, err := redirectLog()
		if err != nil {
			return err
		}
		defer closeLog()
		sniffer.Log = logging.WithComponent(logger, "sniff")
		return run(ctx, snap, sniffer, engineOptions(), args[0])
	}

	ctx := cmd.Context()
	elements, err := snap.Elements(ctx)
	if err != nil {
		return err
	}
	visible, err := snap.MarkerVisible(ctx)
	if err != nil {
		return err
	}
	set := sniffer.Build(sniffer.Observe(ctx, snap))
	page := media.PageState{Elements: elements, MarkerVisible: visible}

	report := scanReport{Candidates: set}
	machine := unlock.NewMachine(cfg.Threshold())
	report.Trigger = machine.Trigger.Fired(page)
	if commit, ok, _ := machine.Step(page, set); ok {
		report.Pick = &commit.Candidate
		report.Attempt = commit.AttemptID
	} else if c, ok := set.Pick(); ok {
		report.Pick = &c
	}
	logger.Debug("scan complete", "candidates", len(set), "elements", len(elements), "trigger", report.Trigger)

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), report, elements)
	}

	if flagCopy && report.Pick != nil {
		return ui.CopyOrPrompt(report.Pick.URL, os.Stderr, os.Stdin)
	}
	return nil
}

func printReport(w io.Writer, r scanReport, elements []media.Element) {
	if len(r.Candidates) == 0 {
		fmt.Fprintln(w, "No manifests found.")
		return
	}
	for _, c := range r.Candidates {
		fmt.Fprintln(w, formatCandidate(c))
	}
	fmt.Fprintln(w)

	for i, el := range elements {
		src := el.CurrentSrc
		if src == "" {
			src = el.Src
		}
		fmt.Fprintf(w, "video %d   %s (%s)\n", i, src, player.FormatDuration(el.Duration))
	}

	if r.Trigger {
		fmt.Fprintln(w, "trigger   trial clip detected")
	} else {
		fmt.Fprintln(w, "trigger   no trial clip")
	}
	if r.Pick != nil {
		fmt.Fprintf(w, "pick      %s\n", r.Pick.URL)
	}
}
