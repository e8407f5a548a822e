package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var deduceCmd = &cobra.Command{
	Use:   "deduce <url>...",
	Short: "Run URLs through the exclusion filter and deduction rules",
	Args:  cobra.MinimumNArgs(1),
	RunE:  deduceRun,
}

type deduceResult struct {
	URL      string `json:"url"`
	Excluded bool   `json:"excluded,omitempty"`
	Deduced  string `json:"deduced,omitempty"`
	Rule     string `json:"rule,omitempty"`
}

func deduceRun(cmd *cobra.Command, args []string) error {
	sniffer, err := newSniffer()
	if err != nil {
		return err
	}

	results := make([]deduceResult, 0, len(args))
	for _, url := range args {
		r := deduceResult{URL: url}
		if sniffer.Filter.Excluded(url) {
			r.Excluded = true
		} else if d := sniffer.Rules.Deduce(url); d.OK {
			r.Deduced, r.Rule = d.URL, d.Rule
		}
		results = append(results, r)
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		switch {
		case r.Excluded:
			fmt.Fprintf(out, "%s\n  excluded\n", r.URL)
		case r.Deduced != "":
			fmt.Fprintf(out, "%s\n  -> %s  (%s)\n", r.URL, r.Deduced, r.Rule)
		default:
			fmt.Fprintf(out, "%s\n  no rule matched\n", r.URL)
		}
	}
	return nil
}
