package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the active deduction rules and exclusion keywords",
	Args:  cobra.NoArgs,
	RunE:  rulesRun,
}

type ruleView struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Replace string `json:"replace"`
}

func rulesRun(cmd *cobra.Command, args []string) error {
	sniffer, err := newSniffer()
	if err != nil {
		return err
	}

	var rules []ruleView
	for _, r := range sniffer.Rules.Rules() {
		rules = append(rules, ruleView{Name: r.Name, Pattern: r.Pattern(), Replace: r.Replace()})
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"manifest_marker":  cfg.ManifestMarker,
			"exclude_keywords": cfg.ExcludeKeywords,
			"rules":            rules,
		})
	}

	fmt.Fprintf(out, "manifest marker: %s\n", cfg.ManifestMarker)
	fmt.Fprintf(out, "excluded:        %v\n\n", cfg.ExcludeKeywords)
	for i, r := range rules {
		fmt.Fprintf(out, "%d. %-16s %s -> %s\n", i+1, r.Name, r.Pattern, r.Replace)
	}
	return nil
}
