package sniff

import (
	"fmt"
	"regexp"
)

// RuleSpec is the declarative form of a deduction rule, as stored in config.
type RuleSpec struct {
	Name    string `toml:"name"`
	Pattern string `toml:"pattern"`
	Replace string `toml:"replace"`
}

// DefaultRules maps trial/preview manifest forms to their full counterparts.
// Order is priority.
var DefaultRules = []RuleSpec{
	{Name: "trial-segment", Pattern: `_0001\.m3u8`, Replace: ".m3u8"},
	{Name: "preview-suffix", Pattern: `_preview\.m3u8`, Replace: ".m3u8"},
	{Name: "trial-suffix", Pattern: `_trial\.m3u8`, Replace: ".m3u8"},
	{Name: "preview-path", Pattern: `/preview/`, Replace: "/full/"},
}

// Rule is a compiled deduction rule.
type Rule struct {
	Name    string
	pattern *regexp.Regexp
	replace string
}

// Pattern returns the rule's source expression.
func (r Rule) Pattern() string { return r.pattern.String() }

// Replace returns the rule's replacement template.
func (r Rule) Replace() string { return r.replace }

// apply replaces the first match only. ok is false when the pattern does not match.
func (r Rule) apply(url string) (string, bool) {
	loc := r.pattern.FindStringSubmatchIndex(url)
	if loc == nil {
		return "", false
	}
	var out []byte
	out = append(out, url[:loc[0]]...)
	out = r.pattern.ExpandString(out, r.replace, url, loc)
	out = append(out, url[loc[1]:]...)
	return string(out), true
}

// Ruleset is an ordered list of rules; the first effective match wins.
type Ruleset struct {
	rules []Rule
}

// CompileRules builds a Ruleset, rejecting empty or invalid patterns.
func CompileRules(specs []RuleSpec) (*Ruleset, error) {
	rs := &Ruleset{rules: make([]Rule, 0, len(specs))}
	for i, spec := range specs {
		if spec.Pattern == "" {
			return nil, fmt.Errorf("rule %d (%s): empty pattern", i, spec.Name)
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.Name, err)
		}
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		rs.rules = append(rs.rules, Rule{Name: name, pattern: re, replace: spec.Replace})
	}
	return rs, nil
}

// MustCompileRules is CompileRules for static rule lists.
func MustCompileRules(specs []RuleSpec) *Ruleset {
	rs, err := CompileRules(specs)
	if err != nil {
		panic(err)
	}
	return rs
}

// Rules returns the rules in priority order.
func (rs *Ruleset) Rules() []Rule {
	return append([]Rule(nil), rs.rules...)
}

// Deduction is the result of running a URL through the ruleset.
type Deduction struct {
	URL   string // deduced URL; empty when OK is false
	Rule  string // name of the matching rule
	Index int    // index of the matching rule, -1 when none matched
	OK    bool
}

// Deduce walks the rules in order and applies the first one that matches
// and changes the URL. A replacement yielding the same string counts as no match.
func (rs *Ruleset) Deduce(url string) Deduction {
	if rs != nil {
		for i, r := range rs.rules {
			out, ok := r.apply(url)
			if !ok || out == url {
				continue
			}
			return Deduction{URL: out, Rule: r.Name, Index: i, OK: true}
		}
	}
	return Deduction{Index: -1}
}
