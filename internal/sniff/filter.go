package sniff

import "strings"

// DefaultExcludeKeywords are ad and tracking fragments that never lead to content.
var DefaultExcludeKeywords = []string{"googlevideo", "doubleclick", "adsense", "advertisement"}

// Filter drops URLs containing any denylisted keyword, case-insensitively.
type Filter struct {
	keywords []string
}

// NewFilter lowercases the keywords once; empty entries are ignored.
func NewFilter(keywords []string) *Filter {
	f := &Filter{}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			f.keywords = append(f.keywords, kw)
		}
	}
	return f
}

// Excluded reports whether url matches the denylist.
func (f *Filter) Excluded(url string) bool {
	if f == nil || len(f.keywords) == 0 {
		return false
	}
	lower := strings.ToLower(url)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
