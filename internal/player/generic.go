package player

// Generic covers mpv front-ends like iina and celluloid that accept
// mpv-style flags.
type Generic struct {
	name string
}

func (g *Generic) Name() string { return g.name }

func (g *Generic) Available() bool { return available(g.name) }

func (g *Generic) Args(input, title string) []string {
	args := []string{input}
	if title != "" {
		args = append(args, "--force-media-title="+title)
	}
	return args
}
