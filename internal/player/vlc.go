package player

// VLC plays through VLC. It has no IPC, so playback counts as started once
// the process has stayed up for the handoff's grace period.
type VLC struct{}

func (v *VLC) Name() string { return "vlc" }

func (v *VLC) Available() bool { return available("vlc") }

func (v *VLC) Args(input, title string) []string {
	args := []string{input, "--play-and-exit"}
	if title != "" {
		args = append(args, "--meta-title", title)
	}
	return args
}
