// Package player hands a chosen manifest URL to an external media player.
// All player invocations use exec.CommandContext with explicit argument
// slices; URLs never pass through a shell.
package player

import (
	"fmt"
	"math"
	"os/exec"
	"strings"
)

// Player is an external media player.
type Player interface {
	// Name returns the player binary name.
	Name() string

	// Available checks if the player binary exists in PATH.
	Available() bool

	// Args returns the command line that plays input. input is a URL, or
	// "-" when the stream arrives on stdin.
	Args(input, title string) []string
}

// IPC is implemented by players that report playback over a JSON IPC socket.
type IPC interface {
	IPCArg(socketPath string) string
}

// New creates a player by name.
func New(name string) Player {
	switch strings.ToLower(name) {
	case "vlc":
		return &VLC{}
	case "iina", "celluloid":
		return &Generic{name: strings.ToLower(name)}
	default:
		return &MPV{}
	}
}

func available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// FormatDuration formats seconds as H:MM:SS or M:SS. Unknown and live
// durations have no clock form.
func FormatDuration(seconds float64) string {
	switch {
	case math.IsNaN(seconds):
		return "?"
	case math.IsInf(seconds, 1):
		return "live"
	}
	s := int(seconds)
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
