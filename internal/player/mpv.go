package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"hlshunter/internal/unlock"
)

// MPV plays through mpv and watches its JSON IPC socket for the loaded file.
type MPV struct{}

func (m *MPV) Name() string { return "mpv" }

func (m *MPV) Available() bool { return available("mpv") }

func (m *MPV) Args(input, title string) []string {
	args := []string{input, "--really-quiet"}
	if title != "" {
		args = append(args, "--force-media-title="+title)
	}
	return args
}

func (m *MPV) IPCArg(socketPath string) string {
	return "--input-ipc-server=" + socketPath
}

const durationRequest = 100

type ipcMessage struct {
	Event     string          `json:"event"`
	Reason    string          `json:"reason"`
	FileError string          `json:"file_error"`
	RequestID int             `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

// awaitPlayback reads mpv IPC messages until the file has loaded, then asks
// for its duration. Durations mpv can't report (live streams) come back NaN.
func awaitPlayback(rw io.ReadWriter) (float64, error) {
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		switch {
		case msg.Event == "file-loaded":
			if err := send(rw, durationRequest, "get_property", "duration"); err != nil {
				return 0, fmt.Errorf("%w: querying duration: %v", unlock.ErrDecoderAttach, err)
			}
		case msg.Event == "end-file" && msg.Reason == "error":
			if strings.Contains(msg.FileError, "unrecognized") {
				return 0, fmt.Errorf("%w: %s", unlock.ErrUnsupportedFormat, msg.FileError)
			}
			return 0, fmt.Errorf("%w: %s", unlock.ErrDecoderAttach, msg.FileError)
		case msg.Event == "" && msg.RequestID == durationRequest:
			var d float64
			if msg.Error == "success" && json.Unmarshal(msg.Data, &d) == nil && d > 0 {
				return d, nil
			}
			return math.NaN(), nil
		}
	}
	return 0, fmt.Errorf("%w: mpv closed its IPC connection", unlock.ErrDecoderAttach)
}

func send(w io.Writer, id int, command ...any) error {
	data, err := json.Marshal(map[string]any{
		"command":    command,
		"request_id": id,
	})
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
