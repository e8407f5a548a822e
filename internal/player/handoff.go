package player

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"hlshunter/internal/httputil"
	"hlshunter/internal/media"
	"hlshunter/internal/unlock"
)

// DefaultDecoder remuxes streams for players that are fed over stdin.
const DefaultDecoder = "ffmpeg"

// Handoff launches a player for a selected URL. The player keeps running
// after Attach returns and is killed when ctx is cancelled.
type Handoff struct {
	Player Player
	Title  string

	// Remux pipes the stream through Decoder as MPEG-TS instead of letting
	// the player open the manifest itself.
	Remux   bool
	Decoder string

	// StartTimeout bounds the wait for an IPC player to load the file.
	StartTimeout time.Duration
	// Grace is how long a player without IPC must stay up to count as started.
	Grace time.Duration

	Log *slog.Logger

	lookPath func(string) (string, error)
}

// NewHandoff returns a handoff with default timings.
func NewHandoff(p Player, log *slog.Logger) *Handoff {
	if log == nil {
		log = slog.Default()
	}
	return &Handoff{
		Player:       p,
		Decoder:      DefaultDecoder,
		StartTimeout: 20 * time.Second,
		Grace:        2 * time.Second,
		Log:          log,
	}
}

// remuxArgs copies the stream into MPEG-TS on stdout without re-encoding.
func remuxArgs(url string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", url,
		"-c", "copy",
		"-f", "mpegts",
		"-",
	}
}

// process is a launched player and, when remuxing, its decoder.
type process struct {
	player  *exec.Cmd
	decoder *exec.Cmd
	socket  string
	dir     string

	done    chan struct{}
	waitErr error
}

// Attach implements engine.Handoff.
func (h *Handoff) Attach(ctx context.Context, url string) (media.Started, error) {
	if err := httputil.ValidateMediaURL(url); err != nil {
		return media.Started{}, fmt.Errorf("%w: %v", unlock.ErrUnsupportedFormat, err)
	}
	if !h.Player.Available() {
		return media.Started{}, fmt.Errorf("%w: %s not found in PATH", unlock.ErrDecoderUnavailable, h.Player.Name())
	}

	p, err := h.launch(ctx, url)
	if err != nil {
		return media.Started{}, err
	}

	duration, err := h.await(ctx, p)
	if err != nil {
		p.kill()
		<-p.done
		return media.Started{}, err
	}

	h.log().Info("player started", "player", h.Player.Name(), "url", url, "duration", FormatDuration(duration))
	go func() {
		<-p.done
		h.log().Debug("player exited", "player", h.Player.Name(), "err", p.waitErr)
	}()
	return media.Started{URL: url, Duration: duration}, nil
}

func (h *Handoff) launch(ctx context.Context, url string) (*process, error) {
	p := &process{done: make(chan struct{})}
	input := url

	decoder := h.Decoder
	if decoder == "" {
		decoder = DefaultDecoder
	}
	if h.Remux {
		path, err := h.look(decoder)
		if err != nil {
			return nil, fmt.Errorf("%w: %s not found in PATH", unlock.ErrDecoderUnavailable, decoder)
		}
		p.decoder = exec.CommandContext(ctx, path, remuxArgs(url)...)
		input = "-"
	}

	args := h.Player.Args(input, h.Title)
	if ipc, ok := h.Player.(IPC); ok {
		// Randomized socket directory prevents symlink attacks.
		dir, err := os.MkdirTemp("", "hlshunter-ipc-*")
		if err != nil {
			return nil, fmt.Errorf("creating temp dir for player socket: %w", err)
		}
		p.dir = dir
		p.socket = filepath.Join(dir, "socket")
		args = append(args, ipc.IPCArg(p.socket))
	}
	p.player = exec.CommandContext(ctx, h.Player.Name(), args...)

	if p.decoder != nil {
		r, w, err := os.Pipe()
		if err != nil {
			p.cleanup()
			return nil, fmt.Errorf("creating decoder pipe: %w", err)
		}
		p.decoder.Stdout = w
		p.player.Stdin = r
		err = p.decoder.Start()
		w.Close()
		if err != nil {
			r.Close()
			p.cleanup()
			return nil, fmt.Errorf("%w: starting %s: %v", unlock.ErrDecoderUnavailable, decoder, err)
		}
		err = p.player.Start()
		r.Close()
		if err != nil {
			p.decoder.Process.Kill()
			p.decoder.Wait()
			p.cleanup()
			return nil, fmt.Errorf("%w: starting %s: %v", unlock.ErrDecoderAttach, h.Player.Name(), err)
		}
	} else if err := p.player.Start(); err != nil {
		p.cleanup()
		return nil, fmt.Errorf("%w: starting %s: %v", unlock.ErrDecoderAttach, h.Player.Name(), err)
	}

	h.log().Debug("player launched", "player", h.Player.Name(), "args", args, "remux", p.decoder != nil)

	go func() {
		p.waitErr = p.player.Wait()
		if p.decoder != nil {
			p.decoder.Process.Kill()
			p.decoder.Wait()
		}
		p.cleanup()
		close(p.done)
	}()
	return p, nil
}

// await blocks until the player has started, exited or timed out.
func (h *Handoff) await(ctx context.Context, p *process) (float64, error) {
	if p.socket == "" {
		grace := time.NewTimer(h.Grace)
		defer grace.Stop()
		select {
		case <-grace.C:
			return math.NaN(), nil
		case <-p.done:
			return 0, fmt.Errorf("%w: %s exited before playback started: %v", unlock.ErrDecoderAttach, h.Player.Name(), p.waitErr)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	timeout := h.StartTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialIPC(ctx, p.socket, p.done)
	if err != nil {
		select {
		case <-p.done:
			return 0, fmt.Errorf("%w: %s exited before playback started: %v", unlock.ErrDecoderAttach, h.Player.Name(), p.waitErr)
		default:
		}
		return 0, fmt.Errorf("%w: connecting to %s: %v", unlock.ErrDecoderAttach, h.Player.Name(), err)
	}
	defer conn.Close()

	type outcome struct {
		duration float64
		err      error
	}
	res := make(chan outcome, 1)
	go func() {
		d, err := awaitPlayback(conn)
		res <- outcome{d, err}
	}()

	select {
	case r := <-res:
		return r.duration, r.err
	case <-p.done:
		return 0, fmt.Errorf("%w: %s exited before playback started: %v", unlock.ErrDecoderAttach, h.Player.Name(), p.waitErr)
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: waiting for %s: %v", unlock.ErrDecoderAttach, h.Player.Name(), ctx.Err())
	}
}

// dialIPC waits for the player to create its socket.
func dialIPC(ctx context.Context, path string, done <-chan struct{}) (net.Conn, error) {
	var d net.Dialer
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return conn, nil
		}
		select {
		case <-tick.C:
		case <-done:
			return nil, fmt.Errorf("player exited")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *process) kill() {
	if p.player.Process != nil {
		p.player.Process.Kill()
	}
}

func (p *process) cleanup() {
	if p.dir != "" {
		os.RemoveAll(p.dir)
	}
}

func (h *Handoff) look(name string) (string, error) {
	if h.lookPath != nil {
		return h.lookPath(name)
	}
	return exec.LookPath(name)
}

func (h *Handoff) log() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}
