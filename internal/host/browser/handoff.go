package browser

import (
	"context"
	"fmt"
	"time"

	"hlshunter/internal/httputil"
	"hlshunter/internal/media"
	"hlshunter/internal/unlock"
)

type attachArgs struct {
	URL       string `json:"url"`
	CDN       string `json:"cdn"`
	Selector  string `json:"selector,omitempty"`
	TimeoutMs int64  `json:"timeoutMs"`
}

type attachResult struct {
	OK       bool     `json:"ok"`
	Kind     string   `json:"kind"`
	Detail   string   `json:"detail"`
	Duration *float64 `json:"duration"`
	Live     bool     `json:"live"`
}

// Attach plays url in the page's own video element. Browsers without native
// HLS get hls.js injected from the configured CDN first.
func (p *Page) Attach(ctx context.Context, url string) (media.Started, error) {
	if err := httputil.ValidateMediaURL(url); err != nil {
		return media.Started{}, fmt.Errorf("%w: %v", unlock.ErrUnsupportedFormat, err)
	}

	script, err := withArg(attachScript, attachArgs{
		URL:       url,
		CDN:       p.opts.HLSCDN,
		Selector:  p.opts.Selector,
		TimeoutMs: p.opts.AttachTimeout.Milliseconds(),
	})
	if err != nil {
		return media.Started{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.AttachTimeout+5*time.Second)
	defer cancel()

	var res attachResult
	if err := p.eval(ctx, script, true, &res); err != nil {
		return media.Started{}, fmt.Errorf("%w: %v", unlock.ErrDecoderAttach, err)
	}
	return res.started(url)
}

// started maps the page script's verdict onto the unlock error taxonomy.
func (r attachResult) started(url string) (media.Started, error) {
	if r.OK {
		return media.Started{URL: url, Duration: durationOf(r.Duration, r.Live)}, nil
	}
	switch r.Kind {
	case "decoder-unavailable":
		return media.Started{}, fmt.Errorf("%w: %s", unlock.ErrDecoderUnavailable, r.Detail)
	case "unsupported":
		return media.Started{}, fmt.Errorf("%w: %s", unlock.ErrUnsupportedFormat, r.Detail)
	default:
		return media.Started{}, fmt.Errorf("%w: %s", unlock.ErrDecoderAttach, r.Detail)
	}
}
