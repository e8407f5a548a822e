package unlock

import "errors"

var (
	// ErrNoCandidate means the candidate set was empty when committing.
	// The attempt stays in Detecting and retries on the next tick.
	ErrNoCandidate = errors.New("no candidate found")

	// ErrDecoderUnavailable means the streaming decoder could not be resolved.
	ErrDecoderUnavailable = errors.New("decoder unavailable")

	// ErrDecoderAttach means the decoder loaded but failed to attach or play.
	ErrDecoderAttach = errors.New("decoder attach failed")

	// ErrUnsupportedFormat ends the current attempt; a later trigger may start a new one.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// Outcome is what a failed handoff means for the attempt.
type Outcome int

const (
	// Retry keeps the attempt and retries from Detecting.
	Retry Outcome = iota
	// Abandon ends the attempt.
	Abandon
)

// Classify maps a handoff error onto the attempt lifecycle. Unknown errors
// are treated as recoverable.
func Classify(err error) Outcome {
	if errors.Is(err, ErrUnsupportedFormat) {
		return Abandon
	}
	return Retry
}
