package stt

import (
	"context"

	"voiceavatar/agent/internal/capture"
)

// Options controls a recognition stream. They take effect on the next
// StartListening.
type Options struct {
	SilenceDetection bool
	SilenceThreshold float32
	MaxAlternatives  int
	InterimResults   bool
	WordConfidence   bool
	Timestamps       bool
}

func DefaultOptions() Options {
	return Options{
		SilenceDetection: true,
		SilenceThreshold: 0.03,
		MaxAlternatives:  1,
		InterimResults:   true,
	}
}

// TranscriptEvent is one alternative of one recognition result.
type TranscriptEvent struct {
	Text        string
	Confidence  float64
	Final       bool
	ResultIndex int
	Alternative int
}

// Recognizer streams capture segments to a speech service. Callbacks run on
// the recognizer's own goroutine. An event already being delivered when
// StopListening is called may still arrive, so callers tag callbacks with
// their own listen generation.
type Recognizer interface {
	Configure(opts Options)
	// StartListening opens the stream. Calling it while listening is a no-op.
	StartListening(ctx context.Context, onEvent func(TranscriptEvent), onError func(error)) error
	IsListening() bool
	// Feed drops the segment when not listening.
	Feed(seg capture.Segment)
	StopListening()
}
