package playback

import (
	"context"
	"log"

	"voiceavatar/agent/internal/tts"
)

// Player starts playback of an asset and returns without waiting for it to
// finish. The caller times completion from Asset.Duration.
type Player interface {
	Play(ctx context.Context, a tts.Asset) error
}

// Discard logs and drops audio. Used when no output device is configured.
type Discard struct{}

func (Discard) Play(_ context.Context, a tts.Asset) error {
	log.Printf("[playback] discarding %s of audio at %d Hz", a.Duration(), a.SampleRate)
	metricPlays.WithLabelValues("discard").Inc()
	return nil
}
