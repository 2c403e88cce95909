package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

var (
	// ErrSynthesisFailed wraps every synthesis failure.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
	ErrEmptyText       = errors.New("empty text")
)

// Asset is decoded, playable mono PCM16 audio.
type Asset struct {
	PCM        []int16
	SampleRate int
}

func (a Asset) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.PCM)) * time.Second / time.Duration(a.SampleRate)
}

// Bytes returns the samples as little-endian PCM16.
func (a Asset) Bytes() []byte {
	out := make([]byte, 2*len(a.PCM))
	for i, v := range a.PCM {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// Synthesizer turns reply text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Asset, error)
}
