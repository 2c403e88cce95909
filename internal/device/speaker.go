package device

import (
	"context"
	"fmt"
	"log"
	"sync"

	"voiceavatar/agent/internal/playback"
	"voiceavatar/agent/internal/tts"
)

// CommandSpeaker plays assets by piping PCM16 into a player process started
// per asset, e.g. "aplay -q -t raw -f S16_LE -c 1 -r {rate}".
type CommandSpeaker struct {
	command  string
	deviceID string

	mu      sync.Mutex
	current *proc
}

func NewCommandSpeaker(command, deviceID string) *CommandSpeaker {
	return &CommandSpeaker{command: command, deviceID: deviceID}
}

// Play starts the player and returns once the process is running. A previous
// asset still playing is cut off.
func (s *CommandSpeaker) Play(ctx context.Context, a tts.Asset) error {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	p, err := startProc("playback", expand(s.command, a.SampleRate, s.deviceID), true, false)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	playback.Observe("command")

	go func() {
		if _, err := p.stdin.Write(a.Bytes()); err != nil {
			log.Printf("[playback] write: %v", err)
		}
		_ = p.stdin.Close()
		select {
		case <-p.Done():
		case <-ctx.Done():
			p.Close()
		}
		s.mu.Lock()
		if s.current == p {
			s.current = nil
		}
		s.mu.Unlock()
	}()
	return nil
}

// Close stops any asset still playing.
func (s *CommandSpeaker) Close() error {
	s.mu.Lock()
	p := s.current
	s.current = nil
	s.mu.Unlock()
	if p != nil {
		return p.Close()
	}
	return nil
}
