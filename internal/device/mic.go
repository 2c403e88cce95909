package device

import (
	"fmt"

	"voiceavatar/agent/internal/capture"
)

// CommandMic captures by running a recorder that writes raw mono PCM16 to
// stdout, e.g. "arecord -q -t raw -f S16_LE -c 1 -r {rate} -D {device}".
type CommandMic struct {
	command string
}

func NewCommandMic(command string) *CommandMic { return &CommandMic{command: command} }

func (m *CommandMic) StartCapture(deviceID string, bufferSamples, sampleRate int) (capture.Stream, error) {
	p, err := startProc("capture", expand(m.command, sampleRate, deviceID), false, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	return capture.NewRingStream(p.stdout, bufferSamples, p), nil
}
