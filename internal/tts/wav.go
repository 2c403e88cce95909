package tts

import (
	"encoding/binary"
	"fmt"
)

// DecodeWAV parses a PCM16 RIFF/WAVE body. Stereo is averaged to mono.
func DecodeWAV(b []byte) (Asset, error) {
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" { return Asset{}, fmt.Errorf("not a WAV") }
	off := 12
	var dataOff, dataLen int
	var channels uint16
	var sampRate uint32
	var haveFmt bool
	for off+8 <= len(b) {
		cid := string(b[off : off+4])
		csz := int(binary.LittleEndian.Uint32(b[off+4:]))
		off += 8
		if cid == "fmt " {
			if csz < 16 || off+csz > len(b) { return Asset{}, fmt.Errorf("bad fmt chunk") }
			fmtTag := binary.LittleEndian.Uint16(b[off:])
			channels = binary.LittleEndian.Uint16(b[off+2:])
			sampRate = binary.LittleEndian.Uint32(b[off+4:])
			bits := binary.LittleEndian.Uint16(b[off+14:])
			if fmtTag != 1 || bits != 16 { return Asset{}, fmt.Errorf("unsupported WAV format tag=%d bits=%d", fmtTag, bits) }
			if channels != 1 && channels != 2 { return Asset{}, fmt.Errorf("unsupported channel count %d", channels) }
			haveFmt = true
			off += csz + csz&1
		} else if cid == "data" {
			dataOff = off
			dataLen = csz
			// streamed responses may carry a placeholder size
			if dataLen <= 0 || dataOff+dataLen > len(b) {
				dataLen = len(b) - dataOff
			}
			break
		} else {
			off += csz + csz&1
		}
	}
	if !haveFmt { return Asset{}, fmt.Errorf("no fmt chunk") }
	if dataOff <= 0 { return Asset{}, fmt.Errorf("no data chunk") }
	if sampRate == 0 { return Asset{}, fmt.Errorf("zero sample rate") }
	raw := b[dataOff : dataOff+dataLen]

	frame := 2 * int(channels)
	pcm := make([]int16, len(raw)/frame)
	for i := range pcm {
		p := raw[i*frame:]
		a := int16(binary.LittleEndian.Uint16(p))
		if channels == 2 {
			c := int16(binary.LittleEndian.Uint16(p[2:]))
			a = int16((int32(a) + int32(c)) / 2)
		}
		pcm[i] = a
	}
	return Asset{PCM: pcm, SampleRate: int(sampRate)}, nil
}
