package capture

import "errors"

var (
	// ErrDeviceUnavailable is returned by Start when the device cannot be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrDeviceDisconnected is reported through the warning handler when the
	// device stops producing samples mid-capture.
	ErrDeviceDisconnected = errors.New("capture device disconnected")
)

// Device opens a looping capture of bufferSamples mono samples.
type Device interface {
	StartCapture(deviceID string, bufferSamples, sampleRate int) (Stream, error)
}

// Stream is a running device capture writing into a ring of samples.
type Stream interface {
	// WriteCursor is the index the device will write next, in [0, bufferSamples).
	WriteCursor() int
	IsCapturing() bool
	// Read copies len(dst) samples starting at offset.
	Read(dst []float32, offset int)
	// Stop ends the capture. Safe to call more than once.
	Stop()
}
