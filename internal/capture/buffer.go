package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// minWait bounds how often the poller wakes when the cursor sits on a boundary.
const minWait = time.Millisecond

// SegmentHandler receives emitted halves. ctx is cancelled when the buffer is
// stopped, so a handler that blocks must select on it.
type SegmentHandler func(ctx context.Context, seg Segment)

// WarningHandler receives ErrDeviceDisconnected.
type WarningHandler func(ctx context.Context, err error)

// Buffer is a double-buffered capture: the device writes into a ring of two
// windows and each half is emitted once the write cursor has left it.
type Buffer struct {
	dev       Device
	onSegment SegmentHandler
	onWarning WarningHandler

	// wait sleeps for d or until ctx ends. Tests replace it to drive the cursor.
	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time

	mu     sync.Mutex
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBuffer(dev Device, onSegment SegmentHandler, onWarning WarningHandler) *Buffer {
	return &Buffer{
		dev:       dev,
		onSegment: onSegment,
		onWarning: onWarning,
		wait:      sleep,
		now:       time.Now,
	}
}

// Start opens the device and begins emitting segments of window length.
// Calling Start on a running buffer is a no-op.
func (b *Buffer) Start(ctx context.Context, deviceID string, window time.Duration, sampleRate int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream != nil {
		return nil
	}
	windowSamples := int(window.Seconds() * float64(sampleRate))
	if windowSamples <= 0 {
		return fmt.Errorf("capture: window %s at %d Hz holds no samples", window, sampleRate)
	}

	stream, err := b.dev.StartCapture(deviceID, 2*windowSamples, sampleRate)
	if err != nil {
		metricDeviceErrors.WithLabelValues("unavailable").Inc()
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.stream, b.cancel, b.done = stream, cancel, done
	log.Printf("[capture] started device=%q window=%d samples rate=%d", deviceID, windowSamples, sampleRate)
	go b.run(runCtx, stream, windowSamples, sampleRate, done)
	return nil
}

// Running reports whether a capture is active.
func (b *Buffer) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stream != nil
}

// Stop ends the capture and waits for the poller to exit. No segment is
// delivered after Stop returns.
func (b *Buffer) Stop() {
	b.mu.Lock()
	stream, cancel, done := b.stream, b.cancel, b.done
	b.stream, b.cancel, b.done = nil, nil, nil
	b.mu.Unlock()
	if stream == nil {
		return
	}
	cancel()
	<-done
	stream.Stop()
	log.Printf("[capture] stopped")
}

func (b *Buffer) run(ctx context.Context, stream Stream, mid, rate int, done chan struct{}) {
	defer close(done)
	total := 2 * mid
	pending := HalfA
	var seq int64

	for {
		if ctx.Err() != nil {
			return
		}
		pos := stream.WriteCursor()
		if pos > total || pos < 0 || !stream.IsCapturing() {
			log.Printf("[capture] device lost cursor=%d capturing=%v", pos, stream.IsCapturing())
			metricDeviceErrors.WithLabelValues("disconnected").Inc()
			stream.Stop()
			if b.onWarning != nil {
				b.onWarning(ctx, ErrDeviceDisconnected)
			}
			return
		}

		if (pending == HalfA && pos >= mid) || (pending == HalfB && pos < mid) {
			samples := make([]float32, mid)
			offset := 0
			if pending == HalfB {
				offset = mid
			}
			stream.Read(samples, offset)
			seg := Segment{
				Seq:        seq,
				Half:       pending,
				Samples:    samples,
				SampleRate: rate,
				Peak:       peak(samples),
				CapturedAt: b.now(),
			}
			seq++
			if ctx.Err() != nil {
				return
			}
			metricSegments.WithLabelValues(pending.String()).Inc()
			metricPeak.Observe(float64(seg.Peak))
			b.onSegment(ctx, seg)
			if pending == HalfA {
				pending = HalfB
			} else {
				pending = HalfA
			}
			continue
		}

		remaining := mid - pos
		if pending == HalfB {
			remaining = total - pos
		}
		d := time.Duration(float64(remaining) / float64(rate) * float64(time.Second))
		if d < minWait {
			d = minWait
		}
		if err := b.wait(ctx, d); err != nil {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
