package capture

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"
)

type fakeStream struct {
	mu        sync.Mutex
	size      int
	abs       int
	lastSeen  int
	capturing bool
	stops     int
}

func (f *fakeStream) WriteCursor() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen = f.abs
	return f.abs % f.size
}

func (f *fakeStream) IsCapturing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capturing
}

// Read encodes the ring index in each sample so tests can check what was copied.
func (f *fakeStream) Read(dst []float32, offset int) {
	for i := range dst {
		dst[i] = float32(offset+i) / float32(f.size)
	}
}

func (f *fakeStream) Stop() {
	f.mu.Lock()
	f.capturing = false
	f.stops++
	f.mu.Unlock()
}

func (f *fakeStream) advance(n int) {
	f.mu.Lock()
	f.abs += n
	f.mu.Unlock()
}

type fakeDevice struct {
	stream *fakeStream
	err    error
	starts int
	size   int
}

func (d *fakeDevice) StartCapture(deviceID string, bufferSamples, sampleRate int) (Stream, error) {
	d.starts++
	d.size = bufferSamples
	if d.err != nil {
		return nil, d.err
	}
	d.stream.size = bufferSamples
	return d.stream, nil
}

type collector struct {
	mu       sync.Mutex
	segs     []Segment
	warnings []error
}

func (c *collector) segment(_ context.Context, s Segment) {
	c.mu.Lock()
	c.segs = append(c.segs, s)
	c.mu.Unlock()
}

func (c *collector) warning(_ context.Context, err error) {
	c.mu.Lock()
	c.warnings = append(c.warnings, err)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segs)
}

const testRate = 1000

var errDone = errors.New("done")

// drive runs a buffer whose wait hook advances the fake cursor instead of sleeping.
func drive(t *testing.T, waits int, jitter func(remaining int) int) (*fakeStream, *collector) {
	t.Helper()
	stream := &fakeStream{capturing: true}
	dev := &fakeDevice{stream: stream}
	col := &collector{}
	b := NewBuffer(dev, col.segment, col.warning)

	n := 0
	finished := make(chan struct{})
	b.wait = func(ctx context.Context, d time.Duration) error {
		n++
		if n > waits {
			close(finished)
			return errDone
		}
		remaining := int(math.Round(d.Seconds() * testRate))
		step := remaining + jitter(remaining)
		if step < 1 {
			step = 1
		}
		stream.advance(step)
		return nil
	}

	if err := b.Start(context.Background(), "mic", 100*time.Millisecond, testRate); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("poller did not finish")
	}
	b.Stop()
	return stream, col
}

func checkOrder(t *testing.T, segs []Segment) {
	t.Helper()
	for i, s := range segs {
		want := HalfA
		if i%2 == 1 {
			want = HalfB
		}
		if s.Half != want {
			t.Fatalf("segment %d: expected half %s, got %s", i, want, s.Half)
		}
		if s.Seq != int64(i) {
			t.Fatalf("segment %d: expected seq %d, got %d", i, i, s.Seq)
		}
	}
}

func TestHalfCrossingsExactTiming(t *testing.T) {
	stream, col := drive(t, 40, func(int) int { return 0 })
	mid := stream.size / 2
	want := stream.lastSeen / mid
	if len(col.segs) != want {
		t.Fatalf("expected %d segments, got %d", want, len(col.segs))
	}
	if want < 10 {
		t.Fatalf("expected many crossings, got %d", want)
	}
	checkOrder(t, col.segs)
}

func TestHalfCrossingsUnderJitter(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 20; run++ {
		stream, col := drive(t, 200, func(remaining int) int {
			// early or late wake-ups, never by a whole window
			lo := -remaining / 2
			hi := 50 // window is 100 samples
			return lo + rng.Intn(hi-lo)
		})
		mid := stream.size / 2
		want := stream.lastSeen / mid
		if len(col.segs) != want {
			t.Fatalf("run %d: expected %d segments, got %d", run, want, len(col.segs))
		}
		checkOrder(t, col.segs)
	}
}

func TestSegmentCopiesHalfAndPeak(t *testing.T) {
	stream, col := drive(t, 4, func(int) int { return 0 })
	if len(col.segs) < 2 {
		t.Fatalf("expected at least 2 segments, got %d", len(col.segs))
	}
	mid := stream.size / 2
	a, b := col.segs[0], col.segs[1]
	if len(a.Samples) != mid || len(b.Samples) != mid {
		t.Fatalf("unexpected segment lengths %d/%d", len(a.Samples), len(b.Samples))
	}
	if a.Samples[0] != 0 || b.Samples[0] != float32(mid)/float32(stream.size) {
		t.Fatalf("halves copied from wrong offsets: a0=%v b0=%v", a.Samples[0], b.Samples[0])
	}
	wantPeak := float32(stream.size-1) / float32(stream.size)
	if b.Peak != wantPeak {
		t.Fatalf("expected peak %v, got %v", wantPeak, b.Peak)
	}
	if a.SampleRate != testRate || a.Duration() != 100*time.Millisecond {
		t.Fatalf("unexpected rate/duration %d/%s", a.SampleRate, a.Duration())
	}
}

func TestCursorAlreadyPastMidpointEmitsOnce(t *testing.T) {
	stream := &fakeStream{capturing: true, abs: 110}
	dev := &fakeDevice{stream: stream}
	col := &collector{}
	b := NewBuffer(dev, col.segment, col.warning)
	polled := make(chan struct{})
	var once sync.Once
	b.wait = func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(polled) })
		<-ctx.Done()
		return ctx.Err()
	}
	if err := b.Start(context.Background(), "", 100*time.Millisecond, testRate); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-polled
	b.Stop()
	if col.count() != 1 || col.segs[0].Half != HalfA {
		t.Fatalf("expected exactly one A segment, got %+v", col.segs)
	}
}

func TestDisconnectReportsWarning(t *testing.T) {
	stream := &fakeStream{capturing: false}
	dev := &fakeDevice{stream: stream}
	col := &collector{}
	b := NewBuffer(dev, col.segment, col.warning)
	if err := b.Start(context.Background(), "", 100*time.Millisecond, testRate); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		col.mu.Lock()
		n := len(col.warnings)
		col.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no disconnect warning")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.Stop()
	if !errors.Is(col.warnings[0], ErrDeviceDisconnected) {
		t.Fatalf("expected ErrDeviceDisconnected, got %v", col.warnings[0])
	}
	if col.count() != 0 {
		t.Fatalf("expected no segments, got %d", col.count())
	}
}

func TestStartDeviceError(t *testing.T) {
	dev := &fakeDevice{err: errors.New("no such card")}
	b := NewBuffer(dev, func(context.Context, Segment) {}, nil)
	err := b.Start(context.Background(), "hw:9", time.Second, 22050)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if b.Running() {
		t.Fatalf("buffer should not be running")
	}
	if dev.size != 44100 {
		t.Fatalf("expected ring of two windows (44100), got %d", dev.size)
	}
}

func TestStartTwiceAndStopIdempotent(t *testing.T) {
	stream := &fakeStream{capturing: true}
	dev := &fakeDevice{stream: stream}
	b := NewBuffer(dev, func(context.Context, Segment) {}, nil)
	b.Stop() // not started

	for i := 0; i < 2; i++ {
		if err := b.Start(context.Background(), "", 100*time.Millisecond, testRate); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	if dev.starts != 1 {
		t.Fatalf("expected one device start, got %d", dev.starts)
	}
	b.Stop()
	b.Stop()
	if stream.stops != 1 {
		t.Fatalf("expected one stream stop, got %d", stream.stops)
	}
}

// clockStream advances its cursor with wall time like a real device.
type clockStream struct {
	fakeStream
	started time.Time
}

func (c *clockStream) WriteCursor() int {
	n := int(time.Since(c.started).Seconds() * testRate)
	return n % c.size
}

type clockDevice struct{ s *clockStream }

func (d clockDevice) StartCapture(_ string, size, _ int) (Stream, error) {
	d.s.size = size
	d.s.started = time.Now()
	return d.s, nil
}

func TestNoSegmentAfterStop(t *testing.T) {
	s := &clockStream{fakeStream: fakeStream{capturing: true}}
	col := &collector{}
	b := NewBuffer(clockDevice{s}, col.segment, col.warning)
	if err := b.Start(context.Background(), "", 20*time.Millisecond, testRate); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for col.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected segments, got %d", col.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.Stop()
	n := col.count()
	time.Sleep(80 * time.Millisecond)
	if col.count() != n {
		t.Fatalf("segments emitted after Stop: %d -> %d", n, col.count())
	}
	checkOrder(t, col.segs)
}

func TestBlockedHandlerDoesNotDeadlockStop(t *testing.T) {
	s := &clockStream{fakeStream: fakeStream{capturing: true}}
	entered := make(chan struct{}, 1)
	b := NewBuffer(clockDevice{s}, func(ctx context.Context, _ Segment) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
	}, nil)
	if err := b.Start(context.Background(), "", 10*time.Millisecond, testRate); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	stopped := make(chan struct{})
	go func() { b.Stop(); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop blocked on handler")
	}
}
