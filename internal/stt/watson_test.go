package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"nhooyr.io/websocket"

	"voiceavatar/agent/internal/capture"
	"voiceavatar/agent/internal/iam"
)

type frame struct {
	typ  websocket.MessageType
	data []byte
}

type fakeService struct {
	srv    *httptest.Server
	conns  int32
	auth   atomic.Value
	query  atomic.Value
	frames chan frame
	push   chan []byte
	reject int
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{frames: make(chan frame, 64), push: make(chan []byte, 16)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	if f.reject != 0 {
		w.WriteHeader(f.reject)
		return
	}
	atomic.AddInt32(&f.conns, 1)
	f.auth.Store(r.Header.Get("Authorization"))
	f.query.Store(r.URL.Path + "?" + r.URL.RawQuery)
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			select {
			case b := <-f.push:
				if err := c.Write(ctx, websocket.MessageText, b); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		f.frames <- frame{typ, data}
	}
}

func (f *fakeService) next(t *testing.T) frame {
	t.Helper()
	select {
	case fr := <-f.frames:
		return fr
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame received")
		return frame{}
	}
}

func (f *fakeService) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case fr := <-f.frames:
		t.Fatalf("unexpected frame %s", fr.data)
	case <-time.After(d):
	}
}

func newTestWatson(f *fakeService) *Watson {
	return NewWatson(WatsonConfig{URL: f.srv.URL, Model: "en-US_NarrowbandModel", SampleRate: 1000},
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"}))
}

func seg(seq int64, level float32) capture.Segment {
	s := make([]float32, 10)
	s[3] = level
	return capture.Segment{Seq: seq, Samples: s, SampleRate: 1000, Peak: level}
}

func TestStartListeningIdempotent(t *testing.T) {
	f := newFakeService(t)
	w := newTestWatson(f)
	noop := func(TranscriptEvent) {}
	for i := 0; i < 2; i++ {
		if err := w.StartListening(context.Background(), noop, nil); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	defer w.StopListening()
	if !w.IsListening() {
		t.Fatalf("expected listening")
	}
	if got := atomic.LoadInt32(&f.conns); got != 1 {
		t.Fatalf("expected one connection, got %d", got)
	}
	if got := f.auth.Load().(string); got != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", got)
	}
	if got := f.query.Load().(string); got != "/v1/recognize?model=en-US_NarrowbandModel" {
		t.Fatalf("unexpected request %q", got)
	}
}

func TestSilenceDetectionGatesAudio(t *testing.T) {
	f := newFakeService(t)
	w := newTestWatson(f)
	if err := w.StartListening(context.Background(), func(TranscriptEvent) {}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.StopListening()

	w.Feed(seg(0, 0.01))
	f.quiet(t, 50*time.Millisecond)

	w.Feed(seg(1, 0.5))
	start := f.next(t)
	if start.typ != websocket.MessageText {
		t.Fatalf("expected start action, got binary")
	}
	var action map[string]any
	if err := json.Unmarshal(start.data, &action); err != nil {
		t.Fatalf("start action: %v", err)
	}
	if action["action"] != "start" || action["content-type"] != "audio/l16;rate=1000;channels=1;endianness=little-endian" {
		t.Fatalf("unexpected start action %s", start.data)
	}
	if action["interim_results"] != true || action["max_alternatives"] != float64(1) {
		t.Fatalf("options not applied: %s", start.data)
	}
	if fr := f.next(t); fr.typ != websocket.MessageBinary || len(fr.data) != 20 {
		t.Fatalf("expected 20 bytes of audio, got %v/%d", fr.typ, len(fr.data))
	}

	w.Feed(seg(2, 0.4))
	if fr := f.next(t); fr.typ != websocket.MessageBinary {
		t.Fatalf("expected audio frame")
	}

	w.Feed(seg(3, 0.0))
	if fr := f.next(t); fr.typ != websocket.MessageBinary {
		t.Fatalf("expected trailing quiet audio")
	}
	if fr := f.next(t); string(fr.data) != `{"action":"stop"}` {
		t.Fatalf("expected stop action, got %s", fr.data)
	}

	w.Feed(seg(4, 0.0))
	f.quiet(t, 50*time.Millisecond)
}

func TestWithoutSilenceDetectionEverythingIsSent(t *testing.T) {
	f := newFakeService(t)
	w := newTestWatson(f)
	opts := DefaultOptions()
	opts.SilenceDetection = false
	w.Configure(opts)
	if err := w.StartListening(context.Background(), func(TranscriptEvent) {}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.StopListening()

	if fr := f.next(t); !strings.Contains(string(fr.data), `"action":"start"`) {
		t.Fatalf("expected start on open, got %s", fr.data)
	}
	w.Feed(seg(0, 0))
	if fr := f.next(t); fr.typ != websocket.MessageBinary {
		t.Fatalf("expected quiet audio to be sent")
	}
}

func TestResultsDelivered(t *testing.T) {
	f := newFakeService(t)
	w := newTestWatson(f)
	events := make(chan TranscriptEvent, 8)
	if err := w.StartListening(context.Background(), func(ev TranscriptEvent) { events <- ev }, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.StopListening()

	f.push <- []byte(`{"state":"listening"}`)
	f.push <- []byte(`{"result_index":0,"results":[{"final":false,"alternatives":[{"transcript":"turn on "}]}]}`)
	f.push <- []byte(`{"result_index":0,"results":[{"final":true,"alternatives":[{"transcript":"turn on the light ","confidence":0.91},{"transcript":"turn of the light","confidence":0.4}]}]}`)

	want := []TranscriptEvent{
		{Text: "turn on", Final: false},
		{Text: "turn on the light", Confidence: 0.91, Final: true},
		{Text: "turn of the light", Confidence: 0.4, Final: true, Alternative: 1},
	}
	for i, exp := range want {
		select {
		case got := <-events:
			if got != exp {
				t.Fatalf("event %d: expected %+v, got %+v", i, exp, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestProviderErrorEndsListening(t *testing.T) {
	f := newFakeService(t)
	w := newTestWatson(f)
	errs := make(chan error, 2)
	if err := w.StartListening(context.Background(), func(TranscriptEvent) {}, func(err error) { errs <- err }); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.push <- []byte(`{"error":"Session timed out."}`)
	select {
	case err := <-errs:
		if !errors.Is(err, iam.ErrServiceUnavailable) {
			t.Fatalf("expected ErrServiceUnavailable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onError not called")
	}
	if w.IsListening() {
		t.Fatalf("expected listening to end")
	}
	w.Feed(seg(0, 0.5)) // must not panic
	select {
	case err := <-errs:
		t.Fatalf("error reported twice: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopListeningSuppressesCallbacks(t *testing.T) {
	f := newFakeService(t)
	w := newTestWatson(f)
	events := make(chan TranscriptEvent, 8)
	errs := make(chan error, 2)
	if err := w.StartListening(context.Background(), func(ev TranscriptEvent) { events <- ev }, func(err error) { errs <- err }); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.StopListening()
	w.StopListening()
	if w.IsListening() {
		t.Fatalf("expected stopped")
	}
	f.push <- []byte(`{"result_index":0,"results":[{"final":true,"alternatives":[{"transcript":"late","confidence":0.9}]}]}`)
	select {
	case ev := <-events:
		t.Fatalf("event after stop: %+v", ev)
	case err := <-errs:
		t.Fatalf("error after stop: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeedWhenNeverStarted(t *testing.T) {
	w := NewWatson(WatsonConfig{URL: "http://127.0.0.1:1"}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"}))
	w.Feed(seg(0, 1))
	w.StopListening()
	if w.IsListening() {
		t.Fatalf("expected not listening")
	}
}

func TestHandshakeUnauthorized(t *testing.T) {
	f := newFakeService(t)
	f.reject = http.StatusUnauthorized
	w := newTestWatson(f)
	err := w.StartListening(context.Background(), func(TranscriptEvent) {}, nil)
	if !errors.Is(err, iam.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if w.IsListening() {
		t.Fatalf("expected not listening")
	}
}

func TestPCM16Clamps(t *testing.T) {
	b := pcm16([]float32{0, 1, -1, 2})
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
	if b[2] != 0xff || b[3] != 0x7f {
		t.Fatalf("expected 32767 for 1.0, got %x", b[2:4])
	}
	if b[6] != 0xff || b[7] != 0x7f {
		t.Fatalf("expected clamp at 32767, got %x", b[6:8])
	}
}
