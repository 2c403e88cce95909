package stt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"nhooyr.io/websocket"

	"voiceavatar/agent/internal/capture"
	"voiceavatar/agent/internal/config"
	"voiceavatar/agent/internal/iam"
)

type WatsonConfig struct {
	URL        string // service base URL, https scheme
	Model      string
	SampleRate int
	QueueSize  int
	KeepAlive  time.Duration
}

// Watson streams PCM16 audio to the Watson speech-to-text websocket API and
// reports transcripts for every returned alternative.
type Watson struct {
	cfg    WatsonConfig
	tokens oauth2.TokenSource

	mu            sync.Mutex
	opts          Options
	listening     bool
	gen           uint64
	cancel        context.CancelFunc
	sendQ         chan outbound
	utteranceOpen bool
}

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

type startAction struct {
	Action            string `json:"action"`
	ContentType       string `json:"content-type"`
	InterimResults    bool   `json:"interim_results"`
	MaxAlternatives   int    `json:"max_alternatives"`
	WordConfidence    bool   `json:"word_confidence"`
	Timestamps        bool   `json:"timestamps"`
	InactivityTimeout int    `json:"inactivity_timeout"`
}

type recognizeMessage struct {
	State       string   `json:"state"`
	Error       string   `json:"error"`
	Warnings    []string `json:"warnings"`
	ResultIndex int      `json:"result_index"`
	Results     []struct {
		Final        bool `json:"final"`
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

var (
	stopAction = []byte(`{"action":"stop"}`)
	noopAction  = []byte(`{"action":"no-op"}`)
)

func NewWatson(cfg WatsonConfig, tokens oauth2.TokenSource) *Watson {
	return &Watson{cfg: cfg, tokens: tokens, opts: DefaultOptions()}
}

func (w *Watson) Configure(opts Options) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if opts.MaxAlternatives < 1 {
		opts.MaxAlternatives = 1
	}
	w.opts = opts
}

func (w *Watson) IsListening() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.listening
}

func (w *Watson) recognizeURL() (string, error) {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/recognize"
	q := u.Query()
	q.Set("model", orDefault(w.cfg.Model, "en-US_BroadbandModel"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *Watson) StartListening(ctx context.Context, onEvent func(TranscriptEvent), onError func(error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listening {
		return nil
	}

	endpoint, err := w.recognizeURL()
	if err != nil {
		return fmt.Errorf("%w: stt url: %v", config.ErrConfiguration, err)
	}
	tok, err := w.tokens.Token()
	if err != nil {
		metricErrors.WithLabelValues("token").Inc()
		return iam.TransportError("stt", err)
	}
	hdr := make(http.Header)
	hdr.Set("Authorization", tok.Type()+" "+tok.AccessToken)

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	ws, resp, err := websocket.Dial(dctx, endpoint, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		metricErrors.WithLabelValues("dial").Inc()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: stt handshake status=%d", iam.ErrAuthenticationFailed, resp.StatusCode)
		}
		log.Printf("[stt] connect error: %v", err)
		return fmt.Errorf("%w: stt dial: %v", iam.ErrServiceUnavailable, err)
	}
	ws.SetReadLimit(1 << 20)
	metricConnects.Inc()
	metricConnectMS.Observe(float64(time.Since(start).Milliseconds()))

	lctx, lcancel := context.WithCancel(ctx)
	w.gen++
	gen := w.gen
	w.listening = true
	w.cancel = lcancel
	w.sendQ = make(chan outbound, nzd(w.cfg.QueueSize, 64))
	w.utteranceOpen = false
	if !w.opts.SilenceDetection {
		w.openUtteranceLocked(w.cfg.SampleRate)
	}

	go w.writeLoop(lctx, ws, w.sendQ, gen, onError)
	go w.readLoop(lctx, ws, gen, onEvent, onError)
	log.Printf("[stt] listening gen=%d connected in %dms", gen, time.Since(start).Milliseconds())
	return nil
}

func (w *Watson) StopListening() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.listening {
		return
	}
	w.listening = false
	w.gen++
	w.cancel()
	log.Printf("[stt] stopped listening")
}

// Feed sends one segment. With silence detection on, quiet segments outside an
// utterance are skipped and the first quiet segment after speech closes it.
func (w *Watson) Feed(seg capture.Segment) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.listening {
		metricFeedIgnored.WithLabelValues("not_listening").Inc()
		log.Printf("[stt] feed while not listening, seq=%d dropped", seg.Seq)
		return
	}

	loud := seg.Peak >= w.opts.SilenceThreshold
	if w.opts.SilenceDetection && !w.utteranceOpen {
		if !loud {
			metricFeedIgnored.WithLabelValues("silence").Inc()
			return
		}
		w.openUtteranceLocked(seg.SampleRate)
	}

	audio := pcm16(seg.Samples)
	w.enqueueLocked(outbound{websocket.MessageBinary, audio})
	metricAudioBytes.Add(float64(len(audio)))
	metricFrames.Inc()

	if w.opts.SilenceDetection && !loud {
		w.enqueueLocked(outbound{websocket.MessageText, stopAction})
		w.utteranceOpen = false
		metricUtteranceEvents.WithLabelValues("stop").Inc()
	}
}

func (w *Watson) openUtteranceLocked(rate int) {
	if rate <= 0 {
		rate = nzd(w.cfg.SampleRate, 22050)
	}
	msg, _ := json.Marshal(startAction{
		Action:            "start",
		ContentType:       fmt.Sprintf("audio/l16;rate=%d;channels=1;endianness=little-endian", rate),
		InterimResults:    w.opts.InterimResults,
		MaxAlternatives:   w.opts.MaxAlternatives,
		WordConfidence:    w.opts.WordConfidence,
		Timestamps:        w.opts.Timestamps,
		InactivityTimeout: -1,
	})
	w.enqueueLocked(outbound{websocket.MessageText, msg})
	w.utteranceOpen = true
	metricUtteranceEvents.WithLabelValues("start").Inc()
}

func (w *Watson) enqueueLocked(m outbound) {
	select {
	case w.sendQ <- m:
	default:
		metricDrops.Inc()
		log.Printf("[stt] send queue full, dropped %d bytes", len(m.data))
	}
}

// fail ends the listening generation gen and reports err once.
func (w *Watson) fail(gen uint64, stage string, err error, onError func(error)) {
	w.mu.Lock()
	if gen != w.gen || !w.listening {
		w.mu.Unlock()
		return
	}
	w.listening = false
	w.gen++
	w.cancel()
	w.mu.Unlock()

	metricErrors.WithLabelValues(stage).Inc()
	log.Printf("[stt] listening ended stage=%s: %v", stage, err)
	if onError != nil {
		onError(err)
	}
}

func (w *Watson) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.listening && w.gen == gen
}

func (w *Watson) writeLoop(ctx context.Context, ws *websocket.Conn, q <-chan outbound, gen uint64, onError func(error)) {
	defer ws.Close(websocket.StatusNormalClosure, "bye")
	keepAlive := w.cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		var m outbound
		select {
		case <-ctx.Done():
			return
		case m = <-q:
		case <-ticker.C:
			m = outbound{websocket.MessageText, noopAction}
		}
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := ws.Write(wctx, m.typ, m.data)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				w.fail(gen, "write", fmt.Errorf("%w: stt write: %v", iam.ErrServiceUnavailable, err), onError)
			}
			return
		}
	}
}

func (w *Watson) readLoop(ctx context.Context, ws *websocket.Conn, gen uint64, onEvent func(TranscriptEvent), onError func(error)) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.fail(gen, "read", fmt.Errorf("%w: stt read: %v", iam.ErrServiceUnavailable, err), onError)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		var msg recognizeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[stt] JSON parse error: %v, data: %s", err, string(data[:min(200, len(data))]))
			continue
		}
		if msg.Error != "" {
			w.fail(gen, "provider", fmt.Errorf("%w: stt: %s", iam.ErrServiceUnavailable, msg.Error), onError)
			return
		}
		for _, warn := range msg.Warnings {
			log.Printf("[stt] provider warning: %s", warn)
		}
		if msg.State != "" {
			log.Printf("[stt] state=%s", msg.State)
			continue
		}
		for i, res := range msg.Results {
			for j, alt := range res.Alternatives {
				if !w.current(gen) {
					return
				}
				kind := "interim"
				if res.Final {
					kind = "final"
				}
				metricResults.WithLabelValues(kind).Inc()
				onEvent(TranscriptEvent{
					Text:        strings.TrimSpace(alt.Transcript),
					Confidence:  alt.Confidence,
					Final:       res.Final,
					ResultIndex: msg.ResultIndex + i,
					Alternative: j,
				})
			}
		}
	}
}

// pcm16 converts float samples in [-1,1] to little-endian signed 16-bit.
func pcm16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

func orDefault(s, def string) string { if s == "" { return def }; return s }
func nzd(v, def int) int { if v == 0 { return def }; return v }
