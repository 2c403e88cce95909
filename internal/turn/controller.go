package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voiceavatar/agent/internal/capture"
	"voiceavatar/agent/internal/dialogue"
	"voiceavatar/agent/internal/floor"
	"voiceavatar/agent/internal/iam"
	"voiceavatar/agent/internal/intent"
	"voiceavatar/agent/internal/journal"
	"voiceavatar/agent/internal/playback"
	"voiceavatar/agent/internal/stt"
	"voiceavatar/agent/internal/tts"
)

var (
	ErrBusy           = errors.New("turn: a turn is already in progress")
	ErrNotRunning     = errors.New("turn: controller is not running")
	ErrEmptyText      = errors.New("turn: empty text")
	errAlreadyRunning = errors.New("turn: controller already running")
)

const (
	defaultGreeting         = "Hello"
	defaultWindow           = time.Second
	defaultSampleRate       = 22050
	defaultCallTimeout      = 20 * time.Second
	defaultBootstrapTimeout = 60 * time.Second
	defaultRelistenDelay    = time.Second
	publishTimeout          = 5 * time.Second
	deleteTimeout           = 5 * time.Second
	inboxSize               = 64
)

// Readiness is satisfied by a credential that can be proven usable.
type Readiness interface {
	Ready(ctx context.Context) error
}

type Credential struct {
	Service string
	Auth    Readiness
}

type Config struct {
	AssistantID string
	// Greeting is sent once at bootstrap; its reply is never spoken.
	Greeting    string
	Voice       string
	DeviceID    string
	Window      time.Duration
	SampleRate  int
	Recognition stt.Options

	CallTimeout      time.Duration
	BootstrapTimeout time.Duration
	// RelistenDelay throttles reopening the recognizer after it failed.
	RelistenDelay time.Duration
}

type Deps struct {
	Device      capture.Device
	Recognizer  stt.Recognizer
	Dialogue    dialogue.Client
	Synthesizer tts.Synthesizer
	Player      playback.Player
	Intents     intent.Publisher
	Journal     *journal.Store
	Credentials []Credential

	// OnWarning and OnTransition run on the loop goroutine and must not block.
	OnWarning    func(err error)
	OnTransition func(from, to State)
}

// inbox events; gen ties capture and recognizer callbacks to one arming,
// turnID ties async call results to one turn.
type (
	segmentEvent struct {
		gen uint64
		seg capture.Segment
	}
	captureWarningEvent struct {
		gen uint64
		err error
	}
	transcriptEvent struct {
		gen uint64
		ev  stt.TranscriptEvent
	}
	recognizerErrorEvent struct {
		gen uint64
		err error
	}
	replyEvent struct {
		turnID string
		reply  dialogue.Reply
		err    error
	}
	synthEvent struct {
		turnID string
		asset  tts.Asset
		err    error
	}
	playbackDoneEvent struct {
		turnID string
	}
	commandEvent struct {
		kind   commandKind
		text   string
		result chan error
	}
)

type commandKind int

const (
	cmdStop commandKind = iota
	cmdResume
	cmdSay
)

// Controller runs the half-duplex listen, dispatch, synthesize, speak cycle.
// All state below the channels is owned by the Run goroutine.
type Controller struct {
	cfg     Config
	deps    Deps
	journal *journal.Store

	inbox   chan any
	state   atomic.Int32
	running atomic.Bool
	ready   chan struct{}
	done    chan struct{}

	floor     *floor.Manager
	session   dialogue.Session
	gen       uint64
	buf       *capture.Buffer
	armCtx    context.Context
	armCancel context.CancelFunc
	lastOpen  time.Time
	// utterance is set while interim results arrive for the armed generation.
	utterance bool
	turnID    string
	finalAt   time.Time
	playTimer *time.Timer
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.Greeting == "" {
		cfg.Greeting = defaultGreeting
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.BootstrapTimeout <= 0 {
		cfg.BootstrapTimeout = defaultBootstrapTimeout
	}
	if cfg.RelistenDelay <= 0 {
		cfg.RelistenDelay = defaultRelistenDelay
	}
	if deps.Intents == nil {
		deps.Intents = intent.Log{}
	}
	if deps.Player == nil {
		deps.Player = playback.Discard{}
	}
	j := deps.Journal
	if j == nil {
		j = journal.New(0, nil)
	}
	return &Controller{
		cfg:     cfg,
		deps:    deps,
		journal: j,
		inbox:   make(chan any, inboxSize),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		floor:   floor.New(),
	}
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Ready is closed once bootstrap succeeds and the loop starts.
func (c *Controller) Ready() <-chan struct{} { return c.ready }

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) Journal() *journal.Store { return c.journal }

// Run bootstraps and then drives the loop until ctx ends. A bootstrap error
// is returned; later failures are contained and logged.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(c.done)

	if err := c.bootstrap(ctx); err != nil {
		log.Printf("[turn] bootstrap failed: %v", err)
		c.journal.Append("", "bootstrap_failed", map[string]any{"error": err.Error()})
		c.setState(Idle)
		return err
	}
	close(c.ready)
	c.arm(ctx)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case ev := <-c.inbox:
			c.handle(ctx, ev)
		}
	}
}

// Stop releases capture now, or after the in-flight turn, and stays Idle.
func (c *Controller) Stop(ctx context.Context) error {
	return c.command(ctx, cmdStop, "")
}

// Resume clears a stop request and rearms if Idle.
func (c *Controller) Resume(ctx context.Context) error {
	return c.command(ctx, cmdResume, "")
}

// Say dispatches typed text as if it were a winning transcript. It fails
// with ErrBusy unless the controller is listening.
func (c *Controller) Say(ctx context.Context, text string) error {
	return c.command(ctx, cmdSay, text)
}

func (c *Controller) command(ctx context.Context, kind commandKind, text string) error {
	cmd := commandEvent{kind: kind, text: text, result: make(chan error, 1)}
	select {
	case c.inbox <- cmd:
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an event to the loop unless ctx or the loop has ended.
func (c *Controller) post(ctx context.Context, ev any) {
	select {
	case c.inbox <- ev:
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *Controller) bootstrap(ctx context.Context) error {
	start := time.Now()
	c.setState(Bootstrapping)
	bctx, cancel := context.WithTimeout(ctx, c.cfg.BootstrapTimeout)
	defer cancel()

	for _, cred := range c.deps.Credentials {
		if err := cred.Auth.Ready(bctx); err != nil {
			metricErrors.WithLabelValues("bootstrap", cred.Service).Inc()
			return fmt.Errorf("bootstrap: %s credentials: %w", cred.Service, err)
		}
	}

	sess, err := c.createSession(bctx)
	if err != nil {
		return fmt.Errorf("bootstrap: create session: %w", err)
	}
	c.session = sess
	c.journal.Append("", "session_created", map[string]any{"session_id": sess.ID})

	mctx, mcancel := context.WithTimeout(bctx, c.cfg.CallTimeout)
	reply, err := c.deps.Dialogue.SendMessage(mctx, sess, c.cfg.Greeting)
	mcancel()
	switch {
	case errors.Is(err, iam.ErrAuthenticationFailed):
		return fmt.Errorf("bootstrap: greeting: %w", err)
	case err != nil:
		metricErrors.WithLabelValues("bootstrap", "dialogue").Inc()
		log.Printf("[turn] phase=bootstrap client=dialogue greeting failed, continuing: %v", err)
		c.journal.Append("", "warning", map[string]any{"phase": "bootstrap", "error": err.Error()})
	default:
		c.journal.Append("", "bootstrap_reply_discarded", map[string]any{"text": reply.Text, "intent": reply.Intent})
	}

	metricBootstrapMs.Observe(float64(time.Since(start).Milliseconds()))
	log.Printf("[turn] bootstrap complete session=%s in %s", sess.ID, time.Since(start).Round(time.Millisecond))
	return nil
}

// createSession retries while the assistant is unavailable.
func (c *Controller) createSession(ctx context.Context) (dialogue.Session, error) {
	for attempt := 0; ; attempt++ {
		sess, err := c.deps.Dialogue.CreateSession(ctx, c.cfg.AssistantID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, iam.ErrServiceUnavailable) {
			return dialogue.Session{}, err
		}
		metricErrors.WithLabelValues("bootstrap", "dialogue").Inc()
		log.Printf("[turn] phase=bootstrap client=dialogue attempt=%d: %v", attempt+1, err)
		if serr := iam.Sleep(ctx, iam.Backoff(attempt)); serr != nil {
			return dialogue.Session{}, err
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case segmentEvent:
		c.onSegment(e)
	case captureWarningEvent:
		c.onCaptureWarning(e)
	case transcriptEvent:
		c.onTranscript(ctx, e)
	case recognizerErrorEvent:
		c.onRecognizerError(e)
	case replyEvent:
		c.onReply(ctx, e)
	case synthEvent:
		c.onSynth(ctx, e)
	case playbackDoneEvent:
		c.onPlaybackDone(ctx, e)
	case commandEvent:
		e.result <- c.onCommand(ctx, e)
	}
}

// arm opens the recognizer and starts a fresh capture buffer under a new
// generation.
func (c *Controller) arm(ctx context.Context) {
	if c.floor.StopRequested() {
		c.setState(Idle)
		return
	}
	if !c.floor.CanListen() {
		log.Printf("[turn] arm refused while speaking")
		return
	}
	c.gen++
	gen := c.gen
	actx, cancel := context.WithCancel(ctx)
	c.armCtx, c.armCancel = actx, cancel

	c.openRecognizer(actx, gen)

	c.buf = capture.NewBuffer(c.deps.Device,
		func(sctx context.Context, seg capture.Segment) { c.post(sctx, segmentEvent{gen: gen, seg: seg}) },
		func(wctx context.Context, err error) { c.post(wctx, captureWarningEvent{gen: gen, err: err}) },
	)
	if err := c.buf.Start(actx, c.cfg.DeviceID, c.cfg.Window, c.cfg.SampleRate); err != nil {
		metricErrors.WithLabelValues("listen", "capture").Inc()
		log.Printf("[turn] phase=listen client=capture: %v", err)
		c.journal.Append("", "warning", map[string]any{"phase": "listen", "error": err.Error()})
		c.disarm()
		c.warn(err)
		c.setState(Idle)
		return
	}
	c.floor.OnListenStarted()
	c.setState(Listening)
}

func (c *Controller) openRecognizer(ctx context.Context, gen uint64) {
	c.lastOpen = time.Now()
	c.deps.Recognizer.Configure(c.cfg.Recognition)
	err := c.deps.Recognizer.StartListening(ctx,
		func(ev stt.TranscriptEvent) { c.post(ctx, transcriptEvent{gen: gen, ev: ev}) },
		func(err error) { c.post(ctx, recognizerErrorEvent{gen: gen, err: err}) },
	)
	if err != nil {
		metricErrors.WithLabelValues("listen", "stt").Inc()
		log.Printf("[turn] phase=listen client=stt: %v", err)
		c.journal.Append("", "warning", map[string]any{"phase": "listen", "client": "stt", "error": err.Error()})
	}
}

// disarm stops capture, then recognition, and retires the generation.
func (c *Controller) disarm() {
	if c.armCancel == nil {
		return
	}
	c.armCancel()
	c.armCtx, c.armCancel = nil, nil
	if c.buf != nil {
		c.buf.Stop()
		c.buf = nil
	}
	c.deps.Recognizer.StopListening()
	c.floor.OnListenStopped()
	c.utterance = false
	c.gen++
}

func (c *Controller) onSegment(e segmentEvent) {
	if e.gen != c.gen || !c.State().capturing() {
		metricDropped.WithLabelValues("segment").Inc()
		return
	}
	if !c.deps.Recognizer.IsListening() {
		if time.Since(c.lastOpen) < c.cfg.RelistenDelay {
			metricDropped.WithLabelValues("segment").Inc()
			return
		}
		c.openRecognizer(c.armCtx, c.gen)
		if !c.deps.Recognizer.IsListening() {
			metricDropped.WithLabelValues("segment").Inc()
			return
		}
	}
	c.deps.Recognizer.Feed(e.seg)
}

func (c *Controller) onCaptureWarning(e captureWarningEvent) {
	if e.gen != c.gen {
		metricDropped.WithLabelValues("capture_warning").Inc()
		return
	}
	metricErrors.WithLabelValues("listen", "capture").Inc()
	log.Printf("[turn] phase=listen client=capture: %v", e.err)
	c.journal.Append("", "warning", map[string]any{"phase": "listen", "client": "capture", "error": e.err.Error()})
	c.disarm()
	c.setState(Idle)
	c.warn(e.err)
}

func (c *Controller) onTranscript(ctx context.Context, e transcriptEvent) {
	if e.gen != c.gen || !c.State().capturing() {
		metricDropped.WithLabelValues("transcript").Inc()
		return
	}
	ev := e.ev
	if !ev.Final {
		if strings.TrimSpace(ev.Text) != "" {
			c.utterance = true
		}
		return
	}
	// First alternative with a positive confidence wins.
	if ev.Confidence <= 0 || strings.TrimSpace(ev.Text) == "" {
		c.utterance = false
		return
	}
	c.floor.OnFinal()
	c.disarm()
	c.setState(Recognizing)
	c.dispatch(ctx, strings.TrimSpace(ev.Text), "speech", ev.Confidence)
}

func (c *Controller) onRecognizerError(e recognizerErrorEvent) {
	if e.gen != c.gen {
		metricDropped.WithLabelValues("recognizer_error").Inc()
		return
	}
	metricErrors.WithLabelValues("listen", "stt").Inc()
	log.Printf("[turn] phase=listen client=stt: %v", e.err)
	c.journal.Append("", "warning", map[string]any{"phase": "listen", "client": "stt", "error": e.err.Error()})
	if c.utterance {
		metricDropped.WithLabelValues("utterance").Inc()
		c.utterance = false
	}
}

func (c *Controller) dispatch(ctx context.Context, text, source string, confidence float64) {
	c.turnID = uuid.NewString()
	c.finalAt = time.Now()
	turnID, sess := c.turnID, c.session
	metricTurns.WithLabelValues(source).Inc()
	c.journal.Append(turnID, "transcript", map[string]any{"text": text, "source": source, "confidence": confidence})
	c.setState(Dispatching)

	go func() {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		reply, err := c.deps.Dialogue.SendMessage(cctx, sess, text)
		c.post(ctx, replyEvent{turnID: turnID, reply: reply, err: err})
	}()
}

func (c *Controller) onReply(ctx context.Context, e replyEvent) {
	if e.turnID != c.turnID || c.State() != Dispatching {
		metricDropped.WithLabelValues("reply").Inc()
		return
	}
	if e.err != nil {
		c.turnFailed(ctx, "dispatch", "dialogue", e.err)
		return
	}
	c.journal.Append(e.turnID, "reply", map[string]any{"text": e.reply.Text, "intent": e.reply.Intent})
	c.publishIntent(ctx, e.turnID, e.reply)

	text := strings.TrimSpace(e.reply.Text)
	if text == "" {
		log.Printf("[turn] turn=%s empty reply, nothing to speak", e.turnID)
		c.endTurn(ctx, "empty_reply")
		return
	}
	if c.floor.StopRequested() {
		c.endTurn(ctx, "stop_requested")
		return
	}
	c.setState(Synthesizing)
	turnID := e.turnID
	go func() {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
		asset, err := c.deps.Synthesizer.Synthesize(cctx, text, c.cfg.Voice)
		c.post(ctx, synthEvent{turnID: turnID, asset: asset, err: err})
	}()
}

func (c *Controller) publishIntent(ctx context.Context, turnID string, reply dialogue.Reply) {
	evt := intent.Event{
		TurnID:  turnID,
		Intent:  reply.Intent,
		Reply:   reply.Text,
		Gesture: intent.GestureFor(reply.Intent),
		At:      time.Now().UTC(),
	}
	pub := c.deps.Intents
	go func() {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := pub.Publish(pctx, evt); err != nil {
			metricErrors.WithLabelValues("dispatch", "intent").Inc()
			log.Printf("[turn] turn=%s intent publish failed: %v", turnID, err)
		}
	}()
}

func (c *Controller) onSynth(ctx context.Context, e synthEvent) {
	if e.turnID != c.turnID || c.State() != Synthesizing {
		metricDropped.WithLabelValues("synth").Inc()
		return
	}
	if e.err != nil {
		c.turnFailed(ctx, "synthesize", "tts", e.err)
		return
	}
	if c.floor.StopRequested() {
		c.endTurn(ctx, "stop_requested")
		return
	}
	c.floor.OnSpeakStarted(e.turnID)
	c.setState(Speaking)
	if err := c.deps.Player.Play(ctx, e.asset); err != nil {
		c.turnFailed(ctx, "speak", "playback", err)
		return
	}
	metricResponseMs.Observe(float64(time.Since(c.finalAt).Milliseconds()))
	c.journal.Append(e.turnID, "speaking", map[string]any{"duration_ms": e.asset.Duration().Milliseconds()})
	turnID := e.turnID
	c.playTimer = time.AfterFunc(e.asset.Duration(), func() {
		c.post(ctx, playbackDoneEvent{turnID: turnID})
	})
}

func (c *Controller) onPlaybackDone(ctx context.Context, e playbackDoneEvent) {
	if e.turnID != c.turnID || c.State() != Speaking {
		metricDropped.WithLabelValues("playback").Inc()
		return
	}
	c.playTimer = nil
	dec := c.floor.OnSpeakDone(e.turnID)
	c.journal.Append(e.turnID, "turn_complete", map[string]any{"reason": dec.Reason})
	c.turnID = ""
	if dec.Rearm {
		c.arm(ctx)
		return
	}
	c.setState(Idle)
}

func (c *Controller) turnFailed(ctx context.Context, phase, client string, err error) {
	metricErrors.WithLabelValues(phase, client).Inc()
	log.Printf("[turn] phase=%s client=%s turn=%s: %v", phase, client, c.turnID, err)
	c.journal.Append(c.turnID, "error", map[string]any{"phase": phase, "client": client, "error": err.Error()})
	c.endTurn(ctx, phase+"_failed")
}

// endTurn closes a turn that will not be spoken and rearms unless stopped.
func (c *Controller) endTurn(ctx context.Context, reason string) {
	dec := c.floor.OnTurnAborted()
	c.journal.Append(c.turnID, "turn_complete", map[string]any{"reason": reason})
	c.turnID = ""
	if dec.Rearm {
		c.arm(ctx)
		return
	}
	c.setState(Idle)
}

func (c *Controller) onCommand(ctx context.Context, e commandEvent) error {
	switch e.kind {
	case cmdStop:
		c.floor.RequestStop()
		c.journal.Append(c.turnID, "stop_requested", nil)
		if c.State().capturing() {
			c.disarm()
			c.setState(Idle)
		}
		return nil
	case cmdResume:
		c.floor.ClearStop()
		c.journal.Append(c.turnID, "resumed", nil)
		if c.State() == Idle {
			c.arm(ctx)
		}
		return nil
	case cmdSay:
		text := strings.TrimSpace(e.text)
		if text == "" {
			return ErrEmptyText
		}
		if !c.State().capturing() {
			return ErrBusy
		}
		c.floor.OnFinal()
		c.disarm()
		c.dispatch(ctx, text, "typed", 1)
		return nil
	}
	return fmt.Errorf("turn: unknown command %d", e.kind)
}

func (c *Controller) shutdown() {
	c.disarm()
	if c.playTimer != nil {
		c.playTimer.Stop()
		c.playTimer = nil
	}
	c.setState(Idle)
	if !c.session.Valid() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := c.deps.Dialogue.DeleteSession(ctx, c.session); err != nil {
		log.Printf("[turn] delete session %s: %v", c.session.ID, err)
		return
	}
	log.Printf("[turn] session %s deleted", c.session.ID)
}

func (c *Controller) setState(to State) {
	from := c.State()
	if from == to {
		return
	}
	c.state.Store(int32(to))
	metricStateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	log.Printf("[turn] state %s -> %s", from, to)
	c.journal.Append(c.turnID, "state", map[string]any{"from": from.String(), "to": to.String()})
	if c.deps.OnTransition != nil {
		c.deps.OnTransition(from, to)
	}
}

func (c *Controller) warn(err error) {
	if c.deps.OnWarning != nil {
		c.deps.OnWarning(err)
	}
}
