package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"voiceavatar/agent/internal/api"
	"voiceavatar/agent/internal/config"
	"voiceavatar/agent/internal/control"
	"voiceavatar/agent/internal/device"
	"voiceavatar/agent/internal/dialogue"
	"voiceavatar/agent/internal/health"
	"voiceavatar/agent/internal/iam"
	"voiceavatar/agent/internal/intent"
	"voiceavatar/agent/internal/journal"
	"voiceavatar/agent/internal/playback"
	"voiceavatar/agent/internal/stt"
	"voiceavatar/agent/internal/tts"
	"voiceavatar/agent/internal/turn"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpc := &http.Client{Timeout: 30 * time.Second}
	assistantAuth := mustAuth("assistant", cfg.Assistant.APIKey, cfg.IAM.URL, httpc)
	sttAuth := mustAuth("stt", cfg.STT.APIKey, cfg.IAM.URL, httpc)
	creds := []turn.Credential{
		{Service: "assistant", Auth: assistantAuth},
		{Service: "stt", Auth: sttAuth},
	}
	probes := []health.Probe{health.TokenProbe(assistantAuth), health.TokenProbe(sttAuth)}

	var synth tts.Synthesizer
	switch cfg.TTS.Provider {
	case "polly":
		synth = tts.NewPolly(tts.PollyConfig{
			Region: cfg.Polly.Region,
			Voice:  cfg.Polly.Voice,
			Engine: cfg.Polly.Engine,
		})
	default:
		ttsAuth := mustAuth("tts", cfg.TTS.APIKey, cfg.IAM.URL, httpc)
		creds = append(creds, turn.Credential{Service: "tts", Auth: ttsAuth})
		probes = append(probes, health.TokenProbe(ttsAuth))
		synth = tts.NewWatson(tts.WatsonConfig{URL: cfg.TTS.URL, Voice: cfg.TTS.Voice}, ttsAuth.Client(httpc))
	}

	var player playback.Player = playback.Discard{}
	var speaker *device.CommandSpeaker
	if cfg.Playback.Command != "" {
		speaker = device.NewCommandSpeaker(cfg.Playback.Command, cfg.Capture.Device)
		player = speaker
	}

	var publisher intent.Publisher = intent.Log{}
	var mqtt *intent.MQTT
	if cfg.MQTT.BrokerURL != "" {
		m, err := intent.NewMQTT(intent.MQTTConfig{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			log.Printf("mqtt unavailable, logging intents instead: %v", err)
		} else {
			mqtt, publisher = m, m
		}
	}

	var sink journal.Sink
	var pg *journal.PGSink
	if cfg.Journal.DSN != "" {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		p, err := journal.NewPGSink(pctx, cfg.Journal.DSN)
		cancel()
		if err != nil {
			log.Printf("journal sink disabled: %v", err)
		} else {
			pg, sink = p, p
		}
	}
	events := journal.New(cfg.Journal.MaxEvents, sink)

	recognizer := stt.NewWatson(stt.WatsonConfig{
		URL:        cfg.STT.URL,
		Model:      cfg.STT.Model,
		SampleRate: cfg.Capture.SampleRate,
	}, sttAuth.TokenSource())

	ctrl := turn.New(turn.Config{
		AssistantID: cfg.Assistant.ID,
		Greeting:    cfg.Assistant.Greeting,
		Voice:       cfg.TTS.Voice,
		DeviceID:    cfg.Capture.Device,
		Window:      time.Duration(cfg.Capture.WindowSeconds * float64(time.Second)),
		SampleRate:  cfg.Capture.SampleRate,
		Recognition: stt.Options{
			SilenceDetection: cfg.STT.SilenceDetection,
			SilenceThreshold: float32(cfg.STT.SilenceThreshold),
			MaxAlternatives:  cfg.STT.MaxAlternatives,
			InterimResults:   cfg.STT.InterimResults,
			WordConfidence:   cfg.STT.WordConfidence,
			Timestamps:       cfg.STT.Timestamps,
		},
		CallTimeout:      time.Duration(cfg.Turn.TimeoutSeconds) * time.Second,
		BootstrapTimeout: time.Duration(cfg.Turn.BootstrapTimeoutSeconds) * time.Second,
	}, turn.Deps{
		Device:      device.NewCommandMic(cfg.Capture.Command),
		Recognizer:  recognizer,
		Dialogue:    dialogue.NewWatson(dialogue.WatsonConfig{URL: cfg.Assistant.URL, Version: cfg.Assistant.Version}, assistantAuth.Client(httpc)),
		Synthesizer: synth,
		Player:      player,
		Intents:     publisher,
		Journal:     events,
		Credentials: creds,
		OnWarning: func(err error) {
			log.Printf("warning: %v; use /turn/resume once the device is back", err)
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           logMiddleware(api.NewRouter(api.NewHandlers(ctrl, events, probes...))),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("admin http listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("admin http error: %v", err)
			stop()
		}
	}()

	gs := control.NewGRPCServer(control.NewServer(ctrl),
		control.NewTokenAuth(cfg.Control.TokenSecret, cfg.Control.InstanceID, cfg.Control.TokenSkewSecs))
	l, err := net.Listen("tcp", cfg.Control.Addr)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.Control.Addr, err)
	}
	go func() {
		log.Printf("control grpc listening on %s", cfg.Control.Addr)
		if err := gs.Serve(l); err != nil {
			log.Printf("control grpc error: %v", err)
		}
	}()

	runErr := ctrl.Run(ctx)
	if runErr != nil {
		log.Printf("avatar stopped: %v", runErr)
	}

	log.Printf("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	gs.GracefulStop()
	if speaker != nil {
		speaker.Close()
	}
	if mqtt != nil {
		mqtt.Close()
	}
	events.Close()
	if pg != nil {
		pg.Close()
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func mustAuth(service, apiKey, url string, httpc *http.Client) *iam.Authenticator {
	a, err := iam.NewAuthenticator(service, apiKey, url, httpc)
	if err != nil {
		log.Fatalf("%s: %v", service, err)
	}
	return a
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
