package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voiceavatar/agent/internal/iam"
)

const DefaultVoice = "en-US_MichaelVoice"

type WatsonConfig struct {
	URL   string // service base URL
	Voice string
}

// Watson calls the Watson text-to-speech REST API and decodes the WAV body.
type Watson struct {
	cfg   WatsonConfig
	httpc *http.Client
}

// NewWatson expects httpc to attach credentials, see iam.Authenticator.Client.
func NewWatson(cfg WatsonConfig, httpc *http.Client) *Watson {
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Watson{cfg: cfg, httpc: httpc}
}

func (w *Watson) Synthesize(ctx context.Context, text, voice string) (Asset, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Asset{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, ErrEmptyText)
	}
	if voice == "" {
		voice = w.cfg.Voice
	}
	start := time.Now()

	q := url.Values{}
	q.Set("voice", voice)
	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL+"/v1/synthesize?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return Asset{}, fmt.Errorf("%w: build request: %v", ErrSynthesisFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := w.httpc.Do(req)
	if err != nil {
		ttsSynthesisTotal.WithLabelValues("watson", "transport").Inc()
		return Asset{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, iam.TransportError("tts", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ttsSynthesisTotal.WithLabelValues("watson", fmt.Sprint(resp.StatusCode)).Inc()
		return Asset{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, iam.StatusError("tts", resp))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		ttsSynthesisTotal.WithLabelValues("watson", "read").Inc()
		return Asset{}, fmt.Errorf("%w: read body: %v", ErrSynthesisFailed, err)
	}
	asset, err := DecodeWAV(raw)
	if err != nil {
		ttsSynthesisTotal.WithLabelValues("watson", "decode").Inc()
		return Asset{}, fmt.Errorf("%w: decode: %v", ErrSynthesisFailed, err)
	}

	ttsSynthesisTotal.WithLabelValues("watson", "ok").Inc()
	ttsTotalDurationMS.WithLabelValues("watson").Observe(float64(time.Since(start).Milliseconds()))
	ttsAudioSeconds.Observe(asset.Duration().Seconds())
	log.Printf("[tts] synthesized voice=%s chars=%d audio=%s in %dms", voice, len(text), asset.Duration(), time.Since(start).Milliseconds())
	return asset, nil
}
