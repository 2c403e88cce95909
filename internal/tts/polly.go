package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type PollyConfig struct {
	Region     string
	Voice      string
	Engine     string
	SampleRate int // 8000 or 16000 for PCM output
}

// Polly synthesizes with Amazon Polly using raw PCM output.
type Polly struct {
	mu     sync.Mutex
	client synthClient
	cfg    PollyConfig
}

func NewPolly(cfg PollyConfig) *Polly {
	return newPollyWithClient(cfg, nil)
}

func newPollyWithClient(cfg PollyConfig, client synthClient) *Polly {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "Matthew"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.SampleRate != 8000 {
		cfg.SampleRate = 16000
	}
	return &Polly{client: client, cfg: cfg}
}

// Synthesize ignores Watson voice names; the configured Polly voice is used
// unless voice is a Polly voice id.
func (p *Polly) Synthesize(ctx context.Context, text, voice string) (Asset, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Asset{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, ErrEmptyText)
	}
	if voice == "" || strings.Contains(voice, "_") {
		voice = p.cfg.Voice
	}
	client, err := p.resolveClient(ctx)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	start := time.Now()
	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   aws.String(strconv.Itoa(p.cfg.SampleRate)),
		Text:         aws.String(text),
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voice),
	})
	if err != nil {
		reason := pollyReason(err)
		ttsSynthesisTotal.WithLabelValues("polly", reason).Inc()
		return Asset{}, fmt.Errorf("%w: polly %s: %v", ErrSynthesisFailed, reason, err)
	}
	if out == nil || out.AudioStream == nil {
		ttsSynthesisTotal.WithLabelValues("polly", "empty_audio").Inc()
		return Asset{}, fmt.Errorf("%w: polly returned no audio", ErrSynthesisFailed)
	}
	defer out.AudioStream.Close()
	raw, err := io.ReadAll(out.AudioStream)
	if err != nil {
		ttsSynthesisTotal.WithLabelValues("polly", "read").Inc()
		return Asset{}, fmt.Errorf("%w: polly read: %v", ErrSynthesisFailed, err)
	}

	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	asset := Asset{PCM: pcm, SampleRate: p.cfg.SampleRate}
	ttsSynthesisTotal.WithLabelValues("polly", "ok").Inc()
	ttsTotalDurationMS.WithLabelValues("polly").Observe(float64(time.Since(start).Milliseconds()))
	ttsAudioSeconds.Observe(asset.Duration().Seconds())
	log.Printf("[tts] polly synthesized voice=%s chars=%d audio=%s", voice, len(text), asset.Duration())
	return asset, nil
}

func pollyReason(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return "overload"
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException", "InvalidSampleRateException":
			return "client_error"
		default:
			return "server_error"
		}
	}
	return "transport"
}

func (p *Polly) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}
