package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// ErrConfiguration marks a missing or invalid setting. It is fatal at bootstrap.
var ErrConfiguration = errors.New("configuration error")

const (
	DefaultAssistantURL = "https://gateway.watsonplatform.net/assistant/api"
	DefaultSTTURL       = "https://stream.watsonplatform.net/speech-to-text/api"
	DefaultTTSURL       = "https://stream.watsonplatform.net/text-to-speech/api"
	DefaultIAMURL       = "https://iam.cloud.ibm.com/identity/token"
)

type Config struct {
	Server struct {
		Addr     string
		LogLevel string
	}
	Control struct {
		Addr          string
		InstanceID    string
		TokenSecret   string
		TokenSkewSecs int
	}
	IAM struct {
		URL string
	}
	Assistant struct {
		URL      string
		APIKey   string
		ID       string
		Version  string
		Greeting string
	}
	STT struct {
		URL              string
		APIKey           string
		Model            string
		SilenceDetection bool
		SilenceThreshold float64
		MaxAlternatives  int
		InterimResults   bool
		WordConfidence   bool
		Timestamps       bool
	}
	TTS struct {
		Provider string
		URL      string
		APIKey   string
		Voice    string
	}
	Polly struct {
		Region string
		Voice  string
		Engine string
	}
	Capture struct {
		Device        string
		Command       string
		WindowSeconds float64
		SampleRate    int
	}
	Playback struct {
		Command string
	}
	Turn struct {
		TimeoutSeconds          int
		BootstrapTimeoutSeconds int
	}
	MQTT struct {
		BrokerURL   string
		ClientID    string
		Username    string
		Password    string
		TopicPrefix string
	}
	Journal struct {
		DSN       string
		MaxEvents int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("control.addr", ":9090")
	v.SetDefault("control.instance_id", "avatar")
	v.SetDefault("control.token_skew_secs", 30)

	v.SetDefault("iam.url", DefaultIAMURL)

	v.SetDefault("assistant.url", DefaultAssistantURL)
	v.SetDefault("assistant.version", "2019-02-28")
	v.SetDefault("assistant.greeting", "Hello")

	v.SetDefault("stt.url", DefaultSTTURL)
	v.SetDefault("stt.model", "en-US_BroadbandModel")
	v.SetDefault("stt.silence_detection", true)
	v.SetDefault("stt.silence_threshold", 0.03)
	v.SetDefault("stt.max_alternatives", 1)
	v.SetDefault("stt.interim_results", true)
	v.SetDefault("stt.word_confidence", false)
	v.SetDefault("stt.timestamps", false)

	v.SetDefault("tts.provider", "watson")
	v.SetDefault("tts.url", DefaultTTSURL)
	v.SetDefault("tts.voice", "en-US_MichaelVoice")

	v.SetDefault("polly.region", "us-east-1")
	v.SetDefault("polly.voice", "Matthew")
	v.SetDefault("polly.engine", "neural")

	v.SetDefault("capture.command", "arecord -q -t raw -f S16_LE -c 1 -r {rate}")
	v.SetDefault("capture.window_seconds", 1.0)
	v.SetDefault("capture.sample_rate", 22050)

	v.SetDefault("playback.command", "aplay -q -t raw -f S16_LE -c 1 -r {rate}")

	v.SetDefault("turn.timeout_seconds", 20)
	v.SetDefault("turn.bootstrap_timeout_seconds", 60)

	v.SetDefault("mqtt.client_id", "avatar-agent")
	v.SetDefault("mqtt.topic_prefix", "avatar")

	v.SetDefault("journal.max_events", 200)

	// Map envs
	v.BindEnv("server.addr", "ADMIN_ADDR")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("control.addr", "CONTROL_ADDR")
	v.BindEnv("control.instance_id", "CONTROL_INSTANCE_ID")
	v.BindEnv("control.token_secret", "CONTROL_TOKEN_SECRET")
	v.BindEnv("control.token_skew_secs", "CONTROL_TOKEN_SKEW_SECS")

	v.BindEnv("iam.url", "IAM_URL")

	v.BindEnv("assistant.url", "ASSISTANT_URL")
	v.BindEnv("assistant.api_key", "ASSISTANT_API_KEY")
	v.BindEnv("assistant.id", "ASSISTANT_ID")
	v.BindEnv("assistant.version", "ASSISTANT_VERSION")
	v.BindEnv("assistant.greeting", "ASSISTANT_GREETING")

	v.BindEnv("stt.url", "STT_URL")
	v.BindEnv("stt.api_key", "STT_API_KEY")
	v.BindEnv("stt.model", "STT_MODEL")
	v.BindEnv("stt.silence_detection", "STT_SILENCE_DETECTION")
	v.BindEnv("stt.silence_threshold", "STT_SILENCE_THRESHOLD")
	v.BindEnv("stt.max_alternatives", "STT_MAX_ALTERNATIVES")
	v.BindEnv("stt.interim_results", "STT_INTERIM_RESULTS")
	v.BindEnv("stt.word_confidence", "STT_WORD_CONFIDENCE")
	v.BindEnv("stt.timestamps", "STT_TIMESTAMPS")

	v.BindEnv("tts.provider", "TTS_PROVIDER")
	v.BindEnv("tts.url", "TTS_URL")
	v.BindEnv("tts.api_key", "TTS_API_KEY")
	v.BindEnv("tts.voice", "TTS_VOICE")

	v.BindEnv("polly.region", "POLLY_REGION")
	v.BindEnv("polly.voice", "POLLY_VOICE")
	v.BindEnv("polly.engine", "POLLY_ENGINE")

	v.BindEnv("capture.device", "CAPTURE_DEVICE")
	v.BindEnv("capture.command", "CAPTURE_COMMAND")
	v.BindEnv("capture.window_seconds", "CAPTURE_WINDOW_SECONDS")
	v.BindEnv("capture.sample_rate", "CAPTURE_SAMPLE_RATE")

	v.BindEnv("playback.command", "PLAYBACK_COMMAND")

	v.BindEnv("turn.timeout_seconds", "TURN_TIMEOUT_SECONDS")
	v.BindEnv("turn.bootstrap_timeout_seconds", "TURN_BOOTSTRAP_TIMEOUT_SECONDS")

	v.BindEnv("mqtt.broker_url", "MQTT_BROKER_URL")
	v.BindEnv("mqtt.client_id", "MQTT_CLIENT_ID")
	v.BindEnv("mqtt.username", "MQTT_USERNAME")
	v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	v.BindEnv("mqtt.topic_prefix", "MQTT_TOPIC_PREFIX")

	v.BindEnv("journal.dsn", "JOURNAL_DSN")
	v.BindEnv("journal.max_events", "JOURNAL_MAX_EVENTS")

	var c Config
	c.Server.Addr = toString(v.Get("server.addr"))
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Control.Addr = toString(v.Get("control.addr"))
	c.Control.InstanceID = v.GetString("control.instance_id")
	c.Control.TokenSecret = v.GetString("control.token_secret")
	c.Control.TokenSkewSecs = v.GetInt("control.token_skew_secs")

	c.IAM.URL = v.GetString("iam.url")

	c.Assistant.URL = strings.TrimRight(v.GetString("assistant.url"), "/")
	c.Assistant.APIKey = v.GetString("assistant.api_key")
	c.Assistant.ID = v.GetString("assistant.id")
	c.Assistant.Version = v.GetString("assistant.version")
	c.Assistant.Greeting = v.GetString("assistant.greeting")

	c.STT.URL = strings.TrimRight(v.GetString("stt.url"), "/")
	c.STT.APIKey = v.GetString("stt.api_key")
	c.STT.Model = v.GetString("stt.model")
	c.STT.SilenceDetection = v.GetBool("stt.silence_detection")
	c.STT.SilenceThreshold = v.GetFloat64("stt.silence_threshold")
	c.STT.MaxAlternatives = v.GetInt("stt.max_alternatives")
	c.STT.InterimResults = v.GetBool("stt.interim_results")
	c.STT.WordConfidence = v.GetBool("stt.word_confidence")
	c.STT.Timestamps = v.GetBool("stt.timestamps")

	c.TTS.Provider = strings.ToLower(v.GetString("tts.provider"))
	c.TTS.URL = strings.TrimRight(v.GetString("tts.url"), "/")
	c.TTS.APIKey = v.GetString("tts.api_key")
	c.TTS.Voice = v.GetString("tts.voice")

	c.Polly.Region = v.GetString("polly.region")
	c.Polly.Voice = v.GetString("polly.voice")
	c.Polly.Engine = v.GetString("polly.engine")

	c.Capture.Device = v.GetString("capture.device")
	c.Capture.Command = v.GetString("capture.command")
	c.Capture.WindowSeconds = v.GetFloat64("capture.window_seconds")
	c.Capture.SampleRate = v.GetInt("capture.sample_rate")

	c.Playback.Command = v.GetString("playback.command")

	c.Turn.TimeoutSeconds = v.GetInt("turn.timeout_seconds")
	c.Turn.BootstrapTimeoutSeconds = v.GetInt("turn.bootstrap_timeout_seconds")

	c.MQTT.BrokerURL = v.GetString("mqtt.broker_url")
	c.MQTT.ClientID = v.GetString("mqtt.client_id")
	c.MQTT.Username = v.GetString("mqtt.username")
	c.MQTT.Password = v.GetString("mqtt.password")
	c.MQTT.TopicPrefix = v.GetString("mqtt.topic_prefix")

	c.Journal.DSN = v.GetString("journal.dsn")
	c.Journal.MaxEvents = v.GetInt("journal.max_events")

	log.Printf("config loaded: admin=%s control=%s tts=%s rate=%d", c.Server.Addr, c.Control.Addr, c.TTS.Provider, c.Capture.SampleRate)
	return c
}

// Validate reports every missing credential or out-of-range setting. Each
// returned error wraps ErrConfiguration.
func (c Config) Validate() error {
	var errs []error
	missing := func(key string) {
		errs = append(errs, fmt.Errorf("%w: %s is required", ErrConfiguration, key))
	}

	if c.Assistant.APIKey == "" {
		missing("assistant.api_key")
	}
	if c.Assistant.ID == "" {
		missing("assistant.id")
	}
	if c.STT.APIKey == "" {
		missing("stt.api_key")
	}
	switch c.TTS.Provider {
	case "watson":
		if c.TTS.APIKey == "" {
			missing("tts.api_key")
		}
	case "polly":
		if c.Polly.Region == "" {
			missing("polly.region")
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown tts.provider %q", ErrConfiguration, c.TTS.Provider))
	}
	if c.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("%w: capture.sample_rate must be positive", ErrConfiguration))
	}
	if c.Capture.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("%w: capture.window_seconds must be positive", ErrConfiguration))
	}
	if c.STT.SilenceThreshold < 0 || c.STT.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("%w: stt.silence_threshold must be in [0,1]", ErrConfiguration))
	}
	return errors.Join(errs...)
}

func toString(v any) string { return fmt.Sprint(v) }
