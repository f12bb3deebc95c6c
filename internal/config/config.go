// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the screening session service.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Conversation  ConversationConfig
	Capture       CaptureConfig
	Identity      IdentityConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listen addresses and the service principal.
type ServiceConfig struct {
	Principal   string
	HTTPAddr    string
	GRPCPort    string
	MetricsAddr string
}

// STTConfig selects and tunes the speech-to-text source.
type STTConfig struct {
	Provider       string // mock, google
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	AudioInput     string // WAV file streamed to the google adapter
}

// ConversationConfig tunes utterance finalization and the interpretation endpoint.
type ConversationConfig struct {
	DebounceDelay  time.Duration
	InterpretURL   string
	RequestTimeout time.Duration
}

// CaptureConfig tunes periodic frame capture for affect inference.
type CaptureConfig struct {
	Enabled       bool
	Interval      time.Duration
	AffectURL     string
	FramesDir     string
	MaxFrameWidth int
}

// IdentityConfig is the owner/subject context injected into the coordinator.
type IdentityConfig struct {
	OwnerID       string
	SubjectID     string
	SubjectName   string
	SubjectAge    int
	SubjectGender string

	// RequireOwner rejects interpretation while OwnerID is empty.
	RequireOwner bool
}

// KafkaConfig configures turn and result publishing.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicTurns   string
	TopicResults string
	Principal    string
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. Unparseable values fall
// back to their defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-screening-session")

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPAddr:    envOrDefault("HTTP_ADDR", ":8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			AudioInput:     envOrDefault("STT_AUDIO_INPUT", ""),
		},
		Conversation: ConversationConfig{
			DebounceDelay:  envOrDefaultDuration("TRANSCRIPT_DEBOUNCE", 1500*time.Millisecond),
			InterpretURL:   envOrDefault("INTERPRET_URL", "http://localhost:8000"),
			RequestTimeout: envOrDefaultDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Capture: CaptureConfig{
			Enabled:       envOrDefaultBool("CAPTURE_ENABLED", true),
			Interval:      envOrDefaultDuration("CAPTURE_INTERVAL", 2*time.Second),
			AffectURL:     envOrDefault("AFFECT_URL", "http://localhost:880"),
			FramesDir:     envOrDefault("CAPTURE_FRAMES_DIR", "./frames"),
			MaxFrameWidth: envOrDefaultInt("CAPTURE_MAX_FRAME_WIDTH", 640),
		},
		Identity: IdentityConfig{
			OwnerID:       envOrDefault("OWNER_ID", ""),
			SubjectID:     envOrDefault("SUBJECT_ID", ""),
			SubjectName:   envOrDefault("SUBJECT_NAME", ""),
			SubjectAge:    envOrDefaultInt("SUBJECT_AGE", 0),
			SubjectGender: envOrDefault("SUBJECT_GENDER", ""),
			RequireOwner:  envOrDefaultBool("REQUIRE_OWNER", false),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTurns:   envOrDefault("KAFKA_TOPIC_TURNS", "screening.conversation.turns"),
			TopicResults: envOrDefault("KAFKA_TOPIC_RESULTS", "screening.session.results"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
