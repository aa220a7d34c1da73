package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type LLMProvider string

const (
	LLMProviderOpenAI LLMProvider = "openai"
	LLMProviderGemini LLMProvider = "gemini"
)

type TTSProvider string

const (
	TTSProviderOpenAI   TTSProvider = "openai"
	TTSProviderCartesia TTSProvider = "cartesia"
)

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StorePostgres StoreKind = "postgres"
	StoreRedis    StoreKind = "redis"
)

type Config struct {
	Addr string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Per-session limits.
	LimitRPS                  float64
	LimitBurst                int
	LimitMaxConcurrentStreams int

	// Dialogue defaults.
	Timezone           string
	DefaultDurationMin int
	HistoryWindow      int

	// Capability providers.
	LLMProviderName LLMProvider
	TTSProviderName TTSProvider

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	GeminiAPIKey string
	GeminiModel  string

	CartesiaAPIKey string
	TTSVoice       string

	// Capability timeouts.
	LLMTimeout     time.Duration
	TTSTimeout     time.Duration
	ASRTimeout     time.Duration
	BookingTimeout time.Duration

	// Transcript persistence.
	TranscriptStore StoreKind
	PostgresDSN     string
	RedisAddr       string
	RedisTTL        time.Duration

	// Google Calendar OAuth.
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	GoogleCredentialsFile string

	// Live WebSocket mode (/v1/live).
	LiveMaxAudioFrameBytes int
	LiveWSWriteTimeout     time.Duration
	LiveWSPingInterval     time.Duration
	LiveMaxSessionDuration time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("MEETLINE_ADDR", ":8080"),
		CORSAllowedOrigins:     make(map[string]struct{}),
		LimitRPS:               envFloat64Or("MEETLINE_RATE_LIMIT_RPS", 2.0),
		LimitBurst:             envIntOr("MEETLINE_RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentStreams: envIntOr("MEETLINE_MAX_STREAMS_PER_SESSION", 2),
		Timezone:               envOr("MEETLINE_TIMEZONE", "America/Los_Angeles"),
		DefaultDurationMin:     envIntOr("MEETLINE_DEFAULT_DURATION_MIN", 30),
		HistoryWindow:          envIntOr("MEETLINE_HISTORY_WINDOW", 20),
		LLMProviderName:        LLMProvider(envOr("MEETLINE_LLM_PROVIDER", string(LLMProviderOpenAI))),
		TTSProviderName:        TTSProvider(envOr("MEETLINE_TTS_PROVIDER", string(TTSProviderOpenAI))),
		OpenAIAPIKey:           strings.TrimSpace(os.Getenv("MEETLINE_OPENAI_API_KEY")),
		OpenAIBaseURL:          envOr("MEETLINE_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:            envOr("MEETLINE_OPENAI_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:           strings.TrimSpace(os.Getenv("MEETLINE_GEMINI_API_KEY")),
		GeminiModel:            envOr("MEETLINE_GEMINI_MODEL", "gemini-2.0-flash"),
		CartesiaAPIKey:         strings.TrimSpace(os.Getenv("MEETLINE_CARTESIA_API_KEY")),
		TTSVoice:               envOr("MEETLINE_TTS_VOICE", ""),
		LLMTimeout:             envDurationOr("MEETLINE_LLM_TIMEOUT", 60*time.Second),
		TTSTimeout:             envDurationOr("MEETLINE_TTS_TIMEOUT", 30*time.Second),
		ASRTimeout:             envDurationOr("MEETLINE_ASR_TIMEOUT", 30*time.Second),
		BookingTimeout:         envDurationOr("MEETLINE_BOOKING_TIMEOUT", 15*time.Second),
		TranscriptStore:        StoreKind(envOr("MEETLINE_TRANSCRIPT_STORE", string(StoreMemory))),
		PostgresDSN:            strings.TrimSpace(os.Getenv("MEETLINE_POSTGRES_DSN")),
		RedisAddr:              envOr("MEETLINE_REDIS_ADDR", "localhost:6379"),
		RedisTTL:               envDurationOr("MEETLINE_REDIS_TTL", 24*time.Hour),
		GoogleClientID:         strings.TrimSpace(os.Getenv("MEETLINE_GOOGLE_CLIENT_ID")),
		GoogleClientSecret:     strings.TrimSpace(os.Getenv("MEETLINE_GOOGLE_CLIENT_SECRET")),
		GoogleRedirectURI:      envOr("MEETLINE_GOOGLE_REDIRECT_URI", ""),
		GoogleCredentialsFile:  envOr("MEETLINE_GOOGLE_CREDENTIALS_FILE", ""),
		LiveMaxAudioFrameBytes: envIntOr("MEETLINE_LIVE_MAX_AUDIO_FRAME_BYTES", 1<<20),
		LiveWSWriteTimeout:     envDurationOr("MEETLINE_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSPingInterval:     envDurationOr("MEETLINE_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveMaxSessionDuration: envDurationOr("MEETLINE_LIVE_MAX_DURATION", 30*time.Minute),
		ReadHeaderTimeout:      envDurationOr("MEETLINE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:            envDurationOr("MEETLINE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:    envDurationOr("MEETLINE_SHUTDOWN_GRACE", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("MEETLINE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.LLMProviderName {
	case LLMProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("MEETLINE_OPENAI_API_KEY must be set when MEETLINE_LLM_PROVIDER=openai")
		}
	case LLMProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("MEETLINE_GEMINI_API_KEY must be set when MEETLINE_LLM_PROVIDER=gemini")
		}
	default:
		return Config{}, fmt.Errorf("MEETLINE_LLM_PROVIDER must be one of openai|gemini")
	}

	switch cfg.TTSProviderName {
	case TTSProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("MEETLINE_OPENAI_API_KEY must be set when MEETLINE_TTS_PROVIDER=openai")
		}
	case TTSProviderCartesia:
		if cfg.CartesiaAPIKey == "" {
			return Config{}, fmt.Errorf("MEETLINE_CARTESIA_API_KEY must be set when MEETLINE_TTS_PROVIDER=cartesia")
		}
	default:
		return Config{}, fmt.Errorf("MEETLINE_TTS_PROVIDER must be one of openai|cartesia")
	}

	switch cfg.TranscriptStore {
	case StoreMemory:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, fmt.Errorf("MEETLINE_POSTGRES_DSN must be set when MEETLINE_TRANSCRIPT_STORE=postgres")
		}
	case StoreRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return Config{}, fmt.Errorf("MEETLINE_REDIS_ADDR must not be empty when MEETLINE_TRANSCRIPT_STORE=redis")
		}
		if cfg.RedisTTL < 0 {
			return Config{}, fmt.Errorf("MEETLINE_REDIS_TTL must be >= 0")
		}
	default:
		return Config{}, fmt.Errorf("MEETLINE_TRANSCRIPT_STORE must be one of memory|postgres|redis")
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("MEETLINE_TIMEZONE must be a valid IANA zone: %v", err)
	}
	if cfg.DefaultDurationMin <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_DEFAULT_DURATION_MIN must be > 0")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_HISTORY_WINDOW must be > 0")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_LLM_TIMEOUT must be > 0")
	}
	if cfg.TTSTimeout <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_TTS_TIMEOUT must be > 0")
	}
	if cfg.ASRTimeout <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_ASR_TIMEOUT must be > 0")
	}
	if cfg.BookingTimeout <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_BOOKING_TIMEOUT must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("MEETLINE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("MEETLINE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentStreams < 0 {
		return Config{}, fmt.Errorf("MEETLINE_MAX_STREAMS_PER_SESSION must be >= 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_LIVE_MAX_DURATION must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("MEETLINE_SHUTDOWN_GRACE must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
