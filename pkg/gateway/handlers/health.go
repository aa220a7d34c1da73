package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/meetline-ai/meetline/pkg/gateway/config"
	"github.com/meetline-ai/meetline/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		LLMProvider string   `json:"llm_provider"`
		TTSProvider string   `json:"tts_provider"`
		Store       string   `json:"store"`
		Draining    bool     `json:"draining"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "gateway is draining")
	}

	switch h.Config.LLMProviderName {
	case config.LLMProviderOpenAI:
		if h.Config.OpenAIAPIKey == "" {
			issues = append(issues, "openai api key missing")
		}
	case config.LLMProviderGemini:
		if h.Config.GeminiAPIKey == "" {
			issues = append(issues, "gemini api key missing")
		}
	default:
		issues = append(issues, "invalid llm provider")
	}

	switch h.Config.TTSProviderName {
	case config.TTSProviderOpenAI:
		if h.Config.OpenAIAPIKey == "" {
			issues = append(issues, "openai api key missing for tts")
		}
	case config.TTSProviderCartesia:
		if h.Config.CartesiaAPIKey == "" {
			issues = append(issues, "cartesia api key missing")
		}
	default:
		issues = append(issues, "invalid tts provider")
	}

	switch h.Config.TranscriptStore {
	case config.StoreMemory:
	case config.StorePostgres:
		if h.Config.PostgresDSN == "" {
			issues = append(issues, "postgres dsn missing")
		}
	case config.StoreRedis:
		if h.Config.RedisAddr == "" {
			issues = append(issues, "redis addr missing")
		}
	default:
		issues = append(issues, "invalid transcript store")
	}

	if h.Config.LLMTimeout <= 0 || h.Config.TTSTimeout <= 0 || h.Config.ASRTimeout <= 0 || h.Config.BookingTimeout <= 0 {
		issues = append(issues, "capability timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:          ok,
		LLMProvider: string(h.Config.LLMProviderName),
		TTSProvider: string(h.Config.TTSProviderName),
		Store:       string(h.Config.TranscriptStore),
		Draining:    draining,
		Issues:      issues,
	})
}
