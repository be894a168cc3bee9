// Package config loads service settings.
// Priority: process env > .env file > defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds every tunable of the service.
type Settings struct {
	Port string

	OpenAIAPIKey     string
	GeminiAPIKey     string
	AnthropicAPIKey  string
	OllamaURL        string
	OllamaEmbedURL   string
	OllamaEmbedModel string

	SearchAPIKey string
	SearchCX     string

	DatabaseURL string
	LibSQLPath  string
	RedisURL    string

	ThrottleEnabled             bool
	ThrottleDelay               time.Duration
	CollectionEndpointRateLimit int
	RateLimitEnabled            bool

	CORSOrigins     []string
	TrustedProxies  []string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Port:                        "8000",
		OllamaEmbedURL:              "http://localhost:11434",
		OllamaEmbedModel:            "nomic-embed-text",
		LibSQLPath:                  "file:./workflow.db",
		ThrottleEnabled:             true,
		ThrottleDelay:               100 * time.Millisecond,
		CollectionEndpointRateLimit: 10,
		RateLimitEnabled:            true,
		CORSOrigins:                 []string{"*"},
		LogLevel:                    "info",
		LogFormat:                   "text",
		ShutdownTimeout:             30 * time.Second,
	}
}

// Load reads the optional env files and then the process environment.
func Load(envFiles ...string) Settings {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv.Load never overrides variables already set in the process.
		_ = godotenv.Load(f)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds Settings from an env lookup function.
func FromLookup(lookup func(string) (string, bool)) Settings {
	s := Defaults()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	str("PORT", &s.Port)
	str("OPENAI_API_KEY", &s.OpenAIAPIKey)
	str("GEMINI_API_KEY", &s.GeminiAPIKey)
	str("ANTHROPIC_API_KEY", &s.AnthropicAPIKey)
	str("OLLAMA_URL", &s.OllamaURL)
	str("OLLAMA_EMBED_MODEL", &s.OllamaEmbedModel)
	str("GOOGLE_SEARCH_API_KEY", &s.SearchAPIKey)
	str("GOOGLE_SEARCH_CX", &s.SearchCX)
	str("DATABASE_URL", &s.DatabaseURL)
	str("LIBSQL_PATH", &s.LibSQLPath)
	str("REDIS_URL", &s.RedisURL)
	str("LOG_LEVEL", &s.LogLevel)
	str("LOG_FORMAT", &s.LogFormat)
	if s.OllamaURL != "" {
		s.OllamaEmbedURL = s.OllamaURL
	}

	if v, ok := get("THROTTLE_ENABLED"); ok {
		s.ThrottleEnabled = parseBool(v, s.ThrottleEnabled)
	}
	if v, ok := get("RATE_LIMIT_ENABLED"); ok {
		s.RateLimitEnabled = parseBool(v, s.RateLimitEnabled)
	}
	if v, ok := get("THROTTLE_DELAY"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			s.ThrottleDelay = time.Duration(f * float64(time.Second))
		}
	}
	if v, ok := get("COLLECTION_ENDPOINT_RATE_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.CollectionEndpointRateLimit = n
		}
	}
	if v, ok := get("SHUTDOWN_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			s.ShutdownTimeout = d
		}
	}
	if v, ok := get("CORS_ORIGINS"); ok {
		if origins := splitList(v); len(origins) > 0 {
			s.CORSOrigins = origins
		}
	}
	if v, ok := get("TRUSTED_PROXIES"); ok {
		s.TrustedProxies = splitList(v)
	}
	return s
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// HeavyInterval is the minimum spacing between heavy-class requests.
func (s Settings) HeavyInterval() time.Duration {
	if s.CollectionEndpointRateLimit <= 0 {
		return 0
	}
	return time.Minute / time.Duration(s.CollectionEndpointRateLimit)
}

// SearchConfigured reports whether web search has a credential.
func (s Settings) SearchConfigured() bool {
	return s.SearchAPIKey != "" && s.SearchCX != ""
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
