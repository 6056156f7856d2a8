// Package server provides configuration helpers that define runtime defaults,
// validation, and capacity/rate-limiting parameters for the RelayRoom service.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the fixed-window message limit applied per identity.
type RateLimitConfig struct {
	Messages int
	Window   time.Duration
}

// ConnThrottleConfig bounds the rate of incoming upgrade and token requests
// across all peers.
type ConnThrottleConfig struct {
	PerSecond float64
	Burst     int
}

// BotConfig controls the ambient phrase injected on some admissions.
type BotConfig struct {
	Probability float64
	Phrases     []string
}

// Config holds the server configuration settings including capacity,
// credential, and security controls.
type Config struct {
	Port             string
	AllowedOrigins   []string
	MaxActive        int
	MaxMessageLength int
	TokenSecret      string
	TokenTTL         time.Duration
	RateLimit        RateLimitConfig
	ConnThrottle     ConnThrottleConfig
	Bot              BotConfig
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
	connLimiter     *rate.Limiter
)

// fallbackSecret signs credentials when TOKEN_SECRET is unset. Tokens issued
// under it do not survive a process restart.
var fallbackSecret = newFallbackSecret()

func newFallbackSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("config: unable to generate fallback token secret: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxActive:        50,
		MaxMessageLength: 200,
		TokenTTL:         24 * time.Hour,
		RateLimit: RateLimitConfig{
			Messages: 5,
			Window:   60 * time.Second,
		},
		ConnThrottle: ConnThrottleConfig{
			PerSecond: 20,
			Burst:     40,
		},
		Bot: BotConfig{
			Probability: 0.2,
			Phrases: []string{
				"Hello from the void!",
				"Whispers in the wind...",
				"Echoes of thoughts...",
			},
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}

	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 50
	}

	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 200
	}

	if cfg.TokenSecret == "" {
		cfg.TokenSecret = fallbackSecret
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	if cfg.RateLimit.Messages <= 0 {
		cfg.RateLimit.Messages = 5
	}

	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = 60 * time.Second
	}

	if cfg.ConnThrottle.PerSecond <= 0 {
		cfg.ConnThrottle.PerSecond = 20
	}

	if cfg.ConnThrottle.Burst <= 0 {
		cfg.ConnThrottle.Burst = 40
	}

	if cfg.Bot.Probability < 0 {
		cfg.Bot.Probability = 0
	}
	if cfg.Bot.Probability > 1 {
		cfg.Bot.Probability = 1
	}
	if len(cfg.Bot.Phrases) == 0 {
		cfg.Bot.Phrases = defaultConfig().Bot.Phrases
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}
	connLimiter = rate.NewLimiter(rate.Limit(cfg.ConnThrottle.PerSecond), cfg.ConnThrottle.Burst)

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := Config{
		Port:             cfg.Port,
		AllowedOrigins:   append([]string(nil), cfg.AllowedOrigins...),
		MaxActive:        cfg.MaxActive,
		MaxMessageLength: cfg.MaxMessageLength,
		TokenSecret:      cfg.TokenSecret,
		TokenTTL:         cfg.TokenTTL,
		RateLimit: RateLimitConfig{
			Messages: cfg.RateLimit.Messages,
			Window:   cfg.RateLimit.Window,
		},
		ConnThrottle: ConnThrottleConfig{
			PerSecond: cfg.ConnThrottle.PerSecond,
			Burst:     cfg.ConnThrottle.Burst,
		},
		Bot: BotConfig{
			Probability: cfg.Bot.Probability,
			Phrases:     append([]string(nil), cfg.Bot.Phrases...),
		},
	}
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	cfg.Bot.Phrases = append([]string(nil), cfg.Bot.Phrases...)
	return cfg
}

func currentConnLimiter() *rate.Limiter {
	configMu.RLock()
	defer configMu.RUnlock()
	return connLimiter
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}

	if maxActive := os.Getenv("MAX_ACTIVE"); maxActive != "" {
		cfg.MaxActive = parseIntValue(maxActive, cfg.MaxActive)
	}

	if maxLen := os.Getenv("MAX_MESSAGE_LENGTH"); maxLen != "" {
		cfg.MaxMessageLength = parseIntValue(maxLen, cfg.MaxMessageLength)
	}

	if secret := os.Getenv("TOKEN_SECRET"); secret != "" {
		cfg.TokenSecret = secret
	}

	if ttl := os.Getenv("TOKEN_TTL_HOURS"); ttl != "" {
		if hours, err := strconv.Atoi(ttl); err == nil && hours > 0 {
			cfg.TokenTTL = time.Duration(hours) * time.Hour
		}
	}

	if messages := os.Getenv("RATE_LIMIT_MESSAGES"); messages != "" {
		cfg.RateLimit.Messages = parseIntValue(messages, cfg.RateLimit.Messages)
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		cfg.RateLimit.Window = parseSeconds(window, cfg.RateLimit.Window)
	}

	if perSecond := os.Getenv("CONN_RATE_PER_SECOND"); perSecond != "" {
		if parsed, err := strconv.ParseFloat(perSecond, 64); err == nil && parsed > 0 {
			cfg.ConnThrottle.PerSecond = parsed
		}
	}

	if burst := os.Getenv("CONN_RATE_BURST"); burst != "" {
		cfg.ConnThrottle.Burst = parseIntValue(burst, cfg.ConnThrottle.Burst)
	}

	if probability := os.Getenv("BOT_PROBABILITY"); probability != "" {
		if parsed, err := strconv.ParseFloat(probability, 64); err == nil && parsed >= 0 && parsed <= 1 {
			cfg.Bot.Probability = parsed
		}
	}

	if phrases := os.Getenv("BOT_PHRASES"); phrases != "" {
		cfg.Bot.Phrases = parseList(phrases)
	}

	return &cfg
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
