package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// HistoryWindow is the number of completed exchanges kept per session
	// and sent upstream as conversation context.
	HistoryWindow int
	// SessionIdleTTL expires untouched in-memory sessions. Zero disables expiry.
	SessionIdleTTL time.Duration

	SystemPrompt string

	BrainMode     string
	BrainBaseURL  string
	BrainAPIKey   string
	BrainModel    string
	BrainTimeout  time.Duration
	BrainMaxWords int

	RecognizerURL      string
	RecognizerAPIKey   string
	RecognizerLanguage string
	RecognizerTimeout  time.Duration
	FFmpegPath         string
	UploadDir          string

	SynthURL     string
	SynthVoice   string
	SynthTimeout time.Duration

	DatabaseURL string
}

// defaultSystemPromptFmt keeps replies conversational, Hindi-first and
// short. The word cap is filled from BRAIN_MAX_WORDS.
const defaultSystemPromptFmt = "You are a friendly conversational assistant. " +
	"Answer only questions related to chartered accountancy. " +
	"Keep answers within %d words. You may respond to greetings. Reply in Hindi."

// DefaultSystemPrompt returns the built-in prompt with the given word cap.
func DefaultSystemPrompt(maxWords int) string {
	return fmt.Sprintf(defaultSystemPromptFmt, maxWords)
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "vaani"),
		HistoryWindow:      3,
		SessionIdleTTL:     0,
		BrainMode:          envOrDefault("BRAIN_MODE", "auto"),
		BrainBaseURL:       envTrimmed("BRAIN_BASE_URL"),
		BrainAPIKey:        envTrimmed("BRAIN_API_KEY"),
		BrainModel:         envOrDefault("BRAIN_MODEL", "llama3-70b-8192"),
		RecognizerURL:      envTrimmed("RECOGNIZER_URL"),
		RecognizerAPIKey:   envTrimmed("RECOGNIZER_API_KEY"),
		RecognizerLanguage: envOrDefault("RECOGNIZER_LANGUAGE", "hi-IN,en-US"),
		FFmpegPath:         envOrDefault("FFMPEG_PATH", "ffmpeg"),
		UploadDir:          envOrDefault("APP_UPLOAD_DIR", os.TempDir()),
		SynthURL:           envTrimmed("SYNTH_URL"),
		SynthVoice:         envOrDefault("SYNTH_VOICE", "hi"),
		DatabaseURL:        envTrimmed("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
		BrainTimeout:       60 * time.Second,
		RecognizerTimeout:  30 * time.Second,
		SynthTimeout:       20 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTTL, err = durationFromEnv("APP_SESSION_IDLE_TTL", cfg.SessionIdleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainTimeout, err = durationFromEnv("BRAIN_TIMEOUT", cfg.BrainTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RecognizerTimeout, err = durationFromEnv("RECOGNIZER_TIMEOUT", cfg.RecognizerTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthTimeout, err = durationFromEnv("SYNTH_TIMEOUT", cfg.SynthTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("APP_HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainMaxWords, err = intFromEnv("BRAIN_MAX_WORDS", 50)
	if err != nil {
		return Config{}, err
	}
	cfg.SystemPrompt = envOrDefault("APP_SYSTEM_PROMPT", DefaultSystemPrompt(cfg.BrainMaxWords))

	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_WINDOW must be positive")
	}
	if cfg.BrainMaxWords <= 0 {
		return Config{}, fmt.Errorf("BRAIN_MAX_WORDS must be positive")
	}
	if cfg.SessionIdleTTL < 0 {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TTL must be >= 0")
	}
	if cfg.BrainTimeout <= 0 {
		return Config{}, fmt.Errorf("BRAIN_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
