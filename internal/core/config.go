package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSearchTemplate is the newest-first, buy-it-now search used for keyword topics.
const DefaultSearchTemplate = "https://www.ebay.de/sch/i.html?_from=R40&_nkw={query}&_sacat=139971&_sop=10&LH_BIN=1&rt=nc&LH_PrefLoc=3"

// Config represents the main configuration for the market watcher
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Log      LogConfig      `json:"log"`
	Features FeatureConfig  `json:"features"`
}

// ServerConfig contains status API configuration
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Host    string `json:"host"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// FeatureConfig contains feature-specific configuration
type FeatureConfig struct {
	Watcher WatcherConfig `json:"watcher"`
	Egress  EgressConfig  `json:"egress"`
	Notify  NotifyConfig  `json:"notify"`
}

// WatcherConfig contains the polling and fetch configuration
type WatcherConfig struct {
	Enabled              bool          `json:"enabled"`
	TopicsFile           string        `json:"topics_file"`
	Keywords             []string      `json:"keywords"`
	SearchURLs           []string      `json:"search_urls"`
	PollInterval         time.Duration `json:"poll_interval"`
	PageDepth            int           `json:"page_depth"`
	Workers              int           `json:"workers"`
	StatePath            string        `json:"state_path"`
	Timezone             string        `json:"timezone"`
	SearchTemplate       string        `json:"search_template"`
	CardSelector         string        `json:"card_selector"`
	NextSelector         string        `json:"next_selector"`
	UserAgent            string        `json:"user_agent"`
	FetchTimeout         time.Duration `json:"fetch_timeout"`
	FetchRPS             float64       `json:"fetch_rps"`
	DumpPages            bool          `json:"dump_pages"`
	ExpectedCurrency     string        `json:"expected_currency"`
	MaxSessionAttempts   int           `json:"max_session_attempts"`
	MaxFetchRetries      int           `json:"max_fetch_retries"`
	SessionRefreshCycles int           `json:"session_refresh_cycles"`
}

// EgressConfig contains proxy pool and geo probe configuration
type EgressConfig struct {
	Proxies          []string      `json:"proxies"`
	AllowedRegions   []string      `json:"allowed_regions"`
	ProbeURL         string        `json:"probe_url"`
	ProbeTimeout     time.Duration `json:"probe_timeout"`
	AttemptsPerRound int           `json:"attempts_per_round"`
	RoundBackoff     time.Duration `json:"round_backoff"`
	AcquireTimeout   time.Duration `json:"acquire_timeout"`
	WorkspaceRoot    string        `json:"workspace_root"`
}

// NotifyConfig contains notifier credentials
type NotifyConfig struct {
	TelegramToken  string        `json:"-"`
	TelegramChatID string        `json:"telegram_chat_id"`
	TelegramAPI    string        `json:"telegram_api"`
	Interval       time.Duration `json:"interval"`
	SMTP2GOAPIKey  string        `json:"-"`
	SMTP2GOSender  string        `json:"smtp2go_sender"`
	AlertRecipient string        `json:"alert_recipient"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Enabled: getEnvAsBool("WATCH_HTTP_ENABLED", true),
			Port:    getEnvAsInt("WATCH_HTTP_PORT", 4000),
			Host:    getEnvOrDefault("WATCH_HTTP_HOST", "127.0.0.1"),
		},
		Database: DatabaseConfig{
			Path: getEnvOrDefault("WATCH_DB_PATH", "./watcher.db"),
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("WATCH_LOG_LEVEL", "info"),
			Format: getEnvOrDefault("WATCH_LOG_FORMAT", "text"),
		},
		Features: FeatureConfig{
			Watcher: WatcherConfig{
				Enabled:              getEnvAsBool("WATCH_ENABLED", true),
				TopicsFile:           getEnvOrDefault("WATCH_TOPICS_FILE", ""),
				Keywords:             getEnvAsList("WATCH_KEYWORDS", ","),
				SearchURLs:           getEnvAsList("WATCH_SEARCH_URLS", " "),
				PollInterval:         getEnvAsDuration("WATCH_POLL_INTERVAL", 2*time.Minute),
				PageDepth:            getEnvAsInt("WATCH_PAGE_DEPTH", 1),
				Workers:              getEnvAsInt("WATCH_WORKERS", 4),
				StatePath:            getEnvOrDefault("WATCH_STATE_PATH", "./state.json"),
				Timezone:             getEnvOrDefault("WATCH_TIMEZONE", "Europe/Berlin"),
				SearchTemplate:       getEnvOrDefault("WATCH_SEARCH_TEMPLATE", DefaultSearchTemplate),
				CardSelector:         getEnvOrDefault("WATCH_CARD_SELECTOR", "li.s-item, li.s-card"),
				NextSelector:         getEnvOrDefault("WATCH_NEXT_SELECTOR", "a.pagination__next"),
				UserAgent:            getEnvOrDefault("WATCH_USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"),
				FetchTimeout:         getEnvAsDuration("WATCH_FETCH_TIMEOUT", 30*time.Second),
				FetchRPS:             getEnvAsFloat("WATCH_FETCH_RPS", 0.5),
				DumpPages:            getEnvAsBool("WATCH_DUMP_PAGES", false),
				ExpectedCurrency:     getEnvOrDefault("WATCH_EXPECTED_CURRENCY", "EUR"),
				MaxSessionAttempts:   getEnvAsInt("WATCH_MAX_SESSION_ATTEMPTS", 3),
				MaxFetchRetries:      getEnvAsInt("WATCH_MAX_FETCH_RETRIES", 2),
				SessionRefreshCycles: getEnvAsInt("WATCH_SESSION_REFRESH_CYCLES", 10),
			},
			Egress: EgressConfig{
				Proxies:          getEnvAsList("WATCH_PROXIES", ","),
				AllowedRegions:   getEnvAsList("WATCH_ALLOWED_REGIONS", ","),
				ProbeURL:         getEnvOrDefault("WATCH_PROBE_URL", "http://ip-api.com/json/?fields=countryCode"),
				ProbeTimeout:     getEnvAsDuration("WATCH_PROBE_TIMEOUT", 8*time.Second),
				AttemptsPerRound: getEnvAsInt("WATCH_PROBE_ATTEMPTS", 5),
				RoundBackoff:     getEnvAsDuration("WATCH_ROUND_BACKOFF", 30*time.Second),
				AcquireTimeout:   getEnvAsDuration("WATCH_ACQUIRE_TIMEOUT", 5*time.Minute),
				WorkspaceRoot:    getEnvOrDefault("WATCH_WORKSPACE_ROOT", os.TempDir()),
			},
			Notify: NotifyConfig{
				TelegramToken:  getEnvOrDefault("WATCH_TELEGRAM_TOKEN", ""),
				TelegramChatID: getEnvOrDefault("WATCH_TELEGRAM_CHAT_ID", ""),
				TelegramAPI:    getEnvOrDefault("WATCH_TELEGRAM_API", "https://api.telegram.org"),
				Interval:       getEnvAsDuration("WATCH_NOTIFY_INTERVAL", time.Second),
				SMTP2GOAPIKey:  getEnvOrDefault("WATCH_SMTP2GO_API_KEY", ""),
				SMTP2GOSender:  getEnvOrDefault("WATCH_SMTP2GO_SENDER", "Market Watch <watch@localhost>"),
				AlertRecipient: getEnvOrDefault("WATCH_ALERT_RECIPIENT", ""),
			},
		},
	}
	if len(config.Features.Egress.AllowedRegions) == 0 {
		config.Features.Egress.AllowedRegions = []string{"DE"}
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return NewConfigurationError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}

	if c.Database.Path == "" {
		return NewConfigurationError("database path is required", nil)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return NewConfigurationError(fmt.Sprintf("unknown log format %q", c.Log.Format), nil)
	}

	w := c.Features.Watcher
	if !w.Enabled {
		return nil
	}

	if w.TopicsFile == "" && len(w.Keywords) == 0 && len(w.SearchURLs) == 0 {
		return NewConfigurationError("at least one topic is required (WATCH_TOPICS_FILE, WATCH_KEYWORDS or WATCH_SEARCH_URLS)", nil)
	}

	if w.StatePath == "" {
		return NewConfigurationError("state path is required", nil)
	}

	if !strings.Contains(w.SearchTemplate, "{query}") {
		return NewConfigurationError("search template must contain {query}", nil)
	}

	n := c.Features.Notify
	if n.TelegramToken == "" && n.SMTP2GOAPIKey == "" {
		return NewConfigurationError("a notifier is required (Telegram token or SMTP2GO API key)", nil)
	}

	if n.TelegramToken != "" && n.TelegramChatID == "" {
		return NewConfigurationError("Telegram chat ID is required when a Telegram token is set", nil)
	}

	if n.SMTP2GOAPIKey != "" && n.AlertRecipient == "" {
		return NewConfigurationError("alert recipient is required when SMTP2GO is enabled", nil)
	}

	return nil
}

// IsFeatureEnabled checks if a feature is enabled
func (c *Config) IsFeatureEnabled(featureName string) bool {
	switch strings.ToLower(featureName) {
	case "watcher":
		return c.Features.Watcher.Enabled
	case "telegram":
		return c.Features.Notify.TelegramToken != ""
	case "email":
		return c.Features.Notify.SMTP2GOAPIKey != ""
	default:
		return false
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key, sep string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Fields(value)
	if sep != " " {
		parts = strings.Split(value, sep)
	}
	var out []string
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
