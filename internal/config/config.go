package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Feeds     FeedsConfig
	Schedule  ScheduleConfig
	Dedup     DedupConfig
	LLM       LLMConfig
	WebSearch WebSearchConfig
	Market    MarketDataConfig
	Delivery  DeliveryConfig
	Auth      AuthConfig
	Breakers  BreakerConfig

	WatchlistPath string
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig selects the persistence backend. Either URL or a Cloud SQL
// instance with user and database name; neither means the in-memory store.
type DatabaseConfig struct {
	URL                    string
	InstanceConnectionName string
	User                   string
	Password               string
	Name                   string
}

// Configured reports whether a Postgres connection was requested.
func (c DatabaseConfig) Configured() bool {
	return c.URL != "" || c.InstanceConnectionName != ""
}

// FeedsConfig lists the exchange announcement endpoints.
type FeedsConfig struct {
	NSEURL       string
	BSEURL       string
	FetchTimeout time.Duration
	UserAgent    string
}

// ScheduleConfig drives the two periodic jobs.
type ScheduleConfig struct {
	PollingEnabled   bool
	PollInterval     time.Duration
	PipelineInterval time.Duration
	BatchSize        int
	Concurrency      int
}

// DedupConfig tunes the poller's known-key cache.
type DedupConfig struct {
	RefreshTTL time.Duration
	Lookback   time.Duration
	SeedLimit  int
}

// LLMConfig configures the model-backed stages.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	GateModel      string
	AnalysisModel  string
	DecisionModel  string
	ReportModel    string
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration
}

// Enabled reports whether LLM stages can be constructed.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// WebSearchConfig selects the analysis web-search provider.
type WebSearchConfig struct {
	Provider   string
	BraveKey   string
	TavilyKey  string
	Timeout    time.Duration
	MaxResults int
}

// MarketDataConfig selects the price snapshot provider used during analysis.
type MarketDataConfig struct {
	Provider string
	BaseURL  string
	Timeout  time.Duration
}

// DeliveryConfig holds outbound channel settings.
type DeliveryConfig struct {
	SlackWebhookURL string
	TelegramToken   string
	TelegramChatID  int64
}

// Enabled reports whether at least one channel is configured.
func (c DeliveryConfig) Enabled() bool {
	return c.SlackWebhookURL != "" || c.TelegramToken != ""
}

// AuthConfig secures the human trigger API.
type AuthConfig struct {
	JWTSecret    string
	PasswordHash string
}

// BreakerConfig tunes circuit breakers on external dependencies.
type BreakerConfig struct {
	FailureThreshold int
	Recovery         time.Duration
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultFetchTimeout     = 20 * time.Second
	defaultUserAgent        = "Mozilla/5.0 (compatible; tujanalyst/1.0)"
	defaultPollInterval     = 300 * time.Second
	defaultPipelineInterval = 60 * time.Second
	defaultBatchSize        = 10

	defaultDedupTTL       = 10 * time.Minute
	defaultDedupLookback  = 72 * time.Hour
	defaultDedupSeedLimit = 500

	defaultGateModel      = "gpt-4o-mini"
	defaultAnalysisModel  = "gpt-4o"
	defaultDecisionModel  = "gpt-4o"
	defaultReportModel    = "gpt-4o-mini"
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 200 * time.Millisecond
	defaultLLMTimeout     = 90 * time.Second

	defaultSearchTimeout    = 15 * time.Second
	defaultSearchMaxResults = 5
	defaultMarketDataURL    = "https://query1.finance.yahoo.com"

	defaultBreakerThreshold = 3
	defaultBreakerRecovery  = 120 * time.Second

	defaultWatchlistPath = "config/watchlist.yaml"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided, and validates cross-field rules.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL:                    os.Getenv("TUJ_DATABASE_URL"),
			InstanceConnectionName: os.Getenv("INSTANCE_CONNECTION_NAME"),
			User:                   os.Getenv("DB_USER"),
			Password:               os.Getenv("DB_PASSWORD"),
			Name:                   os.Getenv("DB_NAME"),
		},
		Feeds: FeedsConfig{
			NSEURL:       os.Getenv("TUJ_NSE_FEED_URL"),
			BSEURL:       os.Getenv("TUJ_BSE_FEED_URL"),
			FetchTimeout: defaultFetchTimeout,
			UserAgent:    getEnv("TUJ_USER_AGENT", defaultUserAgent),
		},
		Schedule: ScheduleConfig{
			PollingEnabled:   true,
			PollInterval:     defaultPollInterval,
			PipelineInterval: defaultPipelineInterval,
			BatchSize:        defaultBatchSize,
			Concurrency:      1,
		},
		Dedup: DedupConfig{
			RefreshTTL: defaultDedupTTL,
			Lookback:   defaultDedupLookback,
			SeedLimit:  defaultDedupSeedLimit,
		},
		LLM: LLMConfig{
			APIKey:         os.Getenv("TUJ_OPENAI_API_KEY"),
			BaseURL:        os.Getenv("TUJ_OPENAI_BASE_URL"),
			GateModel:      getEnv("TUJ_GATE_MODEL", defaultGateModel),
			AnalysisModel:  getEnv("TUJ_ANALYSIS_MODEL", defaultAnalysisModel),
			DecisionModel:  getEnv("TUJ_DECISION_MODEL", defaultDecisionModel),
			ReportModel:    getEnv("TUJ_REPORT_MODEL", defaultReportModel),
			RetryAttempts:  defaultRetryAttempts,
			RetryBaseDelay: defaultRetryBaseDelay,
			RequestTimeout: defaultLLMTimeout,
		},
		WebSearch: WebSearchConfig{
			Provider:   strings.ToLower(getEnv("TUJ_WEB_SEARCH_PROVIDER", "none")),
			BraveKey:   os.Getenv("TUJ_BRAVE_API_KEY"),
			TavilyKey:  os.Getenv("TUJ_TAVILY_API_KEY"),
			Timeout:    defaultSearchTimeout,
			MaxResults: defaultSearchMaxResults,
		},
		Market: MarketDataConfig{
			Provider: strings.ToLower(getEnv("TUJ_MARKET_DATA_PROVIDER", "yahoo")),
			BaseURL:  getEnv("TUJ_MARKET_DATA_URL", defaultMarketDataURL),
			Timeout:  defaultSearchTimeout,
		},
		Delivery: DeliveryConfig{
			SlackWebhookURL: os.Getenv("TUJ_SLACK_WEBHOOK_URL"),
			TelegramToken:   os.Getenv("TUJ_TELEGRAM_TOKEN"),
		},
		Auth: AuthConfig{
			JWTSecret:    os.Getenv("ADMIN_JWT_SECRET"),
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		},
		Breakers: BreakerConfig{
			FailureThreshold: defaultBreakerThreshold,
			Recovery:         defaultBreakerRecovery,
		},
		WatchlistPath: getEnv("TUJ_WATCHLIST_PATH", defaultWatchlistPath),
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeout},
		{"TUJ_FEED_TIMEOUT_SECONDS", &cfg.Feeds.FetchTimeout},
		{"TUJ_POLL_INTERVAL_SECONDS", &cfg.Schedule.PollInterval},
		{"TUJ_PIPELINE_INTERVAL_SECONDS", &cfg.Schedule.PipelineInterval},
		{"TUJ_DEDUP_REFRESH_TTL_SECONDS", &cfg.Dedup.RefreshTTL},
		{"TUJ_LLM_TIMEOUT_SECONDS", &cfg.LLM.RequestTimeout},
		{"TUJ_WEB_SEARCH_TIMEOUT_SECONDS", &cfg.WebSearch.Timeout},
		{"TUJ_MARKET_DATA_TIMEOUT_SECONDS", &cfg.Market.Timeout},
		{"TUJ_BREAKER_RECOVERY_SECONDS", &cfg.Breakers.Recovery},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := parseSeconds(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.target = parsed
		}
	}

	if v := os.Getenv("TUJ_DEDUP_LOOKBACK_HOURS"); v != "" {
		hours, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TUJ_DEDUP_LOOKBACK_HOURS: %w", err)
		}
		cfg.Dedup.Lookback = time.Duration(hours) * time.Hour
	}

	if v := os.Getenv("TUJ_RETRY_BASE_DELAY_MS"); v != "" {
		ms, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TUJ_RETRY_BASE_DELAY_MS: %w", err)
		}
		cfg.LLM.RetryBaseDelay = time.Duration(ms) * time.Millisecond
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"TUJ_PIPELINE_BATCH_SIZE", &cfg.Schedule.BatchSize},
		{"TUJ_PIPELINE_CONCURRENCY", &cfg.Schedule.Concurrency},
		{"TUJ_DEDUP_SEED_LIMIT", &cfg.Dedup.SeedLimit},
		{"TUJ_RETRY_ATTEMPTS", &cfg.LLM.RetryAttempts},
		{"TUJ_WEB_SEARCH_MAX_RESULTS", &cfg.WebSearch.MaxResults},
		{"TUJ_BREAKER_FAILURE_THRESHOLD", &cfg.Breakers.FailureThreshold},
	}
	for _, i := range ints {
		if v := os.Getenv(i.key); v != "" {
			parsed, err := parsePositiveInt(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", i.key, err)
			}
			*i.target = parsed
		}
	}

	if v := os.Getenv("TUJ_POLLING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TUJ_POLLING_ENABLED: must be a boolean")
		}
		cfg.Schedule.PollingEnabled = enabled
	}

	if v := os.Getenv("TUJ_TELEGRAM_CHAT_ID"); v != "" {
		chatID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TUJ_TELEGRAM_CHAT_ID: must be an integer")
		}
		cfg.Delivery.TelegramChatID = chatID
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text", "pretty":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json', 'text' or 'pretty'")
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks rules that span several settings.
func (c Config) Validate() error {
	if c.Schedule.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Schedule.PipelineInterval <= 0 {
		return fmt.Errorf("pipeline interval must be positive")
	}
	if c.Dedup.RefreshTTL <= 0 {
		return fmt.Errorf("dedup refresh TTL must be positive")
	}
	if c.Breakers.Recovery <= 0 {
		return fmt.Errorf("breaker recovery must be positive")
	}

	switch c.WebSearch.Provider {
	case "none", "":
	case "brave":
		if c.WebSearch.BraveKey == "" {
			return fmt.Errorf("TUJ_BRAVE_API_KEY is required when web search provider is brave")
		}
	case "tavily":
		if c.WebSearch.TavilyKey == "" {
			return fmt.Errorf("TUJ_TAVILY_API_KEY is required when web search provider is tavily")
		}
	default:
		return fmt.Errorf("invalid TUJ_WEB_SEARCH_PROVIDER: must be 'brave', 'tavily' or 'none'")
	}

	switch c.Market.Provider {
	case "none", "", "yahoo":
	default:
		return fmt.Errorf("invalid TUJ_MARKET_DATA_PROVIDER: must be 'yahoo' or 'none'")
	}

	if c.Delivery.TelegramToken != "" && c.Delivery.TelegramChatID == 0 {
		return fmt.Errorf("TUJ_TELEGRAM_CHAT_ID is required when TUJ_TELEGRAM_TOKEN is set")
	}
	if (c.Auth.JWTSecret == "") != (c.Auth.PasswordHash == "") {
		return fmt.Errorf("ADMIN_JWT_SECRET and ADMIN_PASSWORD_HASH must be set together")
	}
	return nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
