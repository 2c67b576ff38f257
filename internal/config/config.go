// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	Host     string
	LogLevel string
	DevMode  bool
	CORS     string // Allowed origin for the terminal front-end

	Sources    SourcesConfig
	Storage    StorageConfig
	Sync       SyncConfig
	Signals    SignalsConfig
	Auth       AuthConfig
	Workers    WorkersConfig
	CacheTTLs  CacheTTLConfig
	HTTPClient HTTPClientConfig
}

// SourcesConfig holds external source endpoints, credentials and rate limits.
// Rate-limit intervals are the minimum spacing between two calls to that host.
type SourcesConfig struct {
	GammaBaseURL       string
	ClobBaseURL        string
	ClobWSURL          string
	DataAPIBaseURL     string
	EdgarBaseURL       string
	EdgarSearchBaseURL string
	NewsBaseURL        string
	NewsAPIKey         string
	TranscriptsBaseURL string
	TranscriptsAPIKey  string
	AlphaVantageURL    string
	AlphaVantageKey    string

	GammaRateLimit        time.Duration
	ClobRateLimit         time.Duration
	DataAPIRateLimit      time.Duration
	EdgarRateLimit        time.Duration
	NewsRateLimit         time.Duration
	TranscriptsRateLimit  time.Duration
	AlphaVantageRateLimit time.Duration
}

// StorageConfig holds object storage configuration.
// Type "local" writes blobs under DataDir/blobs; "s3" uses the bucket below.
type StorageConfig struct {
	Type      string // "local" or "s3"
	Bucket    string
	Region    string
	Endpoint  string // Optional custom endpoint (R2, MinIO)
	AccessKey string
	SecretKey string
}

// SyncConfig holds periodic job intervals and batch sizes
type SyncConfig struct {
	MarketFullSyncInterval        time.Duration
	MarketIncrementalSyncInterval time.Duration
	FilingsSyncInterval           time.Duration
	NewsSyncInterval              time.Duration
	TranscriptsSyncInterval       time.Duration
	LifecycleInterval             time.Duration
	SignalComputeInterval         time.Duration
	MetricsComputeInterval        time.Duration
	DocumentBatchSize             int
	BackfillBatchSize             int
	MarkClosedMarketsInactive     bool
}

// SignalsConfig holds extraction and generation thresholds
type SignalsConfig struct {
	MinConfidence      float64       // Minimum extractor confidence to emit a signal
	MinKeywordDensity  float64       // Matches per 1000 words
	SignalTTL          time.Duration // Signal expiry horizon
	PropagationDecay   float64       // Confidence decay for peer impact signals
	LookbackDays       int           // Generator lookback window
	HeartbeatInterval  time.Duration // Stream heartbeat
	SnapshotTTL        time.Duration // Order-book snapshot staleness horizon
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// AuthConfig holds nonce authentication configuration
type AuthConfig struct {
	NonceTTL time.Duration
}

// WorkersConfig gates optional periodic workers
type WorkersConfig struct {
	FilingsEnabled     bool
	NewsEnabled        bool
	TranscriptsEnabled bool
	SignalsEnabled     bool
	MetricsEnabled     bool
	SearchIndexEnabled bool
}

// CacheTTLConfig holds process-local cache TTLs
type CacheTTLConfig struct {
	MarketDetail time.Duration
	Orderbook    time.Duration
}

// HTTPClientConfig holds outbound HTTP behavior
type HTTPClientConfig struct {
	Timeout time.Duration
}

// Load reads configuration from environment variables (and .env if present)
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("LANTERN_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		Host:     getEnv("HOST", "0.0.0.0"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		CORS:     getEnv("CORS_ORIGIN", "*"),

		Sources: SourcesConfig{
			GammaBaseURL:       getEnv("GAMMA_BASE_URL", "https://gamma-api.polymarket.com"),
			ClobBaseURL:        getEnv("CLOB_BASE_URL", "https://clob.polymarket.com"),
			ClobWSURL:          getEnv("CLOB_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
			DataAPIBaseURL:     getEnv("DATA_API_BASE_URL", "https://data-api.polymarket.com"),
			EdgarBaseURL:       getEnv("EDGAR_BASE_URL", "https://www.sec.gov"),
			EdgarSearchBaseURL: getEnv("EDGAR_SEARCH_BASE_URL", "https://efts.sec.gov"),
			NewsBaseURL:        getEnv("NEWS_BASE_URL", "https://newsapi.org"),
			NewsAPIKey:         getEnv("NEWS_API_KEY", ""),
			TranscriptsBaseURL: getEnv("TRANSCRIPTS_BASE_URL", ""),
			TranscriptsAPIKey:  getEnv("TRANSCRIPTS_API_KEY", ""),
			AlphaVantageURL:    getEnv("ALPHAVANTAGE_BASE_URL", "https://www.alphavantage.co"),
			AlphaVantageKey:    getEnv("ALPHAVANTAGE_API_KEY", ""),

			GammaRateLimit:        getEnvAsMillis("GAMMA_RATE_LIMIT_MS", 200),
			ClobRateLimit:         getEnvAsMillis("CLOB_RATE_LIMIT_MS", 100),
			DataAPIRateLimit:      getEnvAsMillis("DATA_API_RATE_LIMIT_MS", 250),
			EdgarRateLimit:        getEnvAsMillis("EDGAR_RATE_LIMIT_MS", 150),
			NewsRateLimit:         getEnvAsMillis("NEWS_RATE_LIMIT_MS", 1000),
			TranscriptsRateLimit:  getEnvAsMillis("TRANSCRIPTS_RATE_LIMIT_MS", 1000),
			AlphaVantageRateLimit: getEnvAsMillis("ALPHAVANTAGE_RATE_LIMIT_MS", 12000),
		},

		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			Bucket:    getEnv("STORAGE_BUCKET", ""),
			Region:    getEnv("STORAGE_REGION", "auto"),
			Endpoint:  getEnv("STORAGE_ENDPOINT", ""),
			AccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey: getEnv("STORAGE_SECRET_KEY", ""),
		},

		Sync: SyncConfig{
			MarketFullSyncInterval:        getEnvAsDuration("MARKET_FULL_SYNC_INTERVAL", 6*time.Hour),
			MarketIncrementalSyncInterval: getEnvAsDuration("MARKET_INCREMENTAL_SYNC_INTERVAL", 5*time.Minute),
			FilingsSyncInterval:           getEnvAsDuration("FILINGS_SYNC_INTERVAL", 10*time.Minute),
			NewsSyncInterval:              getEnvAsDuration("NEWS_SYNC_INTERVAL", 15*time.Minute),
			TranscriptsSyncInterval:       getEnvAsDuration("TRANSCRIPTS_SYNC_INTERVAL", 1*time.Hour),
			LifecycleInterval:             getEnvAsDuration("LIFECYCLE_INTERVAL", 1*time.Minute),
			SignalComputeInterval:         getEnvAsDuration("SIGNAL_COMPUTE_INTERVAL", 30*time.Minute),
			MetricsComputeInterval:        getEnvAsDuration("METRICS_COMPUTE_INTERVAL", 24*time.Hour),
			DocumentBatchSize:             getEnvAsInt("DOCUMENT_BATCH_SIZE", 20),
			BackfillBatchSize:             getEnvAsInt("BACKFILL_BATCH_SIZE", 5000),
			MarkClosedMarketsInactive:     getEnvAsBool("MARK_CLOSED_MARKETS_INACTIVE", true),
		},

		Signals: SignalsConfig{
			MinConfidence:      getEnvAsFloat("SIGNAL_MIN_CONFIDENCE", 0.5),
			MinKeywordDensity:  getEnvAsFloat("SIGNAL_MIN_KEYWORD_DENSITY", 0.3),
			SignalTTL:          getEnvAsDuration("SIGNAL_TTL", 90*24*time.Hour),
			PropagationDecay:   getEnvAsFloat("SIGNAL_PROPAGATION_DECAY", 0.8),
			LookbackDays:       getEnvAsInt("SIGNAL_LOOKBACK_DAYS", 60),
			HeartbeatInterval:  getEnvAsDuration("STREAM_HEARTBEAT_INTERVAL", 10*time.Second),
			SnapshotTTL:        getEnvAsDuration("ORDERBOOK_SNAPSHOT_TTL", 5*time.Minute),
			ReconnectBaseDelay: getEnvAsDuration("STREAM_RECONNECT_BASE", 1*time.Second),
			ReconnectMaxDelay:  getEnvAsDuration("STREAM_RECONNECT_MAX", 30*time.Second),
		},

		Auth: AuthConfig{
			NonceTTL: getEnvAsDuration("AUTH_NONCE_TTL", 300*time.Second),
		},

		Workers: WorkersConfig{
			FilingsEnabled:     getEnvAsBool("WORKER_FILINGS_ENABLED", true),
			NewsEnabled:        getEnvAsBool("WORKER_NEWS_ENABLED", true),
			TranscriptsEnabled: getEnvAsBool("WORKER_TRANSCRIPTS_ENABLED", false),
			SignalsEnabled:     getEnvAsBool("WORKER_SIGNALS_ENABLED", true),
			MetricsEnabled:     getEnvAsBool("WORKER_METRICS_ENABLED", true),
			SearchIndexEnabled: getEnvAsBool("WORKER_SEARCH_INDEX_ENABLED", false),
		},

		CacheTTLs: CacheTTLConfig{
			MarketDetail: getEnvAsDuration("MARKET_CACHE_TTL", 60*time.Second),
			Orderbook:    getEnvAsDuration("ORDERBOOK_CACHE_TTL", 5*time.Second),
		},

		HTTPClient: HTTPClientConfig{
			Timeout: getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type %q (expected local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.Bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required when STORAGE_TYPE=s3")
	}
	if c.Signals.MinConfidence < 0 || c.Signals.MinConfidence > 1 {
		return fmt.Errorf("SIGNAL_MIN_CONFIDENCE must be within [0,1]")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsMillis reads an integer number of milliseconds
func getEnvAsMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMillis)) * time.Millisecond
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
