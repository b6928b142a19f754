package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
	Database    DatabaseConfig    `toml:"database"`
	Blobs       BlobConfig        `toml:"blobs"`
	Auth        AuthConfig        `toml:"auth"`
	Vision      VisionConfig      `toml:"vision"`
	Extraction  ExtractionConfig  `toml:"extraction"`
	Passport    PassportConfig    `toml:"passport"`
	Matching    MatchingConfig    `toml:"matching"`
	Worker      WorkerConfig      `toml:"worker"`
	Portal      PortalConfig      `toml:"portal"`
	Dashboard   DashboardConfig   `toml:"dashboard"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	WebSocket   WebSocketConfig   `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// DatabaseConfig points at the relational store. URL accepts a bare file
// path, a file: DSN, or a sqlite:// prefix (stripped before opening).
type DatabaseConfig struct {
	URL           string `toml:"url"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	WALMode       bool   `toml:"wal_mode"`
}

// BlobConfig points at the card image store (Badger directory).
type BlobConfig struct {
	Path string `toml:"path"`
}

// AuthConfig drives bearer-token verification and portal token issuance.
type AuthConfig struct {
	JWTSecret             string `toml:"jwt_secret"`               // HS256 signing secret (JWT_SECRET_KEY)
	AccessTokenTTLSeconds int    `toml:"access_token_ttl_seconds"` // admin token lifetime
	PortalTokenTTLSeconds int    `toml:"portal_token_ttl_seconds"` // portal session lifetime
}

// VisionConfig configures the model chain used to read cards. Models are
// attempted in chain order until one returns a parseable structured result.
type VisionConfig struct {
	Model           string   `toml:"model"`            // primary model
	FallbackModel   string   `toml:"fallback_model"`   // second in chain
	ModelChain      []string `toml:"model_chain"`      // explicit chain; overrides model/fallback when set
	TimeoutSeconds  int      `toml:"timeout_seconds"`  // per-request hard timeout
	MaxRetries      int      `toml:"max_retries"`      // in-model retries; 0 disables
	Temperature     float64  `toml:"temperature"`      // sampling temperature for vision calls
	AnthropicAPIKey string   `toml:"anthropic_api_key"`
	GeminiAPIKey    string   `toml:"gemini_api_key"`
}

// ExtractionConfig carries the semantic gate thresholds.
type ExtractionConfig struct {
	LowConfidenceThreshold float64 `toml:"low_confidence_threshold"`  // total-only rows below this need review
	TimeTotalConflictHours float64 `toml:"time_total_conflict_hours"` // |total − (to−from)| above this needs review
}

// PassportConfig bounds the normalized identifier length.
type PassportConfig struct {
	MinLength int `toml:"min_length"`
	MaxLength int `toml:"max_length"`
}

type MatchingConfig struct {
	EnableNameSiteFallback bool `toml:"enable_name_site_fallback"`
}

// WorkerConfig drives the extraction worker pool.
type WorkerConfig struct {
	PollSeconds      int `toml:"poll_seconds"`       // queue poll interval
	Concurrency      int `toml:"concurrency"`        // number of workers
	MaxRetryAttempts int `toml:"max_retry_attempts"` // attempts before a job fails permanently
	StaleLockMinutes int `toml:"stale_lock_minutes"` // lease age that counts as stale
}

// PortalConfig guards the public verification endpoint.
type PortalConfig struct {
	// BaseURL is the externally reachable portal address used when composing
	// upload links. Empty means links are composed from the request host.
	BaseURL                string `toml:"base_url"`
	RateLimitAttempts      int    `toml:"rate_limit_attempts"`       // verification attempts per window per IP
	RateLimitWindowSeconds int    `toml:"rate_limit_window_seconds"` // rolling window size
}

type DashboardConfig struct {
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
}

// MaintenanceConfig schedules the background sweeps (cron format).
type MaintenanceConfig struct {
	Enabled            bool   `toml:"enabled"`
	LinkExpirySchedule string `toml:"link_expiry_schedule"` // deactivate expired upload links
	JobPurgeSchedule   string `toml:"job_purge_schedule"`   // purge old terminal extraction jobs
	JobRetentionDays   int    `toml:"job_retention_days"`   // DONE/FAILED jobs older than this are purged
	BlobGCSchedule     string `toml:"blob_gc_schedule"`     // badger value-log GC
}

// WebSocketConfig filters and throttles the event broadcast.
type WebSocketConfig struct {
	Enabled           bool              `toml:"enabled"`
	AllowedEvents     []string          `toml:"allowed_events"`     // empty = allow all
	ThrottleIntervals map[string]string `toml:"throttle_intervals"` // event type -> min interval, e.g. "1s"
}

// NewDefaultConfig returns the configuration defaults. Files and environment
// variables override these in that order.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",                     // info for production (debug|info|warn|error)
			Format: "text",                     // human-readable (text|json)
			Output: []string{"stdout", "file"}, // console and file
		},
		Database: DatabaseConfig{
			URL:           "./data/kardex.db",
			CacheSizeMB:   64,
			BusyTimeoutMS: 5000,
			WALMode:       true,
		},
		Blobs: BlobConfig{
			Path: "./data/blobs",
		},
		Auth: AuthConfig{
			AccessTokenTTLSeconds: 86400, // 24h admin tokens
			PortalTokenTTLSeconds: 3600,  // 1h portal sessions
		},
		Vision: VisionConfig{
			Model:          "claude-sonnet-4-20250514",
			FallbackModel:  "gemini-2.5-flash",
			TimeoutSeconds: 45, // per-request hard timeout
			MaxRetries:     0,  // in-model retries disabled; the chain is the fallback
			Temperature:    0.0,
		},
		Extraction: ExtractionConfig{
			LowConfidenceThreshold: 0.8,
			TimeTotalConflictHours: 0.25,
		},
		Passport: PassportConfig{
			MinLength: 5,
			MaxLength: 12,
		},
		Matching: MatchingConfig{
			EnableNameSiteFallback: false, // opt-in; name collisions are common on sites
		},
		Worker: WorkerConfig{
			PollSeconds:      5,
			Concurrency:      2,
			MaxRetryAttempts: 3,
			StaleLockMinutes: 30,
		},
		Portal: PortalConfig{
			RateLimitAttempts:      5,
			RateLimitWindowSeconds: 60,
		},
		Dashboard: DashboardConfig{
			CacheTTLSeconds: 300,
		},
		Maintenance: MaintenanceConfig{
			Enabled:            true,
			LinkExpirySchedule: "0 */15 * * * *", // every 15 minutes
			JobPurgeSchedule:   "0 30 3 * * *",   // daily at 03:30
			JobRetentionDays:   90,
			BlobGCSchedule:     "0 0 4 * * *", // daily at 04:00
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
			ThrottleIntervals: map[string]string{
				"job_queued":  "500ms",
				"job_claimed": "500ms",
			},
		},
	}
}

// LoadFromFiles builds the config from defaults, the given TOML files in
// order (later files override earlier ones), then environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variables over the loaded config.
// The externally documented variable names (DATABASE_URL, JWT_SECRET_KEY,
// WORKER_POLL_SECONDS, ...) are honored as-is; KARDEX_* names cover the rest.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("KARDEX_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("KARDEX_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("KARDEX_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging
	if level := os.Getenv("KARDEX_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("KARDEX_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Stores
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Database.URL = url
	}
	if path := os.Getenv("KARDEX_BLOBS_PATH"); path != "" {
		config.Blobs.Path = path
	}

	// Auth
	if secret := os.Getenv("JWT_SECRET_KEY"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if ttl := os.Getenv("JWT_ACCESS_TOKEN_EXPIRES"); ttl != "" {
		if seconds, err := strconv.Atoi(ttl); err == nil && seconds > 0 {
			config.Auth.AccessTokenTTLSeconds = seconds
		}
	}

	// Vision chain
	if model := os.Getenv("VISION_MODEL"); model != "" {
		config.Vision.Model = model
	}
	if model := os.Getenv("VISION_FALLBACK_MODEL"); model != "" {
		config.Vision.FallbackModel = model
	}
	if chain := os.Getenv("VISION_MODEL_CHAIN"); chain != "" {
		models := []string{}
		for _, m := range strings.Split(chain, ",") {
			if trimmed := strings.TrimSpace(m); trimmed != "" {
				models = append(models, trimmed)
			}
		}
		if len(models) > 0 {
			config.Vision.ModelChain = models
		}
	}
	if timeout := os.Getenv("VISION_TIMEOUT_SECONDS"); timeout != "" {
		if seconds, err := strconv.Atoi(timeout); err == nil && seconds > 0 {
			config.Vision.TimeoutSeconds = seconds
		}
	}
	if retries := os.Getenv("VISION_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n >= 0 {
			config.Vision.MaxRetries = n
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Vision.AnthropicAPIKey = key
	} else if key := os.Getenv("KARDEX_CLAUDE_API_KEY"); key != "" {
		config.Vision.AnthropicAPIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Vision.GeminiAPIKey = key
	} else if key := os.Getenv("KARDEX_GEMINI_API_KEY"); key != "" {
		config.Vision.GeminiAPIKey = key
	}

	// Passport normalization bounds
	if minLen := os.Getenv("PASSPORT_NORMALIZED_MIN_LENGTH"); minLen != "" {
		if n, err := strconv.Atoi(minLen); err == nil && n > 0 {
			config.Passport.MinLength = n
		}
	}
	if maxLen := os.Getenv("PASSPORT_NORMALIZED_MAX_LENGTH"); maxLen != "" {
		if n, err := strconv.Atoi(maxLen); err == nil && n > 0 {
			config.Passport.MaxLength = n
		}
	}
	if enable := os.Getenv("ENABLE_NAME_SITE_MATCH_FALLBACK"); enable != "" {
		config.Matching.EnableNameSiteFallback = parseBool(enable)
	}

	// Worker
	if poll := os.Getenv("WORKER_POLL_SECONDS"); poll != "" {
		if seconds, err := strconv.Atoi(poll); err == nil && seconds > 0 {
			config.Worker.PollSeconds = seconds
		}
	}
	if retries := os.Getenv("MAX_RETRY_ATTEMPTS"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n > 0 {
			config.Worker.MaxRetryAttempts = n
		}
	}
	if stale := os.Getenv("STALE_LOCK_MINUTES"); stale != "" {
		if minutes, err := strconv.Atoi(stale); err == nil && minutes > 0 {
			config.Worker.StaleLockMinutes = minutes
		}
	}
	if workers := os.Getenv("KARDEX_WORKER_CONCURRENCY"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			config.Worker.Concurrency = n
		}
	}

	// Dashboard cache
	if ttl := os.Getenv("DASHBOARD_CACHE_TTL_SECONDS"); ttl != "" {
		if seconds, err := strconv.Atoi(ttl); err == nil && seconds >= 0 {
			config.Dashboard.CacheTTLSeconds = seconds
		}
	}

	// Portal
	if base := os.Getenv("KARDEX_PORTAL_BASE_URL"); base != "" {
		config.Portal.BaseURL = base
	}
}

// ApplyFlagOverrides applies command-line flags over everything else.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET_KEY)")
	}
	if c.Passport.MinLength > c.Passport.MaxLength {
		return fmt.Errorf("passport.min_length %d exceeds max_length %d", c.Passport.MinLength, c.Passport.MaxLength)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if len(c.VisionModelChain()) == 0 {
		return fmt.Errorf("vision model chain is empty (set vision.model or VISION_MODEL_CHAIN)")
	}
	if c.Maintenance.Enabled {
		for name, schedule := range map[string]string{
			"link_expiry_schedule": c.Maintenance.LinkExpirySchedule,
			"job_purge_schedule":   c.Maintenance.JobPurgeSchedule,
			"blob_gc_schedule":     c.Maintenance.BlobGCSchedule,
		} {
			if err := ValidateCronSchedule(schedule); err != nil {
				return fmt.Errorf("maintenance.%s: %w", name, err)
			}
		}
	}
	return nil
}

// VisionModelChain returns the de-duplicated model chain: the explicit chain
// when configured, otherwise [model, fallback_model].
func (c *Config) VisionModelChain() []string {
	source := c.Vision.ModelChain
	if len(source) == 0 {
		source = []string{c.Vision.Model, c.Vision.FallbackModel}
	}
	seen := make(map[string]bool, len(source))
	chain := make([]string, 0, len(source))
	for _, model := range source {
		model = strings.TrimSpace(model)
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true
		chain = append(chain, model)
	}
	return chain
}

// ValidateCronSchedule parses a cron expression (with seconds field) and
// returns a descriptive error when it is invalid.
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("empty cron schedule")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Duration accessors keep call sites free of unit conversions.

func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.Worker.PollSeconds) * time.Second
}

func (c *Config) StaleLockThreshold() time.Duration {
	return time.Duration(c.Worker.StaleLockMinutes) * time.Minute
}

func (c *Config) VisionTimeout() time.Duration {
	return time.Duration(c.Vision.TimeoutSeconds) * time.Second
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenTTLSeconds) * time.Second
}

func (c *Config) PortalTokenTTL() time.Duration {
	return time.Duration(c.Auth.PortalTokenTTLSeconds) * time.Second
}

func (c *Config) DashboardCacheTTL() time.Duration {
	return time.Duration(c.Dashboard.CacheTTLSeconds) * time.Second
}

func (c *Config) PortalRateWindow() time.Duration {
	return time.Duration(c.Portal.RateLimitWindowSeconds) * time.Second
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
