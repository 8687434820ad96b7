package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/quill/pkg/observability"
)

// Required variables. Without them the server starts in diagnostic mode.
const (
	EnvDatabaseURL   = "QUILL_DATABASE_URL"
	EnvSessionSecret = "QUILL_SESSION_SECRET"
)

// MinSessionSecretLength is the shortest accepted HS256 signing secret
const MinSessionSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	ObjectStore   ObjectStoreConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Cache         CacheConfig
	OIDC          OIDCConfig
	Observability ObservabilityConfig
	Scheduler     SchedulerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL        string
	ServiceURL string // privileged URL, only used by quill-setup
	MaxConns   int
	MinConns   int
	Timeout    time.Duration
}

// ObjectStoreConfig holds S3-compatible storage settings
type ObjectStoreConfig struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	PublicURL    string
}

// Enabled reports whether object storage has been configured
func (o ObjectStoreConfig) Enabled() bool {
	return o.Endpoint != "" || o.Region != ""
}

// RedisConfig holds optional Redis settings
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// AuthConfig holds session and login settings
type AuthConfig struct {
	SessionSecret    string
	SessionTTL       time.Duration
	EditRechecksPlan bool
	LoginRateLimit   int
	LoginRateWindow  time.Duration
	SecureCookies    bool
	// TrustedProxies lists CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are believed
	TrustedProxies []string
}

// CacheConfig holds local cache TTLs
type CacheConfig struct {
	ArticleTTL time.Duration
	LookupTTL  time.Duration
}

// OIDCConfig holds optional single sign-on settings
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether OIDC login should be offered
func (o OIDCConfig) Enabled() bool {
	return o.Issuer != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// SchedulerConfig holds background job settings
type SchedulerConfig struct {
	PlanExpirySchedule string
}

// MissingConfigError lists required variables that were not provided
type MissingConfigError struct {
	Vars []string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Vars, ", "))
}

// IsMissingConfig reports whether err is a MissingConfigError
func IsMissingConfig(err error) bool {
	var mce *MissingConfigError
	return errors.As(err, &mce)
}

// LoadConfig loads configuration from environment variables.
// The returned Config is always non-nil so callers can run in diagnostic
// mode when required variables are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		ObjectStore:   loadObjectStoreConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Cache:         loadCacheConfig(),
		OIDC:          loadOIDCConfig(),
		Observability: loadObservabilityConfig(),
		Scheduler: SchedulerConfig{
			PlanExpirySchedule: getEnv("QUILL_PLAN_EXPIRY_SCHEDULE", "*/15 * * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("QUILL_HOST", "0.0.0.0"),
		Port:            getEnv("QUILL_PORT", "8080"),
		ReadTimeout:     getEnvDuration("QUILL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("QUILL_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("QUILL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("QUILL_SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  getEnvList("QUILL_ALLOWED_ORIGINS"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:        getEnv(EnvDatabaseURL, ""),
		ServiceURL: getEnv("QUILL_SERVICE_DATABASE_URL", ""),
		MaxConns:   getEnvInt("QUILL_DB_MAX_CONNS", 20),
		MinConns:   getEnvInt("QUILL_DB_MIN_CONNS", 2),
		Timeout:    getEnvDuration("QUILL_DB_TIMEOUT", 10*time.Second),
	}
}

func loadObjectStoreConfig() ObjectStoreConfig {
	return ObjectStoreConfig{
		Endpoint:     getEnv("QUILL_S3_ENDPOINT", ""),
		Region:       getEnv("QUILL_S3_REGION", ""),
		AccessKey:    getEnv("QUILL_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("QUILL_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("QUILL_S3_USE_PATH_STYLE", false),
		PublicURL:    strings.TrimRight(getEnv("QUILL_PUBLIC_MEDIA_URL", ""), "/"),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("QUILL_REDIS_URL", ""),
		Password: getEnv("QUILL_REDIS_PASSWORD", ""),
		DB:       getEnvInt("QUILL_REDIS_DB", 0),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SessionSecret:    getEnv(EnvSessionSecret, ""),
		SessionTTL:       getEnvDuration("QUILL_SESSION_TTL", 168*time.Hour),
		EditRechecksPlan: getEnvBool("QUILL_EDIT_RECHECKS_PLAN", false),
		LoginRateLimit:   getEnvInt("QUILL_LOGIN_RATE_LIMIT", 10),
		LoginRateWindow:  getEnvDuration("QUILL_LOGIN_RATE_WINDOW", time.Minute),
		SecureCookies:    getEnvBool("QUILL_SECURE_COOKIES", false),
		TrustedProxies:   getEnvList("QUILL_TRUSTED_PROXIES"),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		ArticleTTL: getEnvDuration("QUILL_ARTICLE_CACHE_TTL", 60*time.Second),
		LookupTTL:  getEnvDuration("QUILL_LOOKUP_CACHE_TTL", 5*time.Minute),
	}
}

func loadOIDCConfig() OIDCConfig {
	return OIDCConfig{
		Issuer:       getEnv("QUILL_OIDC_ISSUER", ""),
		ClientID:     getEnv("QUILL_OIDC_CLIENT_ID", ""),
		ClientSecret: getEnv("QUILL_OIDC_CLIENT_SECRET", ""),
		RedirectURL:  getEnv("QUILL_OIDC_REDIRECT_URL", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("QUILL_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("QUILL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("QUILL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("QUILL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("QUILL_OTEL_SERVICE_NAME", "quill"),
		OTelServiceVersion: getEnv("QUILL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("QUILL_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid. Missing required
// variables are reported together as a *MissingConfigError.
func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, EnvDatabaseURL)
	}
	if c.Auth.SessionSecret == "" {
		missing = append(missing, EnvSessionSecret)
	}
	if len(missing) > 0 {
		return &MissingConfigError{Vars: missing}
	}

	if len(c.Auth.SessionSecret) < MinSessionSecretLength {
		return fmt.Errorf("%s must be at least %d bytes", EnvSessionSecret, MinSessionSecretLength)
	}
	for _, proxy := range c.Auth.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			return fmt.Errorf("QUILL_TRUSTED_PROXIES: %q is not an address or CIDR", proxy)
		}
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("QUILL_DB_MAX_CONNS (%d) must be >= QUILL_DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
	}
	if c.ObjectStore.Enabled() && c.ObjectStore.PublicURL == "" {
		return fmt.Errorf("QUILL_PUBLIC_MEDIA_URL is required when object storage is configured")
	}
	if c.OIDC.Enabled() && (c.OIDC.ClientID == "" || c.OIDC.RedirectURL == "") {
		return fmt.Errorf("QUILL_OIDC_CLIENT_ID and QUILL_OIDC_REDIRECT_URL are required when OIDC is enabled")
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// knownVars are reported by the environment diagnostic
var knownVars = []string{
	EnvDatabaseURL,
	EnvSessionSecret,
	"QUILL_SERVICE_DATABASE_URL",
	"QUILL_S3_ENDPOINT",
	"QUILL_S3_REGION",
	"QUILL_S3_ACCESS_KEY",
	"QUILL_S3_SECRET_KEY",
	"QUILL_PUBLIC_MEDIA_URL",
	"QUILL_REDIS_URL",
	"QUILL_OIDC_ISSUER",
	"QUILL_OIDC_CLIENT_ID",
	"QUILL_OIDC_CLIENT_SECRET",
	"QUILL_OTEL_ENDPOINT",
	"QUILL_TRUSTED_PROXIES",
}

// EnvReport reports which known variables are set. Values are never included.
func EnvReport() map[string]bool {
	report := make(map[string]bool, len(knownVars))
	for _, key := range knownVars {
		report[key] = os.Getenv(key) != ""
	}
	return report
}

// MissingVars returns the sorted names of unset required variables
func MissingVars() []string {
	var missing []string
	for _, key := range []string{EnvDatabaseURL, EnvSessionSecret} {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
