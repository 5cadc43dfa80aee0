package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultEnvironment         = "local"
	defaultLogLevel            = "info"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultRedisKeyPrefix      = "planner:session:"
	defaultRedisSessionTTL     = 14 * 24 * time.Hour
	defaultAgentRequestTopic   = "planner-agent-requests"
	defaultAgentResponseSub    = "planner-agent-responses"
	defaultHistoryPrefix       = "history"
	defaultDownloadURLTTL      = 10 * time.Minute
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultTaxRate             = 0.10
	defaultFees                = 50
	defaultCurrency            = "USD"
	defaultSessionBackend      = BackendMemory
	defaultAutoSaveDelay       = 30 * time.Second
	defaultQuoteTTL            = 24 * time.Hour
	defaultSessionIdleTTL      = 30 * time.Minute
	defaultFlushInterval       = time.Minute
	defaultFlushConcurrency    = 8
	defaultRateLimitPerMinute  = 120
	defaultAgentRequestsPerMin = 6
	defaultAgentRequestBurst   = 3
)

// Session storage backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendRedis     = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	App         AppConfig
	Server      ServerConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Pricing     PricingConfig
	Planner     PlannerConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
	Secrets     SecretsConfig
}

// AppConfig identifies the running deployment.
type AppConfig struct {
	Environment string
	Version     string
	LogLevel    string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig points at the session cache.
type RedisConfig struct {
	Addr       string
	Username   string
	Password   string
	DB         int
	KeyPrefix  string
	SessionTTL time.Duration
}

// PubSubConfig names the agent request topic and the response subscription.
type PubSubConfig struct {
	ProjectID            string
	EmulatorHost         string
	RequestTopic         string
	ResponseSubscription string
}

// StorageConfig lists where version history exports are written.
type StorageConfig struct {
	HistoryBucket  string
	HistoryPrefix  string
	SignerKeyFile  string
	DownloadURLTTL time.Duration
}

// PricingConfig holds the quote terms applied to every breakdown.
type PricingConfig struct {
	TaxRate  float64
	Fees     int64
	Currency string
}

// PlannerConfig tunes planning sessions and where they are kept.
type PlannerConfig struct {
	SessionBackend   string
	TripSeedFile     string
	AutoSaveDelay    time.Duration
	DisableAutoSave  bool
	QuoteTTL         time.Duration
	SessionIdleTTL   time.Duration
	FlushInterval    time.Duration
	FlushConcurrency int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AgentRequestsPerMinute int
	AgentRequestBurst      int
}

// IdempotencyConfig controls replay of retried submissions.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretsConfig locates Secret Manager and the local fallback file.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref \"%s\": %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// EnvironmentValues returns the effective key/value environment map after applying the same
// precedence rules as Load (dotenv < OS env < explicit env map). Callers use it to build the secret
// resolver before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory. Identifiers match the
// config field names recorded by the loader (e.g. "Redis.Password").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		App: AppConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "PLANNER_ENVIRONMENT", defaultEnvironment)),
			Version:     stringWithDefault(lookup, "PLANNER_VERSION", "dev"),
			LogLevel:    strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		},
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "PLANNER_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "PLANNER_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "PLANNER_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "PLANNER_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "PLANNER_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "PLANNER_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "PLANNER_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:       stringWithDefault(lookup, "PLANNER_REDIS_ADDR", ""),
			Username:   stringWithDefault(lookup, "PLANNER_REDIS_USERNAME", ""),
			Password:   stringWithDefault(lookup, "PLANNER_REDIS_PASSWORD", ""),
			DB:         intWithDefault(lookup, "PLANNER_REDIS_DB", 0),
			KeyPrefix:  stringWithDefault(lookup, "PLANNER_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
			SessionTTL: durationWithDefault(lookup, "PLANNER_REDIS_SESSION_TTL", defaultRedisSessionTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:            stringWithDefault(lookup, "PLANNER_PUBSUB_PROJECT_ID", ""),
			EmulatorHost:         stringWithDefault(lookup, "PLANNER_PUBSUB_EMULATOR_HOST", ""),
			RequestTopic:         stringWithDefault(lookup, "PLANNER_PUBSUB_REQUEST_TOPIC", defaultAgentRequestTopic),
			ResponseSubscription: stringWithDefault(lookup, "PLANNER_PUBSUB_RESPONSE_SUBSCRIPTION", defaultAgentResponseSub),
		},
		Storage: StorageConfig{
			HistoryBucket:  stringWithDefault(lookup, "PLANNER_STORAGE_HISTORY_BUCKET", ""),
			HistoryPrefix:  stringWithDefault(lookup, "PLANNER_STORAGE_HISTORY_PREFIX", defaultHistoryPrefix),
			SignerKeyFile:  stringWithDefault(lookup, "PLANNER_STORAGE_SIGNER_KEY_FILE", ""),
			DownloadURLTTL: durationWithDefault(lookup, "PLANNER_STORAGE_DOWNLOAD_URL_TTL", defaultDownloadURLTTL),
		},
		Pricing: PricingConfig{
			TaxRate:  floatWithDefault(lookup, "PLANNER_PRICING_TAX_RATE", defaultTaxRate),
			Fees:     int64(intWithDefault(lookup, "PLANNER_PRICING_FEES", defaultFees)),
			Currency: strings.ToUpper(stringWithDefault(lookup, "PLANNER_PRICING_CURRENCY", defaultCurrency)),
		},
		Planner: PlannerConfig{
			SessionBackend:   strings.ToLower(stringWithDefault(lookup, "PLANNER_SESSION_BACKEND", defaultSessionBackend)),
			TripSeedFile:     stringWithDefault(lookup, "PLANNER_TRIP_SEED_FILE", ""),
			AutoSaveDelay:    durationWithDefault(lookup, "PLANNER_AUTOSAVE_DELAY", defaultAutoSaveDelay),
			DisableAutoSave:  boolWithDefault(lookup, "PLANNER_AUTOSAVE_DISABLED", false),
			QuoteTTL:         durationWithDefault(lookup, "PLANNER_QUOTE_TTL", defaultQuoteTTL),
			SessionIdleTTL:   durationWithDefault(lookup, "PLANNER_SESSION_IDLE_TTL", defaultSessionIdleTTL),
			FlushInterval:    durationWithDefault(lookup, "PLANNER_FLUSH_INTERVAL", defaultFlushInterval),
			FlushConcurrency: intWithDefault(lookup, "PLANNER_FLUSH_CONCURRENCY", defaultFlushConcurrency),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       intWithDefault(lookup, "PLANNER_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitPerMinute),
			AgentRequestsPerMinute: intWithDefault(lookup, "PLANNER_RATELIMIT_AGENT_REQUESTS_PER_MIN", defaultAgentRequestsPerMin),
			AgentRequestBurst:      intWithDefault(lookup, "PLANNER_RATELIMIT_AGENT_REQUEST_BURST", defaultAgentRequestBurst),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "PLANNER_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "PLANNER_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "PLANNER_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "PLANNER_SECRETS_FALLBACK_FILE", ".secrets.local"),
		},
	}

	// Pub/Sub and Secret Manager default to the Firestore project.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Planner.SessionBackend {
	case BackendMemory:
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Planner.SessionBackend")
	}
	if cfg.Storage.DownloadURLTTL <= 0 || cfg.Storage.DownloadURLTTL > 7*24*time.Hour {
		missing = append(missing, "Storage.DownloadURLTTL")
	}
	if cfg.Pricing.TaxRate < 0 {
		missing = append(missing, "Pricing.TaxRate")
	}
	if cfg.Pricing.Fees < 0 {
		missing = append(missing, "Pricing.Fees")
	}
	if len(cfg.Pricing.Currency) != 3 {
		missing = append(missing, "Pricing.Currency")
	}
	if cfg.Planner.AutoSaveDelay <= 0 {
		missing = append(missing, "Planner.AutoSaveDelay")
	}
	if cfg.Planner.QuoteTTL <= 0 {
		missing = append(missing, "Planner.QuoteTTL")
	}
	if cfg.Planner.SessionIdleTTL <= 0 {
		missing = append(missing, "Planner.SessionIdleTTL")
	}
	if cfg.Planner.FlushInterval <= 0 {
		missing = append(missing, "Planner.FlushInterval")
	}
	if cfg.Planner.FlushConcurrency <= 0 {
		missing = append(missing, "Planner.FlushConcurrency")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.RateLimits.AgentRequestsPerMinute <= 0 {
		missing = append(missing, "RateLimits.AgentRequestsPerMinute")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
