package config

import (
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

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile            = ".env"
	defaultEnvironment        = "local"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultGatewayEndpoint    = "https://api.xdignya.uk/graphql"
	defaultGatewayTimeout     = 8 * time.Second
	defaultProductPageSize    = 50
	defaultSessionCookie      = "SHOPTRAE_SESSION"
	defaultSessionIdleTTL     = 2 * time.Hour
	defaultSessionJanitor     = 5 * time.Minute
	defaultWishlistDriver     = "sqlite"
	defaultWishlistPath       = "data/wishlist.db"
	defaultCopyModel          = "gemini-3-flash-preview"
	defaultCurrency           = "USD"
	defaultSecretFallbackFile = ".secrets.local"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment   string
	Server        ServerConfig
	Gateway       GatewayConfig
	Session       SessionConfig
	Wishlist      WishlistConfig
	Copy          CopyConfig
	Storefront    StorefrontConfig
	Secrets       SecretsConfig
	Observability ObservabilityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// GatewayConfig points at the commerce backend GraphQL endpoint.
type GatewayConfig struct {
	Endpoint        string
	Timeout         time.Duration
	ProductPageSize int
}

// SessionConfig controls the visitor session cookie and registry lifetime.
type SessionConfig struct {
	CookieName      string
	SigningKey      string
	Secure          bool
	IdleTTL         time.Duration
	JanitorInterval time.Duration
}

// WishlistConfig selects the local durable storage backing wishlists.
type WishlistConfig struct {
	Driver string
	Path   string
}

// CopyConfig holds credentials for the generative-text API.
type CopyConfig struct {
	APIKey string
	Model  string
}

// StorefrontConfig holds presentation defaults surfaced through the API.
type StorefrontConfig struct {
	Currency string
	Locale   string
}

// SecretsConfig controls secret:// reference resolution.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel  string
	ProjectID string
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
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed secret identifiers safe for logging.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over
// system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "Session.SigningKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the configuration by combining defaults, .env overrides, environment
// variables, and optional secret lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
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
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	env := strings.ToLower(stringWithDefault(lookup, "STOREFRONT_ENV", defaultEnvironment))
	cfg := Config{
		Environment: env,
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Gateway: GatewayConfig{
			Endpoint:        stringWithDefault(lookup, "STOREFRONT_GATEWAY_ENDPOINT", defaultGatewayEndpoint),
			Timeout:         durationWithDefault(lookup, "STOREFRONT_GATEWAY_TIMEOUT", defaultGatewayTimeout),
			ProductPageSize: intWithDefault(lookup, "STOREFRONT_GATEWAY_PRODUCT_PAGE_SIZE", defaultProductPageSize),
		},
		Session: SessionConfig{
			CookieName:      stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			SigningKey:      stringWithDefault(lookup, "STOREFRONT_SESSION_SIGNING_KEY", ""),
			Secure:          boolWithDefault(lookup, "STOREFRONT_SESSION_SECURE", env == "prod"),
			IdleTTL:         durationWithDefault(lookup, "STOREFRONT_SESSION_IDLE_TTL", defaultSessionIdleTTL),
			JanitorInterval: durationWithDefault(lookup, "STOREFRONT_SESSION_JANITOR_INTERVAL", defaultSessionJanitor),
		},
		Wishlist: WishlistConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_WISHLIST_DRIVER", defaultWishlistDriver)),
			Path:   stringWithDefault(lookup, "STOREFRONT_WISHLIST_PATH", defaultWishlistPath),
		},
		Copy: CopyConfig{
			APIKey: stringWithDefault(lookup, "STOREFRONT_GENAI_API_KEY", ""),
			Model:  stringWithDefault(lookup, "STOREFRONT_GENAI_MODEL", defaultCopyModel),
		},
		Storefront: StorefrontConfig{
			Currency: strings.ToUpper(stringWithDefault(lookup, "STOREFRONT_CURRENCY", defaultCurrency)),
			Locale:   stringWithDefault(lookup, "STOREFRONT_LOCALE", "en-US"),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "STOREFRONT_SECRETS_FALLBACK_FILE", defaultSecretFallbackFile),
		},
		Observability: ObservabilityConfig{
			LogLevel:  stringWithDefault(lookup, "LOG_LEVEL", "info"),
			ProjectID: stringWithDefault(lookup, "STOREFRONT_TRACE_PROJECT_ID", ""),
		},
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Session.SigningKey", &cfg.Session.SigningKey},
		{"Copy.APIKey", &cfg.Copy.APIKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !IsSecretReference(trimmed) {
		return value, nil
	}
	ref := normalizeSecretReference(trimmed)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Gateway.Endpoint) == "" {
		missing = append(missing, "Gateway.Endpoint")
	}
	if cfg.Gateway.Timeout <= 0 {
		missing = append(missing, "Gateway.Timeout")
	}
	if cfg.Gateway.ProductPageSize <= 0 {
		missing = append(missing, "Gateway.ProductPageSize")
	}
	if strings.TrimSpace(cfg.Session.CookieName) == "" {
		missing = append(missing, "Session.CookieName")
	}
	if cfg.Session.IdleTTL <= 0 {
		missing = append(missing, "Session.IdleTTL")
	}
	if cfg.Environment == "prod" && strings.TrimSpace(cfg.Session.SigningKey) == "" {
		missing = append(missing, "Session.SigningKey")
	}
	switch cfg.Wishlist.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Wishlist.Path) == "" {
			missing = append(missing, "Wishlist.Path")
		}
	case "memory":
	default:
		missing = append(missing, "Wishlist.Driver")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

// IsSecretReference reports whether value points at an external secret.
func IsSecretReference(value string) bool {
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

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
