package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aarnya/checkout/internal/domain"
)

const (
	defaultEnvFile           = ".env"
	defaultCarrierTimeout    = 4 * time.Second
	defaultOriginPostalCode  = "201206"
	defaultStandardBaseFee   = 60
	defaultExpressBaseFee    = 120
	defaultPerKmSurcharge    = 0.2
	defaultPerKgCharge       = 40
	defaultFreeWeightKg      = 0.1
	defaultStandardETA       = "5-7 days"
	defaultExpressETA        = "2-3 days"
	defaultAlertTopic        = "checkout-reconciliation"
	defaultUsageCollection   = "userPromoUsage"
	defaultOrderCollection   = "orders"
	defaultProductCollection = "products"
	defaultUserCollection    = "users"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Firestore FirestoreConfig
	Carrier   CarrierConfig
	Delivery  DeliveryConfig
	Alerts    AlertConfig
	Features  FeatureFlags
}

// FirestoreConfig stores document store parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string

	UsageCollection   string
	OrderCollection   string
	ProductCollection string
	UserCollection    string
}

// CarrierConfig configures the remote rate lookup. An empty RateEndpoint
// means the estimator always uses the local heuristic.
type CarrierConfig struct {
	RateEndpoint string
	AuthEndpoint string
	Email        string
	Password     string
	Timeout      time.Duration
}

// Enabled reports whether a remote carrier lookup is configured.
func (c CarrierConfig) Enabled() bool {
	return strings.TrimSpace(c.RateEndpoint) != ""
}

// DeliveryConfig holds the origin warehouse and the heuristic fee constants.
type DeliveryConfig struct {
	OriginPostalCode string
	StandardBaseFee  int64
	ExpressBaseFee   int64
	PerKmSurcharge   float64
	PerKgCharge      float64
	FreeWeightKg     float64
	StandardETA      string
	ExpressETA       string
}

// BaseFee returns the per-tier base constant of the heuristic formula.
func (c DeliveryConfig) BaseFee(tier domain.SpeedTier) int64 {
	if tier == domain.SpeedExpress {
		return c.ExpressBaseFee
	}
	return c.StandardBaseFee
}

// AlertConfig names the Pub/Sub destination for reconciliation alerts.
type AlertConfig struct {
	ProjectID string
	Topic     string
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnablePromotions bool
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

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
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

// Load assembles the configuration by combining defaults, .env overrides,
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
		Firestore: FirestoreConfig{
			ProjectID:         stringWithDefault(lookup, "CHECKOUT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:      stringWithDefault(lookup, "CHECKOUT_FIRESTORE_EMULATOR_HOST", ""),
			UsageCollection:   stringWithDefault(lookup, "CHECKOUT_FIRESTORE_USAGE_COLLECTION", defaultUsageCollection),
			OrderCollection:   stringWithDefault(lookup, "CHECKOUT_FIRESTORE_ORDER_COLLECTION", defaultOrderCollection),
			ProductCollection: stringWithDefault(lookup, "CHECKOUT_FIRESTORE_PRODUCT_COLLECTION", defaultProductCollection),
			UserCollection:    stringWithDefault(lookup, "CHECKOUT_FIRESTORE_USER_COLLECTION", defaultUserCollection),
		},
		Carrier: CarrierConfig{
			RateEndpoint: stringWithDefault(lookup, "CHECKOUT_CARRIER_RATE_ENDPOINT", ""),
			AuthEndpoint: stringWithDefault(lookup, "CHECKOUT_CARRIER_AUTH_ENDPOINT", ""),
			Email:        stringWithDefault(lookup, "CHECKOUT_CARRIER_EMAIL", ""),
			Password:     stringWithDefault(lookup, "CHECKOUT_CARRIER_PASSWORD", ""),
			Timeout:      durationWithDefault(lookup, "CHECKOUT_CARRIER_TIMEOUT", defaultCarrierTimeout),
		},
		Delivery: DeliveryConfig{
			OriginPostalCode: stringWithDefault(lookup, "CHECKOUT_DELIVERY_ORIGIN_PIN", defaultOriginPostalCode),
			StandardBaseFee:  int64WithDefault(lookup, "CHECKOUT_DELIVERY_STANDARD_BASE", defaultStandardBaseFee),
			ExpressBaseFee:   int64WithDefault(lookup, "CHECKOUT_DELIVERY_EXPRESS_BASE", defaultExpressBaseFee),
			PerKmSurcharge:   floatWithDefault(lookup, "CHECKOUT_DELIVERY_PER_KM", defaultPerKmSurcharge),
			PerKgCharge:      floatWithDefault(lookup, "CHECKOUT_DELIVERY_PER_KG", defaultPerKgCharge),
			FreeWeightKg:     floatWithDefault(lookup, "CHECKOUT_DELIVERY_FREE_WEIGHT_KG", defaultFreeWeightKg),
			StandardETA:      stringWithDefault(lookup, "CHECKOUT_DELIVERY_STANDARD_ETA", defaultStandardETA),
			ExpressETA:       stringWithDefault(lookup, "CHECKOUT_DELIVERY_EXPRESS_ETA", defaultExpressETA),
		},
		Alerts: AlertConfig{
			ProjectID: stringWithDefault(lookup, "CHECKOUT_ALERTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "CHECKOUT_ALERTS_TOPIC", defaultAlertTopic),
		},
		Features: FeatureFlags{
			EnablePromotions: boolWithDefault(lookup, "CHECKOUT_FEATURE_PROMOTIONS", true),
		},
	}

	// Alerts publish into the Firestore project unless overridden.
	if cfg.Alerts.ProjectID == "" {
		cfg.Alerts.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Carrier.Email", &cfg.Carrier.Email},
		{"Carrier.Password", &cfg.Carrier.Password},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Delivery.OriginPostalCode) == "" {
		missing = append(missing, "Delivery.OriginPostalCode")
	}
	if cfg.Delivery.StandardBaseFee < 0 || cfg.Delivery.ExpressBaseFee < 0 {
		missing = append(missing, "Delivery.BaseFee")
	}
	if cfg.Carrier.Timeout <= 0 {
		missing = append(missing, "Carrier.Timeout")
	}
	if cfg.Carrier.Enabled() {
		if cfg.Carrier.Email == "" {
			missing = append(missing, "Carrier.Email")
		}
		if cfg.Carrier.Password == "" {
			missing = append(missing, "Carrier.Password")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
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
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		if key == "" {
			continue
		}
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
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
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
