// Package checkout wires the pricing core: delivery estimation, promotion
// validation, redemption bookkeeping, and post-payment finalization over
// Firestore, with reconciliation alerts on Pub/Sub.
package checkout

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/aarnya/checkout/internal/alerts"
	"github.com/aarnya/checkout/internal/carriers"
	"github.com/aarnya/checkout/internal/domain"
	"github.com/aarnya/checkout/internal/platform/config"
	pfirestore "github.com/aarnya/checkout/internal/platform/firestore"
	"github.com/aarnya/checkout/internal/platform/observability"
	"github.com/aarnya/checkout/internal/platform/secrets"
	repofirestore "github.com/aarnya/checkout/internal/repositories/firestore"
	"github.com/aarnya/checkout/internal/services"
)

// Container holds the assembled runtime dependencies. Build it once at
// startup and share it; every component inside is safe for concurrent use.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Checkout *services.CheckoutService
	Catalog  services.PromotionCatalog
	Engine   services.PromotionEngine
	Ledger   services.UsageLedger
	Delivery services.DeliveryEstimator

	provider     *pfirestore.Provider
	secretsClose func() error
	pubsubClient *pubsub.Client
	alertTopic   *pubsub.Topic
}

// ContainerOption customises container assembly.
type ContainerOption func(*containerOptions)

type containerOptions struct {
	configOptions []config.Option
	logger        *zap.Logger
	promotions    []domain.PromotionDefinition
	clock         func() time.Time
}

// WithConfigOptions forwards options to the configuration loader.
func WithConfigOptions(opts ...config.Option) ContainerOption {
	return func(o *containerOptions) {
		o.configOptions = append(o.configOptions, opts...)
	}
}

// WithLogger supplies a preconfigured logger instead of building one.
func WithLogger(logger *zap.Logger) ContainerOption {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPromotions overrides the built-in promotion definitions.
func WithPromotions(definitions []domain.PromotionDefinition) ContainerOption {
	return func(o *containerOptions) {
		o.promotions = definitions
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) ContainerOption {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer loads configuration and assembles the full checkout stack:
// secret resolution, Firestore-backed repositories, the optional carrier
// client, the Pub/Sub alert publisher, and the services on top of them.
func NewContainer(ctx context.Context, opts ...ContainerOption) (*Container, error) {
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.logger
	if logger == nil {
		built, err := observability.NewLogger()
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		logger = built
	}
	eventLog := observability.NewEventLogger(logger)

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("build secret fetcher: %w", err)
	}

	cfg, err := config.Load(ctx, append([]config.Option{config.WithSecretResolver(fetcher)}, options.configOptions...)...)
	if err != nil {
		_ = fetcher.Close()
		return nil, fmt.Errorf("load config: %w", err)
	}

	c := &Container{
		Config:       cfg,
		Logger:       logger,
		provider:     pfirestore.NewProvider(cfg.Firestore),
		secretsClose: fetcher.Close,
	}

	if err := c.build(ctx, options, eventLog); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, options containerOptions, eventLog observability.EventLogger) error {
	cfg := c.Config

	instruments, err := observability.NewInstruments(observability.Meter())
	if err != nil {
		return fmt.Errorf("register instruments: %w", err)
	}

	usageRepo, err := repofirestore.NewPromoUsageRepository(c.provider, cfg.Firestore.UsageCollection, options.clock)
	if err != nil {
		return fmt.Errorf("build usage repository: %w", err)
	}
	orderRepo, err := repofirestore.NewOrderRepository(c.provider, cfg.Firestore.OrderCollection)
	if err != nil {
		return fmt.Errorf("build order repository: %w", err)
	}
	productRepo, err := repofirestore.NewProductRepository(c.provider, cfg.Firestore.ProductCollection)
	if err != nil {
		return fmt.Errorf("build product repository: %w", err)
	}
	userRepo, err := repofirestore.NewUserRepository(c.provider, cfg.Firestore.UserCollection)
	if err != nil {
		return fmt.Errorf("build user repository: %w", err)
	}

	var carrier carriers.RateProvider
	if cfg.Carrier.Enabled() {
		provider, err := carriers.NewShiprocketProvider(
			cfg.Carrier.RateEndpoint, cfg.Carrier.AuthEndpoint,
			cfg.Carrier.Email, cfg.Carrier.Password,
			carriers.WithClock(options.clock))
		if err != nil {
			return fmt.Errorf("build carrier provider: %w", err)
		}
		carrier = provider
	}

	estimator, err := services.NewDeliveryEstimator(services.DeliveryEstimatorDeps{
		Carrier:     carrier,
		Config:      cfg.Delivery,
		Timeout:     cfg.Carrier.Timeout,
		Logger:      eventLog,
		Instruments: instruments,
	})
	if err != nil {
		return fmt.Errorf("build delivery estimator: %w", err)
	}

	ledger, err := services.NewUsageLedger(services.UsageLedgerDeps{
		Usage:  usageRepo,
		Logger: eventLog,
	})
	if err != nil {
		return fmt.Errorf("build usage ledger: %w", err)
	}

	definitions := options.promotions
	if len(definitions) == 0 {
		definitions = services.DefaultPromotions()
	}
	if !cfg.Features.EnablePromotions {
		// Inactive definitions still resolve but every validation rejects.
		disabled := make([]domain.PromotionDefinition, len(definitions))
		for i, def := range definitions {
			def.Active = false
			disabled[i] = def
		}
		definitions = disabled
	}
	catalog, err := services.NewPromotionCatalog(services.PromotionCatalogDeps{
		Definitions: definitions,
		Ledger:      ledger,
	})
	if err != nil {
		return fmt.Errorf("build promotion catalog: %w", err)
	}

	engine, err := services.NewPromotionEngine(services.PromotionEngineDeps{
		Catalog: catalog,
		Ledger:  ledger,
		Clock:   options.clock,
		Logger:  eventLog,
	})
	if err != nil {
		return fmt.Errorf("build promotion engine: %w", err)
	}

	var alertPublisher alerts.Publisher
	if cfg.Alerts.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.Alerts.ProjectID)
		if err != nil {
			return fmt.Errorf("build pubsub client: %w", err)
		}
		c.pubsubClient = client
		c.alertTopic = client.Topic(cfg.Alerts.Topic)
		publisher, err := alerts.NewPubSubPublisher(c.alertTopic)
		if err != nil {
			return fmt.Errorf("build alert publisher: %w", err)
		}
		alertPublisher = publisher
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Estimator:   estimator,
		Engine:      engine,
		Ledger:      ledger,
		Orders:      orderRepo,
		Products:    productRepo,
		Users:       userRepo,
		Alerts:      alertPublisher,
		Clock:       options.clock,
		Logger:      eventLog,
		Instruments: instruments,
	})
	if err != nil {
		return fmt.Errorf("build checkout service: %w", err)
	}

	c.Checkout = checkoutSvc
	c.Catalog = catalog
	c.Engine = engine
	c.Ledger = ledger
	c.Delivery = estimator
	return nil
}

// Close releases the Firestore, Pub/Sub, and Secret Manager clients.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs error
	if c.alertTopic != nil {
		c.alertTopic.Stop()
	}
	if c.pubsubClient != nil {
		errs = multierr.Append(errs, c.pubsubClient.Close())
	}
	if c.provider != nil {
		errs = multierr.Append(errs, c.provider.Close())
	}
	if c.secretsClose != nil {
		errs = multierr.Append(errs, c.secretsClose())
	}
	return errs
}
