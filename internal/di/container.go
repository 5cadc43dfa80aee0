package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/tripdesk/planner/internal/domain"
	"github.com/tripdesk/planner/internal/platform/config"
	pfirestore "github.com/tripdesk/planner/internal/platform/firestore"
	"github.com/tripdesk/planner/internal/platform/idempotency"
	"github.com/tripdesk/planner/internal/platform/jobs"
	"github.com/tripdesk/planner/internal/platform/observability"
	"github.com/tripdesk/planner/internal/platform/storage"
	"github.com/tripdesk/planner/internal/repositories"
	firestorerepo "github.com/tripdesk/planner/internal/repositories/firestore"
	"github.com/tripdesk/planner/internal/repositories/memory"
	redisrepo "github.com/tripdesk/planner/internal/repositories/redis"
	"github.com/tripdesk/planner/internal/services"
)

const envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Planner services.TripPlannerService
	System  services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config         config.Config
	Repositories   repositories.Registry
	Services       Services
	AgentResponses *jobs.AgentResponseSubscriber
	Idempotency    idempotency.Store

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	registry  repositories.Registry
	transport services.AgentTransport
	clock     func() time.Time
}

// WithLogger routes service events through the given zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry bypasses backend selection; tests use it with in-memory registries.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithAgentTransport overrides the Pub/Sub transport.
func WithAgentTransport(transport services.AgentTransport) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithClock injects the clock shared by all services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// NewContainer constructs the runtime dependencies for cfg.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	c := &Container{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close(context.Background())
		}
	}()

	var checks []repositories.DependencyCheck

	reg := o.registry
	if reg == nil {
		built, backendChecks, err := c.buildRegistry(ctx, cfg)
		if err != nil {
			return nil, err
		}
		reg = built
		checks = append(checks, backendChecks...)
	}
	c.Repositories = reg
	if c.Idempotency == nil {
		c.Idempotency = idempotency.NewMemoryStore()
	}

	transport := o.transport
	var subscription *pubsub.Subscription
	if transport == nil && strings.TrimSpace(cfg.PubSub.ProjectID) != "" {
		client, err := newPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })

		topic := client.Topic(cfg.PubSub.RequestTopic)
		c.closers = append(c.closers, func(context.Context) error { topic.Stop(); return nil })
		pubsubTransport, err := jobs.NewPubSubAgentTransport(topic)
		if err != nil {
			return nil, err
		}
		transport = pubsubTransport
		subscription = client.Subscription(cfg.PubSub.ResponseSubscription)
		checks = append(checks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}

	var exporter services.HistoryExporter
	if bucket := strings.TrimSpace(cfg.Storage.HistoryBucket); bucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })

		exporterOpts := []storage.HistoryExporterOption{storage.WithHistoryPrefix(cfg.Storage.HistoryPrefix)}
		if keyFile := strings.TrimSpace(cfg.Storage.SignerKeyFile); keyFile != "" {
			signer, err := storage.LoadKeyFileSigner(keyFile)
			if err != nil {
				return nil, err
			}
			exporterOpts = append(exporterOpts, storage.WithDownloadURLs(signer, cfg.Storage.DownloadURLTTL))
		}
		historyExporter, err := storage.NewHistoryExporter(client, bucket, exporterOpts...)
		if err != nil {
			return nil, err
		}
		exporter = historyExporter
		checks = append(checks, repositories.DependencyCheck{
			Name: "storage",
			Check: func(ctx context.Context) error {
				_, err := client.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	}

	eventLogger := observability.EventLogger(o.logger)
	fees, taxRate := cfg.Pricing.Fees, cfg.Pricing.TaxRate
	pricing := services.NewItineraryPricingEngine(services.PricingEngineDeps{
		TaxRate:  &taxRate,
		Fees:     &fees,
		Currency: cfg.Pricing.Currency,
		Logger:   eventLogger,
	})

	planner, err := services.NewTripPlannerService(services.TripPlannerServiceDeps{
		Trips:            reg.Trips(),
		Sessions:         reg.Sessions(),
		Pricing:          pricing,
		Transport:        transport,
		Exporter:         exporter,
		Clock:            o.clock,
		AutoSaveDelay:    cfg.Planner.AutoSaveDelay,
		DisableAutoSave:  cfg.Planner.DisableAutoSave,
		QuoteTTL:         cfg.Planner.QuoteTTL,
		SessionIdleTTL:   cfg.Planner.SessionIdleTTL,
		FlushConcurrency: cfg.Planner.FlushConcurrency,
		Logger:           eventLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("build trip planner service: %w", err)
	}
	c.Services.Planner = planner

	if subscription != nil {
		subscriber, err := jobs.NewAgentResponseSubscriber(subscription, planner, eventLogger)
		if err != nil {
			return nil, err
		}
		c.AgentResponses = subscriber
	}

	health := reg.Health()
	if health == nil {
		if len(checks) == 0 {
			checks = append(checks, repositories.DependencyCheck{
				Name:     "sessions",
				Critical: true,
				Check:    func(context.Context) error { return nil },
			})
		}
		health, err = repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(o.clock))
		if err != nil {
			return nil, fmt.Errorf("build health repository: %w", err)
		}
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Planner:          planner,
		Clock:            o.clock,
		Build: services.BuildInfo{
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
			StartedAt:   o.clock().UTC(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}
	c.Services.System = system

	ok = true
	return c, nil
}

// Close flushes the planner, then releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Planner != nil {
		if err := c.Services.Planner.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close planner: %w", err))
		}
		c.Services.Planner = nil
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, []repositories.DependencyCheck, error) {
	var seed []domain.Trip
	if path := strings.TrimSpace(cfg.Planner.TripSeedFile); path != "" {
		trips, err := memory.LoadTripSeedFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("load trip seed: %w", err)
		}
		seed = trips
	}

	switch cfg.Planner.SessionBackend {
	case config.BackendMemory:
		return memory.NewRegistry(memory.NewTripRepository(seed...), memory.NewSessionRepository(), nil), nil, nil

	case config.BackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
		trips, err := firestorerepo.NewTripRepository(provider)
		if err != nil {
			return nil, nil, err
		}
		for _, trip := range seed {
			if err := trips.Upsert(ctx, trip); err != nil {
				return nil, nil, fmt.Errorf("seed trip %s: %w", trip.ID, err)
			}
		}
		sessions, err := firestorerepo.NewSessionRepository(provider)
		if err != nil {
			return nil, nil, err
		}
		checks := []repositories.DependencyCheck{{Name: "firestore", Critical: true, Check: provider.Ping}}
		return memory.NewRegistry(trips, sessions, nil), checks, nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		sessions, err := redisrepo.NewSessionRepository(client,
			redisrepo.WithKeyPrefix(cfg.Redis.KeyPrefix),
			redisrepo.WithSessionTTL(cfg.Redis.SessionTTL),
		)
		if err != nil {
			return nil, nil, err
		}
		store, err := idempotency.NewRedisStore(client, "")
		if err != nil {
			return nil, nil, err
		}
		c.Idempotency = store
		checks := []repositories.DependencyCheck{{Name: "redis", Critical: true, Check: sessions.Ping}}
		return memory.NewRegistry(memory.NewTripRepository(seed...), sessions, nil), checks, nil
	}
	return nil, nil, fmt.Errorf("unsupported session backend \"%s\"", cfg.Planner.SessionBackend)
}

func newPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, error) {
	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		if os.Getenv(envPubSubEmulatorHost) == "" {
			_ = os.Setenv(envPubSubEmulatorHost, host)
		}
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return client, nil
}
