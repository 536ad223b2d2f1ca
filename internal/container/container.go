package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/permit-approvals/internal/application/dispatcher"
	"github.com/garyjia/permit-approvals/internal/application/notify"
	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/application/service"
	"github.com/garyjia/permit-approvals/internal/application/workflow"
	"github.com/garyjia/permit-approvals/internal/infrastructure/messaging"
	"github.com/garyjia/permit-approvals/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/permit-approvals/internal/infrastructure/worker"
	"github.com/garyjia/permit-approvals/internal/interfaces/auth"
	"github.com/garyjia/permit-approvals/internal/interfaces/websocket"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	sqlDB        *sql.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Delivery
	senders   []port.ChannelSender
	renderer  port.ArtifactRenderer
	publisher *messaging.Publisher

	// Application
	subscriptions service.SubscriptionService
	notifier      *notify.Notifier
	dispatcher    dispatcher.Dispatcher
	chains        *workflow.Chains
	engine        workflow.Engine

	// Interfaces
	validator *auth.Validator
	hub       *websocket.Hub

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Document     port.DocumentRepository
	Counter      port.SequenceCounter
	Subscription port.SubscriptionRepository
	Delivery     port.DeliveryRepository
	User         port.UserRepository
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Channel senders, renderer and the NATS bus
// 3. Subscription registry and notifier
// 4. Event dispatcher and workflow engine
// 5. Workers (report hub, redelivery)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initDelivery(); err != nil {
		c.closeResources()
		return fmt.Errorf("failed to initialize delivery channels: %w", err)
	}
	c.logger.Info("Delivery channels initialized", zap.Int("senders", len(c.senders)))

	if err := c.initServices(); err != nil {
		c.closeResources()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	if err := c.initDispatcherAndWorkflow(); err != nil {
		c.closeResources()
		return fmt.Errorf("failed to initialize dispatcher and workflow: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	if err := c.initWorkers(); err != nil {
		c.closeResources()
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	if c.cancel != nil {
		c.cancel()
	}

	errs := c.closeResources()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// closeResources releases whatever has been initialized, last first
func (c *Container) closeResources() []error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	// waits for in-flight notifications
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Error("Failed to close NATS publisher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
		c.publisher = nil
	}

	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.sqlDB = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.sqlDB == nil:
		set("database", false, "not initialized")
	default:
		if err := c.sqlDB.Ping(); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.workers == nil {
		set("workers", false, "not initialized")
	} else {
		for name, running := range c.workers.Status() {
			set(name, running, "")
		}
	}

	if c.dispatcher == nil {
		set("dispatcher", false, "not initialized")
	} else {
		set("dispatcher", true, fmt.Sprintf("%d handlers in flight", c.dispatcher.InFlight()))
	}
	set("channels", true, fmt.Sprintf("%d senders", len(c.senders)))

	return status
}

// HealthMap flattens Health for the HTTP health endpoint.
func (c *Container) HealthMap() map[string]bool {
	h := c.Health()
	out := make(map[string]bool, len(h.Components))
	for name, comp := range h.Components {
		out[name] = comp.Healthy
	}
	return out
}

func (c *Container) initDatabase(ctx context.Context) error {
	dbBundle, err := ProvideDatabase(ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		c.closeResources()
		return err
	}

	c.repositories = repos
	return nil
}

func (c *Container) initDelivery() error {
	senders, err := ProvideSenders(c.ctx, &c.config.Channels, c.logger)
	if err != nil {
		return err
	}
	c.senders = senders

	renderer, err := ProvideRenderer(c.config.Notification.ArtifactFormat, c.logger)
	if err != nil {
		return err
	}
	c.renderer = renderer

	publisher, err := ProvidePublisher(&c.config.NATS, c.logger)
	if err != nil {
		return err
	}
	c.publisher = publisher

	return nil
}

func (c *Container) initServices() error {
	c.subscriptions = service.NewSubscriptionService(
		c.repositories.Subscription,
		c.repositories.User,
		c.db,
		&zapLoggerAdapter{logger: c.logger},
	)

	c.validator = auth.NewValidator(c.config.Auth.JWTSecret, c.config.Auth.Issuer)
	c.hub = ProvideHub(c.validator, c.config.Server.AllowedOrigins, c.logger)

	sinks := []notify.ReportSink{c.hub}
	if c.publisher != nil {
		sinks = append(sinks, c.publisher)
	}

	notifier, err := ProvideNotifier(&NotifierDeps{
		Repos:         c.repositories,
		Subscriptions: c.subscriptions,
		Renderer:      c.renderer,
		Senders:       c.senders,
		Sinks:         sinks,
		Config:        &c.config.Notification,
		Logger:        c.logger,
	})
	if err != nil {
		return err
	}
	c.notifier = notifier

	return nil
}

func (c *Container) initDispatcherAndWorkflow() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	chains, err := ProvideChains(c.config.Chains)
	if err != nil {
		return err
	}
	c.chains = chains

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Chains:     chains,
		Dispatcher: c.dispatcher,
		Notifier:   c.notifier,
		Publisher:  c.publisher,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine

	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Repos:      c.repositories,
		Chains:     c.chains,
		Notifier:   c.notifier,
		Hub:        c.hub,
		Redelivery: &c.config.Redelivery,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Subscriptions returns the subscription registry.
func (c *Container) Subscriptions() service.SubscriptionService {
	return c.subscriptions
}

// Notifier returns the notification dispatcher.
func (c *Container) Notifier() *notify.Notifier {
	return c.notifier
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Validator returns the bearer token validator.
func (c *Container) Validator() *auth.Validator {
	return c.validator
}

// Hub returns the dispatch report stream.
func (c *Container) Hub() *websocket.Hub {
	return c.hub
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the key-value Logger interfaces of
// the application packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

// NewLoggerAdapter exposes the adapter to the command wiring
func NewLoggerAdapter(logger *zap.Logger) interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
} {
	return &zapLoggerAdapter{logger: logger}
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
