package container

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	"github.com/garyjia/permit-approvals/internal/application/dispatcher"
	"github.com/garyjia/permit-approvals/internal/application/notify"
	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/application/service"
	"github.com/garyjia/permit-approvals/internal/application/workflow"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	domainwf "github.com/garyjia/permit-approvals/internal/domain/workflow"
	"github.com/garyjia/permit-approvals/internal/infrastructure/external/fcm"
	infraLark "github.com/garyjia/permit-approvals/internal/infrastructure/external/lark"
	"github.com/garyjia/permit-approvals/internal/infrastructure/external/telegram"
	"github.com/garyjia/permit-approvals/internal/infrastructure/external/webpush"
	"github.com/garyjia/permit-approvals/internal/infrastructure/messaging"
	"github.com/garyjia/permit-approvals/internal/infrastructure/persistence/repository"
	"github.com/garyjia/permit-approvals/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/permit-approvals/internal/infrastructure/render"
	"github.com/garyjia/permit-approvals/internal/infrastructure/worker"
	"github.com/garyjia/permit-approvals/internal/interfaces/auth"
	"github.com/garyjia/permit-approvals/internal/interfaces/websocket"
	"github.com/garyjia/permit-approvals/pkg/database"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database and applies pending migrations.
// Migrations come from MigrationsDir when set, else from the binary.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.Open(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	var migrations fs.FS = database.EmbeddedMigrations()
	if cfg.MigrationsDir != "" {
		migrations = os.DirFS(cfg.MigrationsDir)
	}
	applied, err := database.NewMigrator(db, migrations, logger).Up(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database schema is current", zap.Int("applied", applied))

	return &DatabaseBundle{
		SqlDB:          db,
		TransactionMgr: sqlite.NewDB(db, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Document:     repository.NewDocumentRepository(db.DB, logger),
		Counter:      repository.NewSequenceCounter(db.DB, logger),
		Subscription: repository.NewSubscriptionRepository(db.DB, logger),
		Delivery:     repository.NewDeliveryRepository(db.DB, logger),
		User:         repository.NewUserRepository(db, logger),
	}, nil
}

// ProvideChains compiles the configured chains. No configuration means the
// built-in chains.
func ProvideChains(cfg map[string]ChainConfig) (*workflow.Chains, error) {
	if len(cfg) == 0 {
		return workflow.DefaultChains(), nil
	}

	chains := make(map[entity.DocumentType]*domainwf.Chain, len(cfg))
	for docType, c := range cfg {
		steps := make([]domainwf.Step, len(c.Steps))
		for i, s := range c.Steps {
			steps[i] = domainwf.Step{Stage: domainwf.Stage(s.Stage), Role: domainwf.Role(s.Role)}
		}
		chain, err := domainwf.NewChain(domainwf.Role(c.SubmitterRole), steps...)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", docType, err)
		}
		chains[entity.DocumentType(docType)] = chain
	}

	return workflow.NewChains(chains)
}

// ProvideSenders creates a sender for every enabled channel
func ProvideSenders(ctx context.Context, cfg *ChannelsConfig, logger *zap.Logger) ([]port.ChannelSender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("channels config is required")
	}

	var senders []port.ChannelSender

	if cfg.WebPush.Enabled {
		senders = append(senders, webpush.NewSender(webpush.Config{
			Subscriber:      cfg.WebPush.Subscriber,
			VAPIDPublicKey:  cfg.WebPush.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.WebPush.VAPIDPrivateKey,
			TTL:             cfg.WebPush.TTL,
		}, nil, logger))
	}

	if cfg.FCM.Enabled {
		s, err := fcm.NewSender(ctx, fcm.Config{
			ProjectID:       cfg.FCM.ProjectID,
			CredentialsFile: cfg.FCM.CredentialsFile,
		}, logger)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}

	if cfg.Lark.Enabled {
		sdk := infraLark.NewSDKClient(infraLark.Config{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			BaseURL:   cfg.Lark.BaseURL,
		}, logger)
		senders = append(senders, infraLark.NewMessenger(sdk, logger))
	}

	if cfg.Telegram.Enabled {
		s, err := telegram.NewSender(cfg.Telegram.BotToken, logger)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}

	for _, s := range senders {
		logger.Info("Channel sender enabled", zap.String("channel", s.Channel()))
	}
	return senders, nil
}

// ProvideRenderer returns nil when no artifact format is configured
func ProvideRenderer(format string, logger *zap.Logger) (port.ArtifactRenderer, error) {
	if format == "" {
		return nil, nil
	}
	r, err := render.New(format, logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}),
	), nil
}

// NotifierDeps holds dependencies required for creating the notifier.
type NotifierDeps struct {
	Repos         *RepositoryBundle
	Subscriptions service.SubscriptionService
	Renderer      port.ArtifactRenderer
	Senders       []port.ChannelSender
	Sinks         []notify.ReportSink
	Config        *NotificationConfig
	Logger        *zap.Logger
}

// ProvideNotifier creates the notifier. Every report goes to the log and the
// delivery table in addition to deps.Sinks.
func ProvideNotifier(deps *NotifierDeps) (*notify.Notifier, error) {
	if deps == nil {
		return nil, fmt.Errorf("notifier dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("notification config is required")
	}

	logger := &zapLoggerAdapter{logger: deps.Logger}
	sinks := append([]notify.ReportSink{
		notify.NewLogSink(logger),
		notify.NewDeliveryLogSink(deps.Repos.Delivery, logger),
	}, deps.Sinks...)

	return notify.NewNotifier(
		deps.Repos.User,
		deps.Subscriptions,
		deps.Renderer,
		deps.Senders,
		notify.WithDeliveryTimeout(deps.Config.DeliveryTimeout),
		notify.WithRenderTimeout(deps.Config.RenderTimeout),
		notify.WithMaxParallel(deps.Config.MaxParallel),
		notify.WithLinkBase(deps.Config.LinkBase),
		notify.WithReportSinks(sinks...),
		notify.WithLogger(logger),
	), nil
}

// ProvidePublisher connects to NATS; nil when the bus is disabled
func ProvidePublisher(cfg *NATSConfig, logger *zap.Logger) (*messaging.Publisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	return messaging.Connect(messaging.Config{
		URL:           cfg.URL,
		Name:          cfg.Name,
		SubjectPrefix: cfg.SubjectPrefix,
	}, logger)
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Chains     *workflow.Chains
	Dispatcher dispatcher.Dispatcher
	Notifier   *notify.Notifier
	Publisher  *messaging.Publisher
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine and subscribes the
// notifier and the bus publisher to every event it emits.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Chains == nil {
		return nil, fmt.Errorf("chains are required")
	}

	engine := workflow.NewEngine(
		deps.Repos.Document,
		deps.Repos.Counter,
		deps.TxManager,
		deps.Chains,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger}),
	)

	if deps.Notifier != nil {
		deps.Dispatcher.Subscribe("notifier", deps.Notifier.HandleEvent)
	}
	if deps.Publisher != nil {
		deps.Dispatcher.Subscribe("nats_publisher", deps.Publisher.HandleEvent)
	}

	return engine, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Repos      *RepositoryBundle
	Chains     *workflow.Chains
	Notifier   worker.Redeliverer
	Hub        *websocket.Hub
	Redelivery *RedeliveryConfig
	Logger     *zap.Logger
}

// ProvideWorkers creates the worker manager with every background worker
// registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Redelivery == nil {
		return nil, fmt.Errorf("redelivery config is required")
	}
	if deps.Redelivery.Enabled && deps.Chains == nil {
		return nil, fmt.Errorf("approval chains are required for redelivery")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewManager(deps.Logger)

	if deps.Hub != nil {
		manager.Register(deps.Hub)
	}

	if deps.Redelivery.Enabled && deps.Notifier != nil {
		manager.Register(worker.NewRedeliveryWorker(
			worker.RedeliveryConfig{
				PollInterval: deps.Redelivery.PollInterval,
				BatchSize:    deps.Redelivery.BatchSize,
				MaxAttempts:  deps.Redelivery.MaxAttempts,
			},
			deps.Repos.Delivery,
			deps.Repos.Document,
			deps.Repos.Subscription,
			deps.Chains,
			deps.Notifier,
			deps.Logger,
		))
	}

	return manager, nil
}

// ProvideHub creates the dispatch report stream
func ProvideHub(validator *auth.Validator, origins []string, logger *zap.Logger) *websocket.Hub {
	return websocket.NewHub(validator, origins, logger)
}
