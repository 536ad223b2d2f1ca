// Package container provides dependency injection and lifecycle management
// for the approval workflow service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Auth         AuthConfig
	Chains       map[string]ChainConfig
	Notification NotificationConfig
	Channels     ChannelsConfig
	NATS         NATSConfig
	Redelivery   RedeliveryConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration

	// MigrationsDir overrides the embedded migrations when set
	MigrationsDir string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// AllowedOrigins restricts websocket upgrades; empty allows any
	AllowedOrigins []string
}

// AuthConfig holds the bearer token secret.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ChainConfig is the approval chain of one document type.
type ChainConfig struct {
	SubmitterRole string
	Steps         []StepConfig
}

// StepConfig binds a pending stage to its approver role.
type StepConfig struct {
	Stage string
	Role  string
}

// NotificationConfig bounds the dispatcher.
type NotificationConfig struct {
	DeliveryTimeout time.Duration
	RenderTimeout   time.Duration
	MaxParallel     int
	LinkBase        string

	// ArtifactFormat is png or xlsx; empty disables rendering
	ArtifactFormat string
}

// ChannelsConfig holds per-channel sender settings. A channel without
// Enabled has no sender and its deliveries are abandoned.
type ChannelsConfig struct {
	WebPush  WebPushConfig
	FCM      FCMConfig
	Lark     LarkConfig
	Telegram TelegramConfig
}

// WebPushConfig holds the VAPID identity.
type WebPushConfig struct {
	Enabled         bool
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
}

// FCMConfig holds Firebase settings.
type FCMConfig struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
}

// LarkConfig holds Lark bot credentials.
type LarkConfig struct {
	Enabled   bool
	AppID     string
	AppSecret string
	BaseURL   string
}

// TelegramConfig holds the bot token.
type TelegramConfig struct {
	Enabled  bool
	BotToken string
}

// NATSConfig holds the bus connection.
type NATSConfig struct {
	Enabled       bool
	URL           string
	Name          string
	SubjectPrefix string
}

// RedeliveryConfig holds background retry settings.
type RedeliveryConfig struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/approvals.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			BusyTimeout:  5 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Notification: NotificationConfig{
			DeliveryTimeout: 10 * time.Second,
			RenderTimeout:   5 * time.Second,
			MaxParallel:     8,
			ArtifactFormat:  "png",
		},
		Redelivery: RedeliveryConfig{
			Enabled:      true,
			PollInterval: 30 * time.Second,
			BatchSize:    20,
			MaxAttempts:  5,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Channels.Lark.Enabled && (c.Channels.Lark.AppID == "" || c.Channels.Lark.AppSecret == "") {
		return fmt.Errorf("lark credentials are required")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	return nil
}
