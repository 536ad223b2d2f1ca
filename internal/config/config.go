package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig           `mapstructure:"server"`
	Database     DatabaseConfig         `mapstructure:"database"`
	Logger       LoggerConfig           `mapstructure:"logger"`
	Auth         AuthConfig             `mapstructure:"auth"`
	Chains       map[string]ChainConfig `mapstructure:"chains"`
	Notification NotificationConfig     `mapstructure:"notification"`
	Artifact     ArtifactConfig         `mapstructure:"artifact"`
	WebPush      WebPushConfig          `mapstructure:"webpush"`
	FCM          FCMConfig              `mapstructure:"fcm"`
	Lark         LarkConfig             `mapstructure:"lark"`
	Telegram     TelegramConfig         `mapstructure:"telegram"`
	NATS         NATSConfig             `mapstructure:"nats"`
	Redelivery   RedeliveryConfig       `mapstructure:"redelivery"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration. An empty MigrationsDir runs
// the migrations embedded in the binary.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// ChainConfig is one document type's approval chain
type ChainConfig struct {
	SubmitterRole string       `mapstructure:"submitter_role"`
	Steps         []StepConfig `mapstructure:"steps"`
}

// StepConfig binds a stage to the role that approves it
type StepConfig struct {
	Stage string `mapstructure:"stage"`
	Role  string `mapstructure:"role"`
}

// NotificationConfig bounds the notification fan-out
type NotificationConfig struct {
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	RenderTimeout   time.Duration `mapstructure:"render_timeout"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	LinkBase        string        `mapstructure:"link_base"`
}

// ArtifactConfig selects the snapshot format attached to messages
type ArtifactConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Format  string `mapstructure:"format"`
}

// WebPushConfig holds the VAPID identity
type WebPushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Subscriber      string `mapstructure:"subscriber"`
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	TTL             int    `mapstructure:"ttl"`
}

// FCMConfig holds Firebase Cloud Messaging settings
type FCMConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// LarkConfig holds Lark bot credentials
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// TelegramConfig holds the Telegram bot token
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
}

// NATSConfig holds the event and report bus settings
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Name          string `mapstructure:"name"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// RedeliveryConfig holds the redelivery worker settings
type RedeliveryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment. Missing
// files are skipped and existing variables are not overridden.
func LoadEnvFile(paths ...string) error {
	for _, path := range paths {
		if err := gotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables.
// An empty configPath uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Chains) == 0 {
		cfg.Chains = DefaultChains()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultChains mirrors the built-in exit permit and payment order chains
func DefaultChains() map[string]ChainConfig {
	return map[string]ChainConfig{
		"exit_permit": {
			SubmitterRole: "clerk",
			Steps: []StepConfig{
				{Stage: "PENDING_CEO", Role: "ceo"},
				{Stage: "PENDING_FACTORY", Role: "factory_manager"},
				{Stage: "PENDING_WAREHOUSE", Role: "warehouse"},
				{Stage: "PENDING_SECURITY", Role: "security"},
			},
		},
		"payment_order": {
			SubmitterRole: "clerk",
			Steps: []StepConfig{
				{Stage: "PENDING_CEO", Role: "ceo"},
				{Stage: "PENDING_FINANCE", Role: "finance_manager"},
				{Stage: "PENDING_ACCOUNTING", Role: "accountant"},
				{Stage: "PENDING_TREASURY", Role: "treasury"},
			},
		},
	}
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/approvals.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.migrations_dir", "")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Notification defaults
	v.SetDefault("notification.delivery_timeout", 10*time.Second)
	v.SetDefault("notification.render_timeout", 5*time.Second)
	v.SetDefault("notification.max_parallel", 8)

	v.SetDefault("artifact.enabled", true)
	v.SetDefault("artifact.format", "png")

	v.SetDefault("webpush.ttl", 3600)
	v.SetDefault("nats.name", "permit-approvals")
	v.SetDefault("nats.subject_prefix", "permits")

	v.SetDefault("redelivery.enabled", true)
	v.SetDefault("redelivery.poll_interval", 30*time.Second)
	v.SetDefault("redelivery.batch_size", 20)
	v.SetDefault("redelivery.max_attempts", 5)
}

// bindEnvVars binds secrets to their conventional variable names
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"auth.jwt_secret":           "AUTH_JWT_SECRET",
		"webpush.vapid_public_key":  "VAPID_PUBLIC_KEY",
		"webpush.vapid_private_key": "VAPID_PRIVATE_KEY",
		"fcm.credentials_file":      "GOOGLE_APPLICATION_CREDENTIALS",
		"lark.app_id":               "LARK_APP_ID",
		"lark.app_secret":           "LARK_APP_SECRET",
		"telegram.bot_token":        "TELEGRAM_BOT_TOKEN",
		"nats.url":                  "NATS_URL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	for docType, chain := range c.Chains {
		if len(chain.Steps) == 0 {
			return fmt.Errorf("chains.%s needs at least one step", docType)
		}
		for i, step := range chain.Steps {
			if step.Stage == "" || step.Role == "" {
				return fmt.Errorf("chains.%s.steps[%d] needs stage and role", docType, i)
			}
		}
	}

	switch c.Artifact.Format {
	case "", "png", "xlsx":
	default:
		return fmt.Errorf("artifact.format must be png or xlsx, got %q", c.Artifact.Format)
	}

	if c.WebPush.Enabled {
		if c.WebPush.VAPIDPublicKey == "" || c.WebPush.VAPIDPrivateKey == "" {
			return fmt.Errorf("webpush.vapid_public_key and webpush.vapid_private_key are required")
		}
		if c.WebPush.Subscriber == "" {
			return fmt.Errorf("webpush.subscriber is required")
		}
	}
	if c.FCM.Enabled && c.FCM.ProjectID == "" {
		return fmt.Errorf("fcm.project_id is required")
	}
	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}

	return nil
}
