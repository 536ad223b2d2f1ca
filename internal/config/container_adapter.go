package config

import (
	"github.com/garyjia/permit-approvals/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	chains := make(map[string]container.ChainConfig, len(c.Chains))
	for docType, chain := range c.Chains {
		steps := make([]container.StepConfig, len(chain.Steps))
		for i, s := range chain.Steps {
			steps[i] = container.StepConfig{Stage: s.Stage, Role: s.Role}
		}
		chains[docType] = container.ChainConfig{SubmitterRole: chain.SubmitterRole, Steps: steps}
	}

	format := c.Artifact.Format
	if !c.Artifact.Enabled {
		format = ""
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
			AllowedOrigins:  c.Server.AllowedOrigins,
		},
		Auth: container.AuthConfig{
			JWTSecret: c.Auth.JWTSecret,
			Issuer:    c.Auth.Issuer,
		},
		Chains: chains,
		Notification: container.NotificationConfig{
			DeliveryTimeout: c.Notification.DeliveryTimeout,
			RenderTimeout:   c.Notification.RenderTimeout,
			MaxParallel:     c.Notification.MaxParallel,
			LinkBase:        c.Notification.LinkBase,
			ArtifactFormat:  format,
		},
		Channels: container.ChannelsConfig{
			WebPush: container.WebPushConfig{
				Enabled:         c.WebPush.Enabled,
				Subscriber:      c.WebPush.Subscriber,
				VAPIDPublicKey:  c.WebPush.VAPIDPublicKey,
				VAPIDPrivateKey: c.WebPush.VAPIDPrivateKey,
				TTL:             c.WebPush.TTL,
			},
			FCM: container.FCMConfig{
				Enabled:         c.FCM.Enabled,
				ProjectID:       c.FCM.ProjectID,
				CredentialsFile: c.FCM.CredentialsFile,
			},
			Lark: container.LarkConfig{
				Enabled:   c.Lark.Enabled,
				AppID:     c.Lark.AppID,
				AppSecret: c.Lark.AppSecret,
				BaseURL:   c.Lark.BaseURL,
			},
			Telegram: container.TelegramConfig{
				Enabled:  c.Telegram.Enabled,
				BotToken: c.Telegram.BotToken,
			},
		},
		NATS: container.NATSConfig{
			Enabled:       c.NATS.Enabled,
			URL:           c.NATS.URL,
			Name:          c.NATS.Name,
			SubjectPrefix: c.NATS.SubjectPrefix,
		},
		Redelivery: container.RedeliveryConfig{
			Enabled:      c.Redelivery.Enabled,
			PollInterval: c.Redelivery.PollInterval,
			BatchSize:    c.Redelivery.BatchSize,
			MaxAttempts:  c.Redelivery.MaxAttempts,
		},
	}
}
