package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RegisterRequest describes one endpoint a user wants notifications on
type RegisterRequest struct {
	OwnerID     string `json:"owner_id"`
	DisplayName string `json:"display_name"`
	Channel     string `json:"channel"`
	Endpoint    string `json:"endpoint"`
	P256dh      string `json:"p256dh,omitempty"`
	Auth        string `json:"auth,omitempty"`
	Role        string `json:"role"`
}

// SubscriptionService manages notification endpoints per user
type SubscriptionService interface {
	// Register upserts the (owner, channel) subscription; repeating it is a no-op.
	// A changed role replaces the previous one.
	Register(ctx context.Context, req RegisterRequest) (*entity.Subscription, error)
	// Unregister removes the (owner, channel) subscription
	Unregister(ctx context.Context, ownerID, channel string) error
	// RemoveEndpoint drops a subscription found dead, unless it was
	// re-registered with another endpoint in the meantime
	RemoveEndpoint(ctx context.Context, ownerID, channel, endpoint string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*entity.Subscription, error)
	ListByRole(ctx context.Context, role string) ([]*entity.Subscription, error)
}

type subscriptionServiceImpl struct {
	subs      port.SubscriptionRepository
	users     port.UserRepository
	txManager port.TransactionManager
	logger    Logger
}

// NewSubscriptionService creates a new SubscriptionService
func NewSubscriptionService(
	subs port.SubscriptionRepository,
	users port.UserRepository,
	txManager port.TransactionManager,
	logger Logger,
) SubscriptionService {
	return &subscriptionServiceImpl{
		subs:      subs,
		users:     users,
		txManager: txManager,
		logger:    logger,
	}
}

// Register validates and upserts the subscription, and records the owner's
// role in the user directory so role-addressed events reach it
func (s *subscriptionServiceImpl) Register(ctx context.Context, req RegisterRequest) (*entity.Subscription, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	now := time.Now()
	sub := &entity.Subscription{
		OwnerID:   req.OwnerID,
		Channel:   req.Channel,
		Endpoint:  strings.TrimSpace(req.Endpoint),
		P256dh:    req.P256dh,
		Auth:      req.Auth,
		Role:      req.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		prev, err := s.subs.Get(txCtx, req.OwnerID, req.Channel)
		if err != nil {
			return fmt.Errorf("load subscription: %w", err)
		}
		if err := s.users.AddRole(txCtx, req.OwnerID, req.DisplayName, req.Role); err != nil {
			return fmt.Errorf("record role: %w", err)
		}
		if err := s.subs.Upsert(txCtx, sub); err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}
		if prev != nil && prev.Role != sub.Role {
			return s.releaseRole(txCtx, req.OwnerID, prev.Role)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to register subscription",
			"owner_id", req.OwnerID,
			"channel", req.Channel,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("Subscription registered",
		"owner_id", sub.OwnerID,
		"channel", sub.Channel,
		"role", sub.Role,
	)
	return sub, nil
}

// Unregister removes the (owner, channel) subscription
func (s *subscriptionServiceImpl) Unregister(ctx context.Context, ownerID, channel string) error {
	if !entity.IsValidChannel(channel) {
		return workflow.NewValidationError("channel", fmt.Sprintf("unsupported channel %q", channel))
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		prev, err := s.subs.Get(txCtx, ownerID, channel)
		if err != nil || prev == nil {
			return err
		}
		if err := s.subs.Remove(txCtx, ownerID, channel); err != nil {
			return err
		}
		return s.releaseRole(txCtx, ownerID, prev.Role)
	})
	if err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}
	s.logger.Info("Subscription removed", "owner_id", ownerID, "channel", channel)
	return nil
}

// RemoveEndpoint deletes the subscription while it still points at endpoint
func (s *subscriptionServiceImpl) RemoveEndpoint(ctx context.Context, ownerID, channel, endpoint string) error {
	removed := false
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		prev, err := s.subs.Get(txCtx, ownerID, channel)
		if err != nil || prev == nil {
			return err
		}
		if removed, err = s.subs.RemoveEndpoint(txCtx, ownerID, channel, endpoint); err != nil || !removed {
			return err
		}
		return s.releaseRole(txCtx, ownerID, prev.Role)
	})
	if err != nil {
		return fmt.Errorf("remove subscription: %w", err)
	}
	if removed {
		s.logger.Info("Dead subscription removed", "owner_id", ownerID, "channel", channel)
	}
	return nil
}

// releaseRole revokes role from the directory once none of the owner's
// subscriptions carries it
func (s *subscriptionServiceImpl) releaseRole(ctx context.Context, ownerID, role string) error {
	subs, err := s.subs.ListByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, sub := range subs {
		if sub.Role == role {
			return nil
		}
	}
	if err := s.users.RemoveRole(ctx, ownerID, role); err != nil {
		return fmt.Errorf("release role: %w", err)
	}
	return nil
}

// ListByOwner returns every subscription of one user
func (s *subscriptionServiceImpl) ListByOwner(ctx context.Context, ownerID string) ([]*entity.Subscription, error) {
	subs, err := s.subs.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", ownerID, err)
	}
	return subs, nil
}

// ListByRole returns subscriptions of every user holding the role
func (s *subscriptionServiceImpl) ListByRole(ctx context.Context, role string) ([]*entity.Subscription, error) {
	if strings.TrimSpace(role) == "" {
		return nil, workflow.NewValidationError("role", "is required")
	}
	subs, err := s.subs.ListByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for role %s: %w", role, err)
	}
	return subs, nil
}

func validateRegistration(req RegisterRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return workflow.NewValidationError("owner_id", "is required")
	}
	if !entity.IsValidChannel(req.Channel) {
		return workflow.NewValidationError("channel", fmt.Sprintf("unsupported channel %q", req.Channel))
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		return workflow.NewValidationError("endpoint", "is required")
	}
	if strings.TrimSpace(req.Role) == "" {
		return workflow.NewValidationError("role", "is required")
	}
	if req.Channel == entity.ChannelWebPush {
		if !strings.HasPrefix(req.Endpoint, "https://") {
			return workflow.NewValidationError("endpoint", "web push endpoint must be an https URL")
		}
		if req.P256dh == "" || req.Auth == "" {
			return workflow.NewValidationError("keys", "web push requires p256dh and auth keys")
		}
	}
	return nil
}
