package port

import (
	"context"
	"errors"

	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
)

// ErrVersionConflict is returned by DocumentRepository.Update when the stored
// version no longer matches the expected one
var ErrVersionConflict = errors.New("document version conflict")

// DocumentFilter narrows List results; zero values match everything
type DocumentFilter struct {
	Type      entity.DocumentType
	CompanyID string
	Stage     workflow.Stage
	Limit     int
	Offset    int
}

// DocumentRepository defines persistence operations for Document
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	// GetByID returns nil, nil when the document does not exist
	GetByID(ctx context.Context, id string) (*entity.Document, error)
	// Update stores doc only if the stored version equals expectedVersion,
	// and bumps doc.Version on success
	Update(ctx context.Context, doc *entity.Document, expectedVersion int64) error
	List(ctx context.Context, filter DocumentFilter) ([]*entity.Document, error)
}

// SequenceCounter hands out gap-free, never reused numbers per (type, scope)
type SequenceCounter interface {
	Next(ctx context.Context, docType entity.DocumentType, scope string) (int64, error)
}

// SubscriptionRepository defines persistence operations for Subscription
type SubscriptionRepository interface {
	// Upsert inserts or replaces the subscription keyed by (owner, channel)
	Upsert(ctx context.Context, sub *entity.Subscription) error
	// Remove deletes the subscription; removing a missing one is not an error
	Remove(ctx context.Context, ownerID, channel string) error
	// RemoveEndpoint deletes the subscription only if it still has this endpoint
	RemoveEndpoint(ctx context.Context, ownerID, channel, endpoint string) (bool, error)
	Get(ctx context.Context, ownerID, channel string) (*entity.Subscription, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*entity.Subscription, error)
	ListByRole(ctx context.Context, role string) ([]*entity.Subscription, error)
}

// DeliveryRepository defines persistence operations for DeliveryRecord
type DeliveryRepository interface {
	Create(ctx context.Context, rec *entity.DeliveryRecord) error
	// ListRetryable returns FAILED records with fewer than maxAttempts attempts
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*entity.DeliveryRecord, error)
	MarkAttempt(ctx context.Context, id int64, status, errorMsg string) error
}

// UserDirectory resolves users by role
type UserDirectory interface {
	UsersWithRole(ctx context.Context, role string) ([]*entity.User, error)
}

// UserRepository maintains the user directory
type UserRepository interface {
	UserDirectory
	Save(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	AddRole(ctx context.Context, userID, displayName, role string) error
	RemoveRole(ctx context.Context, userID, role string) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
