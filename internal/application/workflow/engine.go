package workflow

import (
	"context"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/reconcile"
	domainwf "github.com/garyjia/permit-approvals/internal/domain/workflow"
)

// Engine moves documents through their approval chains.
// Every transition returns the updated document or one of
// domainwf.ValidationError, StageMismatchError or NotFoundError.
type Engine interface {
	// Submit creates a document at the first stage of its chain
	Submit(ctx context.Context, req SubmitRequest) (*entity.Document, error)

	// Advance records the acting role's approval and moves one stage forward
	Advance(ctx context.Context, id string, actingRole domainwf.Role, approverName string) (*entity.Document, error)

	// Reject moves a pending document to the rejected stage
	Reject(ctx context.Context, id string, actingRole domainwf.Role, actorName, reason string) (*entity.Document, error)

	// Edit applies a patch and resets the document to the first stage
	Edit(ctx context.Context, id string, editorName string, patch entity.DocumentPatch) (*entity.Document, error)

	// Finalize reconciles delivered figures at the last stage, then advances
	Finalize(ctx context.Context, id string, actingRole domainwf.Role, approverName string, delivered []reconcile.Delivered) (*entity.Document, error)

	// Get returns a document by id
	Get(ctx context.Context, id string) (*entity.Document, error)

	// List returns documents matching the filter
	List(ctx context.Context, filter port.DocumentFilter) ([]*entity.Document, error)
}

// SubmitRequest carries the fields of a new document
type SubmitRequest struct {
	Type        entity.DocumentType `json:"type"`
	CompanyID   string              `json:"company_id"`
	CreatedBy   string              `json:"created_by"`
	Recipient   string              `json:"recipient"`
	Destination string              `json:"destination,omitempty"`
	Driver      *entity.Driver      `json:"driver,omitempty"`
	Payment     *entity.Payment     `json:"payment,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	LineItems   []entity.LineItem   `json:"line_items"`
}
