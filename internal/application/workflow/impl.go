package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/dispatcher"
	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/event"
	"github.com/garyjia/permit-approvals/internal/domain/reconcile"
	domainwf "github.com/garyjia/permit-approvals/internal/domain/workflow"
	"github.com/google/uuid"
)

const defaultMaxRetries = 3

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	docs       port.DocumentRepository
	counter    port.SequenceCounter
	txManager  port.TransactionManager
	chains     *Chains
	dispatcher dispatcher.Dispatcher
	logger     dispatcher.Logger
	now        func() time.Time
	maxRetries int
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets a logger for transitions
func WithLogger(logger dispatcher.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithMaxRetries bounds how often a transition is re-validated after losing
// a compare-and-swap race
func WithMaxRetries(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	docs port.DocumentRepository,
	counter port.SequenceCounter,
	txManager port.TransactionManager,
	chains *Chains,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		docs:       docs,
		counter:    counter,
		txManager:  txManager,
		chains:     chains,
		now:        time.Now,
		maxRetries: defaultMaxRetries,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Submit creates a document at the first stage of its chain
func (e *engineImpl) Submit(ctx context.Context, req SubmitRequest) (*entity.Document, error) {
	chain, ok := e.chains.For(req.Type)
	if !ok {
		return nil, domainwf.NewValidationError("type", fmt.Sprintf("unsupported document type %q", req.Type))
	}
	if strings.TrimSpace(req.CompanyID) == "" {
		return nil, domainwf.NewValidationError("company_id", "is required")
	}

	now := e.now()
	items := make([]entity.LineItem, len(req.LineItems))
	for i, item := range req.LineItems {
		items[i] = entity.NewLineItem(item.Name, item.Unit, item.RequestedQuantity, item.RequestedWeight)
	}

	doc := &entity.Document{
		ID:          uuid.NewString(),
		Type:        req.Type,
		CompanyID:   req.CompanyID,
		Stage:       chain.First(),
		Version:     1,
		Recipient:   req.Recipient,
		Destination: req.Destination,
		Driver:      req.Driver,
		Payment:     req.Payment,
		Notes:       req.Notes,
		LineItems:   items,
		Approvals:   make(map[domainwf.Stage]entity.Approval),
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	// Counter increment and insert commit together so a failed insert
	// never burns a sequence number
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		seq, err := e.counter.Next(txCtx, doc.Type, doc.CompanyID)
		if err != nil {
			return fmt.Errorf("failed to assign sequence number: %w", err)
		}
		doc.SequenceNumber = seq

		if err := e.docs.Create(txCtx, doc); err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	role, _ := chain.RoleFor(doc.Stage)
	e.logInfo("Document submitted",
		"document_id", doc.ID,
		"type", doc.Type,
		"sequence_number", doc.SequenceNumber,
	)
	e.emit(ctx, event.NewEvent(event.TypeDocumentSubmitted, doc, "", req.CreatedBy, role))

	return doc, nil
}

// Advance records the acting role's approval and moves one stage forward.
// Reaching the end of the chain this way records full delivery.
func (e *engineImpl) Advance(ctx context.Context, id string, actingRole domainwf.Role, approverName string) (*entity.Document, error) {
	if strings.TrimSpace(approverName) == "" {
		return nil, domainwf.NewValidationError("approver_name", "is required")
	}

	doc, from, chain, err := e.transition(ctx, id, domainwf.TriggerApprove, actingRole,
		func(doc *entity.Document, chain *domainwf.Chain, next domainwf.Stage) error {
			if next == domainwf.StageFinalized {
				doc.DeliverInFull()
			}
			doc.RecordApproval(next, actingRole, approverName, e.now())
			return nil
		})
	if err != nil {
		return nil, err
	}

	evtType := event.TypeDocumentAdvanced
	if doc.Stage == domainwf.StageFinalized {
		evtType = event.TypeDocumentFinalized
	}
	e.emit(ctx, event.NewEvent(evtType, doc, from, approverName, targetRole(chain, doc.Stage)).
		WithActorRole(actingRole))

	return doc, nil
}

// Reject moves a pending document to the rejected stage
func (e *engineImpl) Reject(ctx context.Context, id string, actingRole domainwf.Role, actorName, reason string) (*entity.Document, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domainwf.NewValidationError("reason", "is required")
	}

	doc, from, chain, err := e.transition(ctx, id, domainwf.TriggerReject, actingRole,
		func(doc *entity.Document, chain *domainwf.Chain, next domainwf.Stage) error {
			doc.Reject(actingRole, actorName, reason, e.now())
			return nil
		})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, event.NewEvent(event.TypeDocumentRejected, doc, from, actorName, chain.SubmitterRole()).
		WithActorRole(actingRole).
		WithPayload("reason", reason))

	return doc, nil
}

// Edit applies a patch and resets the document to the first stage,
// discarding every approval recorded so far
func (e *engineImpl) Edit(ctx context.Context, id string, editorName string, patch entity.DocumentPatch) (*entity.Document, error) {
	if patch.IsEmpty() {
		return nil, domainwf.NewValidationError("patch", "nothing to change")
	}

	doc, from, chain, err := e.transition(ctx, id, domainwf.TriggerEdit, "",
		func(doc *entity.Document, chain *domainwf.Chain, next domainwf.Stage) error {
			doc.ApplyPatch(patch)
			if err := doc.Validate(); err != nil {
				return err
			}
			doc.ResetApprovals(next, e.now())
			return nil
		})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, event.NewEvent(event.TypeDocumentEdited, doc, from, editorName, targetRole(chain, doc.Stage)))

	return doc, nil
}

// Finalize reconciles delivered figures at the last stage, then advances
func (e *engineImpl) Finalize(ctx context.Context, id string, actingRole domainwf.Role, approverName string, delivered []reconcile.Delivered) (*entity.Document, error) {
	if strings.TrimSpace(approverName) == "" {
		return nil, domainwf.NewValidationError("approver_name", "is required")
	}

	var summary reconcile.Summary
	doc, from, chain, err := e.transition(ctx, id, domainwf.TriggerFinalize, actingRole,
		func(doc *entity.Document, chain *domainwf.Chain, next domainwf.Stage) error {
			s, err := reconcile.Apply(doc.LineItems, delivered)
			if err != nil {
				return err
			}
			summary = s
			doc.RecordApproval(next, actingRole, approverName, e.now())
			return nil
		})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, event.NewEvent(event.TypeDocumentFinalized, doc, from, approverName, chain.SubmitterRole()).
		WithActorRole(actingRole).
		WithPayload("requested_quantity", summary.TotalRequestedQuantity.String()).
		WithPayload("delivered_quantity", summary.TotalDeliveredQuantity.String()))

	return doc, nil
}

// Get returns a document by id
func (e *engineImpl) Get(ctx context.Context, id string) (*entity.Document, error) {
	doc, err := e.docs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	if doc == nil {
		return nil, &domainwf.NotFoundError{Kind: "document", ID: id}
	}
	return doc, nil
}

// List returns documents matching the filter
func (e *engineImpl) List(ctx context.Context, filter port.DocumentFilter) ([]*entity.Document, error) {
	if filter.Type != "" && !filter.Type.IsValid() {
		return nil, domainwf.NewValidationError("type", fmt.Sprintf("unsupported document type %q", filter.Type))
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	docs, err := e.docs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// applyFunc mutates a freshly loaded document; next is the stage the
// machine moved to. Returning an error aborts the transition unpersisted.
type applyFunc func(doc *entity.Document, chain *domainwf.Chain, next domainwf.Stage) error

// transition loads the document, validates the trigger for the acting role,
// applies the mutation and stores it with a version compare-and-swap. A lost
// race reloads and re-validates, so the loser of two concurrent advances
// from the same stage sees the new stage and gets a StageMismatchError.
func (e *engineImpl) transition(
	ctx context.Context,
	id string,
	trigger domainwf.Trigger,
	actingRole domainwf.Role,
	apply applyFunc,
) (*entity.Document, domainwf.Stage, *domainwf.Chain, error) {
	guardCtx := ctx
	if actingRole != "" {
		guardCtx = domainwf.WithActor(ctx, actingRole)
	}

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		doc, err := e.Get(ctx, id)
		if err != nil {
			return nil, "", nil, err
		}

		chain, machine, err := e.chains.machineFor(doc)
		if err != nil {
			return nil, "", nil, err
		}

		from := doc.Stage
		if err := machine.Fire(guardCtx, trigger); err != nil {
			return nil, "", nil, &domainwf.StageMismatchError{
				DocumentID: doc.ID,
				Stage:      from,
				Role:       actingRole,
				Trigger:    trigger,
				Err:        err,
			}
		}

		expected := doc.Version
		if err := apply(doc, chain, machine.Stage()); err != nil {
			return nil, "", nil, err
		}

		err = e.docs.Update(ctx, doc, expected)
		if errors.Is(err, port.ErrVersionConflict) {
			e.logInfo("Transition lost version race, retrying",
				"document_id", id,
				"trigger", trigger,
				"attempt", attempt+1,
			)
			continue
		}
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to update document: %w", err)
		}

		e.logInfo("Document transitioned",
			"document_id", doc.ID,
			"trigger", trigger,
			"from", from,
			"to", doc.Stage,
			"version", doc.Version,
		)
		return doc, from, chain, nil
	}

	return nil, "", nil, &domainwf.StageMismatchError{
		DocumentID: id,
		Role:       actingRole,
		Trigger:    trigger,
		Err:        port.ErrVersionConflict,
	}
}

// emit publishes the event without waiting for handlers
func (e *engineImpl) emit(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, evt)
}

func (e *engineImpl) logInfo(msg string, keysAndValues ...interface{}) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

// targetRole is the role to notify once a document sits at stage
func targetRole(chain *domainwf.Chain, stage domainwf.Stage) domainwf.Role {
	if stage.IsTerminal() {
		return chain.SubmitterRole()
	}
	role, _ := chain.RoleFor(stage)
	return role
}
