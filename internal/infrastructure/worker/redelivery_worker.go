package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/notify"
	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/event"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
	"go.uber.org/zap"
)

// RedeliveryConfig holds configuration for the redelivery worker
type RedeliveryConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// DefaultRedeliveryConfig returns default configuration
func DefaultRedeliveryConfig() RedeliveryConfig {
	return RedeliveryConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    20,
		MaxAttempts:  5,
	}
}

// Redeliverer retries a single subscription for an event
type Redeliverer interface {
	Redeliver(ctx context.Context, evt *event.Event, sub *entity.Subscription) notify.DeliveryResult
}

// ChainSource resolves the approval chain of a document type
type ChainSource interface {
	For(docType entity.DocumentType) (*workflow.Chain, bool)
}

// RedeliveryWorker retries FAILED delivery records in the background
type RedeliveryWorker struct {
	config RedeliveryConfig

	deliveries port.DeliveryRepository
	documents  port.DocumentRepository
	subs       port.SubscriptionRepository
	chains     ChainSource
	notifier   Redeliverer
	logger     *zap.Logger

	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isRunning      bool
	wg             sync.WaitGroup
	lastProcessed  time.Time
	processedCount int
	failedCount    int
	lastError      error
}

// NewRedeliveryWorker creates a new redelivery worker
func NewRedeliveryWorker(
	config RedeliveryConfig,
	deliveries port.DeliveryRepository,
	documents port.DocumentRepository,
	subs port.SubscriptionRepository,
	chains ChainSource,
	notifier Redeliverer,
	logger *zap.Logger,
) *RedeliveryWorker {
	defaults := DefaultRedeliveryConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	return &RedeliveryWorker{
		config:     config,
		deliveries: deliveries,
		documents:  documents,
		subs:       subs,
		chains:     chains,
		notifier:   notifier,
		logger:     logger,
	}
}

// Start launches the poll loop
func (w *RedeliveryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("redelivery worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true

	w.wg.Add(1)
	go w.pollLoop()

	w.logger.Info("Redelivery worker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("max_attempts", w.config.MaxAttempts))
	return nil
}

// Stop cancels the poll loop and waits for the current batch
func (w *RedeliveryWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	w.logger.Info("Redelivery worker stopped",
		zap.Int("processed", w.ProcessedCount()),
		zap.Int("failed", w.FailedCount()))
	return nil
}

// Name returns the worker name for identification
func (w *RedeliveryWorker) Name() string {
	return "RedeliveryWorker"
}

// IsRunning reports whether the poll loop is active
func (w *RedeliveryWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isRunning
}

// ProcessedCount is the number of records retried successfully
func (w *RedeliveryWorker) ProcessedCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.processedCount
}

// FailedCount is the number of retries that did not deliver
func (w *RedeliveryWorker) FailedCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.failedCount
}

func (w *RedeliveryWorker) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Redelivery poll loop context cancelled")
			return

		case <-ticker.C:
			if err := w.RunOnce(w.ctx); err != nil {
				w.mu.Lock()
				w.lastError = err
				w.mu.Unlock()
				w.logger.Error("Failed to process retryable deliveries", zap.Error(err))
			}

			w.mu.Lock()
			w.lastProcessed = time.Now()
			w.mu.Unlock()
		}
	}
}

// RunOnce retries one batch of FAILED records
func (w *RedeliveryWorker) RunOnce(ctx context.Context) error {
	records, err := w.deliveries.ListRetryable(ctx, w.config.MaxAttempts, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list retryable deliveries: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	w.logger.Debug("Retrying deliveries", zap.Int("count", len(records)))

	for _, rec := range records {
		if ctx.Err() != nil {
			return nil
		}
		w.retry(ctx, rec)
	}
	return nil
}

func (w *RedeliveryWorker) retry(ctx context.Context, rec *entity.DeliveryRecord) {
	evt, sub, reason, err := w.resolve(ctx, rec)
	if err != nil {
		// storage trouble; leave the record for the next poll
		w.logger.Warn("Failed to resolve delivery record",
			zap.Int64("delivery_id", rec.ID),
			zap.Error(err))
		return
	}
	if reason != "" {
		w.mark(ctx, rec, entity.DeliveryStatusAbandoned, reason)
		w.countFailed()
		return
	}

	res := w.notifier.Redeliver(ctx, evt, sub)
	w.mark(ctx, rec, notify.StatusFor(res.Outcome), res.Error)

	if res.Outcome == notify.OutcomeDelivered {
		w.mu.Lock()
		w.processedCount++
		w.mu.Unlock()
		w.logger.Info("Delivery retried successfully",
			zap.Int64("delivery_id", rec.ID),
			zap.String("owner_id", rec.OwnerID),
			zap.String("channel", rec.Channel),
			zap.Int("attempt", rec.Attempts+1))
		return
	}

	w.countFailed()
	w.logger.Warn("Delivery retry failed",
		zap.Int64("delivery_id", rec.ID),
		zap.String("owner_id", rec.OwnerID),
		zap.String("channel", rec.Channel),
		zap.String("outcome", string(res.Outcome)),
		zap.String("error", res.Error))
}

// resolve rebuilds the event from the current document and loads the
// current subscription. A non-empty reason means the record cannot be retried.
func (w *RedeliveryWorker) resolve(ctx context.Context, rec *entity.DeliveryRecord) (*event.Event, *entity.Subscription, string, error) {
	evtType := event.Type(rec.EventType)
	if !evtType.IsValid() {
		return nil, nil, "unknown event type " + rec.EventType, nil
	}

	doc, err := w.documents.GetByID(ctx, rec.DocumentID)
	if err != nil {
		return nil, nil, "", err
	}
	if doc == nil {
		return nil, nil, "document no longer exists", nil
	}

	chain, ok := w.chains.For(doc.Type)
	if !ok {
		return nil, nil, "no approval chain for " + string(doc.Type), nil
	}
	if !stillCurrent(evtType, workflow.Role(rec.TargetRole), doc.Stage, chain) {
		return nil, nil, fmt.Sprintf("document moved to %s since the %s notice", doc.Stage, evtType), nil
	}

	sub, err := w.subs.Get(ctx, rec.OwnerID, rec.Channel)
	if err != nil {
		return nil, nil, "", err
	}
	if sub == nil {
		return nil, nil, "subscription removed", nil
	}

	evt := event.NewEvent(evtType, doc, doc.Stage, "", workflow.Role(rec.TargetRole)).
		WithCorrelation(rec.EventID)
	return evt, sub, "", nil
}

// stillCurrent reports whether a notice of evtType sent to target still
// describes a document now at stage
func stillCurrent(evtType event.Type, target workflow.Role, stage workflow.Stage, chain *workflow.Chain) bool {
	switch evtType {
	case event.TypeDocumentFinalized:
		return stage == workflow.StageFinalized && target == chain.SubmitterRole()
	case event.TypeDocumentRejected:
		return stage == workflow.StageRejected && target == chain.SubmitterRole()
	}

	role, ok := chain.RoleFor(stage)
	return ok && role == target
}

func (w *RedeliveryWorker) mark(ctx context.Context, rec *entity.DeliveryRecord, status, msg string) {
	if err := w.deliveries.MarkAttempt(ctx, rec.ID, status, msg); err != nil {
		w.logger.Error("Failed to record delivery attempt",
			zap.Int64("delivery_id", rec.ID),
			zap.Error(err))
	}
}

func (w *RedeliveryWorker) countFailed() {
	w.mu.Lock()
	w.failedCount++
	w.mu.Unlock()
}
