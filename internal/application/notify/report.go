package notify

import (
	"context"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
)

// Outcome classifies one delivery attempt
type Outcome string

const (
	OutcomeDelivered          Outcome = "delivered"
	OutcomeFailed             Outcome = "failed"
	OutcomeEndpointInvalid    Outcome = "endpoint_invalid"
	OutcomeUnsupportedChannel Outcome = "unsupported_channel"
)

// DeliveryResult is the outcome of one (recipient, subscription) pair
type DeliveryResult struct {
	OwnerID  string        `json:"owner_id"`
	Channel  string        `json:"channel"`
	Endpoint string        `json:"endpoint"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// DispatchReport summarises the notification fan-out of one event
type DispatchReport struct {
	EventID          string           `json:"event_id"`
	EventType        string           `json:"event_type"`
	DocumentID       string           `json:"document_id"`
	TargetRole       string           `json:"target_role"`
	Recipients       int              `json:"recipients"`
	ArtifactRendered bool             `json:"artifact_rendered"`
	Results          []DeliveryResult `json:"results"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
}

// Attempts is the number of delivery attempts in the report
func (r *DispatchReport) Attempts() int {
	return len(r.Results)
}

// Count returns how many results have the outcome
func (r *DispatchReport) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// ReportSink receives every finished dispatch report
type ReportSink interface {
	Publish(ctx context.Context, report *DispatchReport)
}

// LogSink writes a summary line per report
type LogSink struct {
	logger Logger
}

// NewLogSink creates a sink logging through logger
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements ReportSink
func (s *LogSink) Publish(ctx context.Context, report *DispatchReport) {
	s.logger.Info("Dispatch finished",
		"event_id", report.EventID,
		"event_type", report.EventType,
		"document_id", report.DocumentID,
		"target_role", report.TargetRole,
		"recipients", report.Recipients,
		"attempts", report.Attempts(),
		"delivered", report.Count(OutcomeDelivered),
		"failed", report.Count(OutcomeFailed),
		"invalid", report.Count(OutcomeEndpointInvalid),
		"artifact_rendered", report.ArtifactRendered,
	)
}

// DeliveryLogSink persists one DeliveryRecord per attempt. FAILED records
// are picked up later by the redelivery worker.
type DeliveryLogSink struct {
	repo   port.DeliveryRepository
	logger Logger
}

// NewDeliveryLogSink creates a sink backed by repo
func NewDeliveryLogSink(repo port.DeliveryRepository, logger Logger) *DeliveryLogSink {
	return &DeliveryLogSink{repo: repo, logger: logger}
}

// Publish implements ReportSink
func (s *DeliveryLogSink) Publish(ctx context.Context, report *DispatchReport) {
	now := time.Now()
	for _, res := range report.Results {
		rec := &entity.DeliveryRecord{
			EventID:       report.EventID,
			EventType:     report.EventType,
			DocumentID:    report.DocumentID,
			TargetRole:    report.TargetRole,
			OwnerID:       res.OwnerID,
			Channel:       res.Channel,
			Endpoint:      res.Endpoint,
			Status:        StatusFor(res.Outcome),
			ErrorMessage:  res.Error,
			Attempts:      1,
			LastAttemptAt: &now,
			CreatedAt:     now,
		}
		if err := s.repo.Create(ctx, rec); err != nil && s.logger != nil {
			s.logger.Error("Failed to record delivery",
				"event_id", report.EventID,
				"owner_id", res.OwnerID,
				"channel", res.Channel,
				"error", err,
			)
		}
	}
}

// StatusFor maps a delivery outcome to the persisted record status
func StatusFor(outcome Outcome) string {
	switch outcome {
	case OutcomeDelivered:
		return entity.DeliveryStatusSent
	case OutcomeEndpointInvalid:
		return entity.DeliveryStatusInvalid
	case OutcomeUnsupportedChannel:
		return entity.DeliveryStatusAbandoned
	default:
		return entity.DeliveryStatusFailed
	}
}
