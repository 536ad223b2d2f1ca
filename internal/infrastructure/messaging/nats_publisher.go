// Package messaging publishes workflow events and dispatch reports to NATS
// for consumers outside this service.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/notify"
	"github.com/garyjia/permit-approvals/internal/domain/event"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds NATS connection settings
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
}

// publisher is the part of *nats.Conn used here
type publisher interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes to subjects
//
//	<prefix>.events.<event type>     workflow events
//	<prefix>.dispatch.<event type>   notification dispatch reports
//
// Every publish is non-fatal: failures are logged and never reach the
// workflow or the notifier.
type Publisher struct {
	conn   publisher
	close  func()
	prefix string
	logger *zap.Logger
}

// Connect dials NATS with unlimited reconnects
func Connect(cfg Config, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS connection established", zap.String("url", nc.ConnectedUrl()))
	p := newPublisher(nc, cfg.SubjectPrefix, logger)
	p.close = func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("NATS drain failed", zap.Error(err))
		}
	}
	return p, nil
}

func newPublisher(conn publisher, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = "permits"
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// eventMessage is the JSON schema of published workflow events
type eventMessage struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	DocumentID    string            `json:"document_id"`
	DocumentType  string            `json:"document_type,omitempty"`
	CompanyID     string            `json:"company_id,omitempty"`
	FromStage     string            `json:"from_stage,omitempty"`
	ToStage       string            `json:"to_stage"`
	ActorName     string            `json:"actor_name,omitempty"`
	ActorRole     string            `json:"actor_role,omitempty"`
	TargetRole    string            `json:"target_role,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Payload       map[string]string `json:"payload,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// HandleEvent publishes a workflow event; it has the dispatcher handler
// signature and always returns nil
func (p *Publisher) HandleEvent(ctx context.Context, evt *event.Event) error {
	msg := eventMessage{
		EventID:       evt.ID,
		EventType:     evt.Type.String(),
		DocumentID:    evt.DocumentID,
		FromStage:     evt.FromStage.String(),
		ToStage:       evt.ToStage.String(),
		ActorName:     evt.ActorName,
		ActorRole:     evt.ActorRole.String(),
		TargetRole:    evt.TargetRole.String(),
		CorrelationID: evt.CorrelationID,
		Payload:       evt.Payload,
		Timestamp:     evt.Timestamp,
	}
	if evt.Snapshot != nil {
		msg.DocumentType = string(evt.Snapshot.Type)
		msg.CompanyID = evt.Snapshot.CompanyID
	}

	p.publish(fmt.Sprintf("%s.events.%s", p.prefix, evt.Type), msg, zap.String("event_id", evt.ID))
	return nil
}

// Publish implements notify.ReportSink
func (p *Publisher) Publish(ctx context.Context, report *notify.DispatchReport) {
	p.publish(fmt.Sprintf("%s.dispatch.%s", p.prefix, report.EventType), report, zap.String("event_id", report.EventID))
}

func (p *Publisher) publish(subject string, v interface{}, fields ...zap.Field) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("Failed to encode NATS message", append(fields, zap.Error(err))...)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish NATS message (non-fatal)",
			append(fields, zap.String("subject", subject), zap.Error(err))...)
		return
	}
	p.logger.Debug("NATS message published", append(fields, zap.String("subject", subject))...)
}

// Close drains the connection
func (p *Publisher) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}

// Verify interface compliance
var _ notify.ReportSink = (*Publisher)(nil)
