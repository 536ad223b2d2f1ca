package event

import (
	"time"

	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
	"github.com/google/uuid"
)

// Event is emitted after a document transition has been persisted.
// Snapshot is a private copy of the document as of the transition.
type Event struct {
	ID            string            `json:"id"`
	Type          Type              `json:"type"`
	DocumentID    string            `json:"document_id"`
	Snapshot      *entity.Document  `json:"snapshot"`
	FromStage     workflow.Stage    `json:"from_stage"`
	ToStage       workflow.Stage    `json:"to_stage"`
	ActorName     string            `json:"actor_name"`
	ActorRole     workflow.Role     `json:"actor_role,omitempty"`
	TargetRole    workflow.Role     `json:"target_role"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id"`
	Payload       map[string]string `json:"payload,omitempty"`
}

// NewEvent creates an event for a transition of doc. The document is cloned.
func NewEvent(eventType Type, doc *entity.Document, from workflow.Stage, actorName string, target workflow.Role) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		DocumentID:    doc.ID,
		Snapshot:      doc.Clone(),
		FromStage:     from,
		ToStage:       doc.Stage,
		ActorName:     actorName,
		TargetRole:    target,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// WithCorrelation returns a copy linked to an existing correlation chain
func (e *Event) WithCorrelation(correlationID string) *Event {
	c := e.copy()
	c.CorrelationID = correlationID
	return c
}

// WithActorRole returns a copy carrying the role the actor used
func (e *Event) WithActorRole(role workflow.Role) *Event {
	c := e.copy()
	c.ActorRole = role
	return c
}

// WithPayload returns a copy with an added payload entry (immutable operation)
func (e *Event) WithPayload(key, value string) *Event {
	c := e.copy()
	c.Payload = make(map[string]string, len(e.Payload)+1)
	for k, v := range e.Payload {
		c.Payload[k] = v
	}
	c.Payload[key] = value
	return c
}

// PayloadValue retrieves a payload entry or ""
func (e *Event) PayloadValue(key string) string {
	return e.Payload[key]
}

func (e *Event) copy() *Event {
	c := *e
	return &c
}
