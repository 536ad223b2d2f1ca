package event

import (
	"testing"

	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"submitted", TypeDocumentSubmitted, true},
		{"advanced", TypeDocumentAdvanced, true},
		{"rejected", TypeDocumentRejected, true},
		{"edited", TypeDocumentEdited, true},
		{"finalized", TypeDocumentFinalized, true},
		{"unknown", Type("document.archived"), false},
		{"empty", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvent_SnapshotIsIsolated(t *testing.T) {
	doc := &entity.Document{
		ID:        "doc-1",
		Stage:     workflow.StagePendingFactory,
		Recipient: "Customer A",
		LineItems: []entity.LineItem{entity.NewLineItem("Widget", "pcs", decimal.NewFromInt(10), decimal.Zero)},
	}

	evt := NewEvent(TypeDocumentAdvanced, doc, workflow.StagePendingCEO, "Alice", "factory_manager")

	if evt.ID == "" || evt.CorrelationID != evt.ID {
		t.Errorf("NewEvent() ID = %q, CorrelationID = %q", evt.ID, evt.CorrelationID)
	}
	if evt.DocumentID != "doc-1" || evt.ToStage != workflow.StagePendingFactory || evt.FromStage != workflow.StagePendingCEO {
		t.Errorf("NewEvent() = %+v", evt)
	}

	doc.Recipient = "Changed"
	doc.LineItems[0].Name = "Changed"
	if evt.Snapshot.Recipient != "Customer A" || evt.Snapshot.LineItems[0].Name != "Widget" {
		t.Error("snapshot should not observe later mutations of the document")
	}
}

func TestEvent_WithPayloadIsImmutable(t *testing.T) {
	doc := &entity.Document{ID: "doc-1"}
	original := NewEvent(TypeDocumentRejected, doc, workflow.StagePendingCEO, "Alice", "clerk")

	updated := original.WithPayload("reason", "duplicate")

	if original.PayloadValue("reason") != "" {
		t.Error("WithPayload() modified the original event")
	}
	if updated.PayloadValue("reason") != "duplicate" {
		t.Errorf("PayloadValue() = %q, want %q", updated.PayloadValue("reason"), "duplicate")
	}
	if updated.ID != original.ID {
		t.Error("WithPayload() should keep the event ID")
	}
}

func TestEvent_WithCorrelation(t *testing.T) {
	doc := &entity.Document{ID: "doc-1"}
	evt := NewEvent(TypeDocumentEdited, doc, workflow.StageRejected, "Bob", "ceo").
		WithCorrelation("corr-1").
		WithActorRole("clerk")

	if evt.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", evt.CorrelationID)
	}
	if evt.ActorRole != "clerk" {
		t.Errorf("ActorRole = %q, want clerk", evt.ActorRole)
	}
}
