package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/garyjia/permit-approvals/internal/domain/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPermit() *Document {
	return &Document{
		ID:        "doc-1",
		Type:      DocumentTypeExitPermit,
		CompanyID: "acme",
		Stage:     workflow.StagePendingCEO,
		Recipient: "Customer A",
		LineItems: []LineItem{
			NewLineItem("Widget", "pcs", decimal.NewFromInt(10), decimal.NewFromFloat(2.5)),
		},
		Approvals: map[workflow.Stage]Approval{},
	}
}

func TestDocument_Validate(t *testing.T) {
	t.Run("accepts a complete exit permit", func(t *testing.T) {
		assert.NoError(t, newPermit().Validate())
	})

	tests := []struct {
		name   string
		mutate func(d *Document)
		field  string
	}{
		{"missing recipient", func(d *Document) { d.Recipient = "  " }, "recipient"},
		{"no line items", func(d *Document) { d.LineItems = nil }, "line_items"},
		{"unnamed item", func(d *Document) { d.LineItems[0].Name = "" }, "line_items[0].name"},
		{"negative quantity", func(d *Document) { d.LineItems[0].RequestedQuantity = decimal.NewFromInt(-1) }, "line_items[0].quantity"},
		{"unknown type", func(d *Document) { d.Type = "invoice" }, "type"},
		{"payment order without payment", func(d *Document) { d.Type = DocumentTypePaymentOrder }, "payment"},
		{"payment order with zero amount", func(d *Document) {
			d.Type = DocumentTypePaymentOrder
			d.Payment = &Payment{Payee: "Supplier", Amount: decimal.Zero, Currency: "USD"}
		}, "payment.amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newPermit()
			tt.mutate(d)

			err := d.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, workflow.ErrValidation))

			var verr *workflow.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestDocument_ResetApprovals(t *testing.T) {
	d := newPermit()
	now := time.Now()
	d.RecordApproval(workflow.StagePendingFactory, "ceo", "Alice", now)
	d.RecordApproval(workflow.StagePendingWarehouse, "factory_manager", "Bob", now)
	delivered := decimal.NewFromInt(8)
	d.LineItems[0].DeliveredQuantity = &delivered
	d.LineItems[0].Quantity = delivered

	d.ResetApprovals(workflow.StagePendingCEO, now)

	assert.Equal(t, workflow.StagePendingCEO, d.Stage)
	assert.Empty(t, d.Approvals)
	assert.Nil(t, d.Rejection)
	assert.Nil(t, d.LineItems[0].DeliveredQuantity)
	assert.True(t, d.LineItems[0].Quantity.Equal(decimal.NewFromInt(10)))
}

func TestDocument_RecordApprovalAndReject(t *testing.T) {
	d := newPermit()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	d.RecordApproval(workflow.StagePendingFactory, "ceo", "Alice", now)
	require.Contains(t, d.Approvals, workflow.StagePendingCEO)
	assert.Equal(t, "Alice", d.Approvals[workflow.StagePendingCEO].ApproverName)
	assert.Equal(t, workflow.StagePendingFactory, d.Stage)

	d.Reject("factory_manager", "Bob", "wrong truck", now)
	assert.Equal(t, workflow.StageRejected, d.Stage)
	require.NotNil(t, d.Rejection)
	assert.Equal(t, "wrong truck", d.Rejection.Reason)
}

func TestDocument_DeliverInFullKeepsReconciledItems(t *testing.T) {
	d := newPermit()
	d.LineItems = append(d.LineItems, NewLineItem("Bolt", "kg", decimal.NewFromInt(3), decimal.NewFromInt(3)))
	q, w := decimal.NewFromInt(12), decimal.NewFromInt(3)
	d.LineItems[0].DeliveredQuantity = &q
	d.LineItems[0].DeliveredWeight = &w
	d.LineItems[0].Quantity = q

	d.DeliverInFull()

	assert.True(t, d.LineItems[0].DeliveredQuantity.Equal(decimal.NewFromInt(12)))
	require.True(t, d.LineItems[1].IsDelivered())
	assert.True(t, d.LineItems[1].DeliveredQuantity.Equal(decimal.NewFromInt(3)))
}

func TestDocument_Clone(t *testing.T) {
	d := newPermit()
	d.Driver = &Driver{Name: "Sam"}
	d.RecordApproval(workflow.StagePendingFactory, "ceo", "Alice", time.Now())
	q := decimal.NewFromInt(1)
	d.LineItems[0].DeliveredQuantity = &q

	c := d.Clone()
	c.Driver.Name = "Other"
	c.LineItems[0].Name = "Changed"
	*c.LineItems[0].DeliveredQuantity = decimal.NewFromInt(99)
	delete(c.Approvals, workflow.StagePendingCEO)

	assert.Equal(t, "Sam", d.Driver.Name)
	assert.Equal(t, "Widget", d.LineItems[0].Name)
	assert.True(t, d.LineItems[0].DeliveredQuantity.Equal(decimal.NewFromInt(1)))
	assert.Contains(t, d.Approvals, workflow.StagePendingCEO)
}

func TestDocument_ApplyPatch(t *testing.T) {
	d := newPermit()
	recipient := "Customer B"

	assert.True(t, DocumentPatch{}.IsEmpty())

	patch := DocumentPatch{
		Recipient: &recipient,
		LineItems: []LineItem{{Name: "Gear", RequestedQuantity: decimal.NewFromInt(4), RequestedWeight: decimal.NewFromInt(1)}},
	}
	assert.False(t, patch.IsEmpty())

	d.ApplyPatch(patch)

	assert.Equal(t, "Customer B", d.Recipient)
	require.Len(t, d.LineItems, 1)
	assert.Equal(t, "Gear", d.LineItems[0].Name)
	assert.True(t, d.LineItems[0].Quantity.Equal(decimal.NewFromInt(4)))
}
