package entity

import (
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/permit-approvals/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

// DocumentType distinguishes the two document families sharing the workflow
type DocumentType string

const (
	DocumentTypeExitPermit   DocumentType = "exit_permit"
	DocumentTypePaymentOrder DocumentType = "payment_order"
)

// IsValid checks if the document type is supported
func (t DocumentType) IsValid() bool {
	return t == DocumentTypeExitPermit || t == DocumentTypePaymentOrder
}

// Document is an exit permit or payment order moving through an approval chain
type Document struct {
	ID             string                      `json:"id"`
	Type           DocumentType                `json:"type"`
	CompanyID      string                      `json:"company_id"`
	SequenceNumber int64                       `json:"sequence_number"`
	Stage          workflow.Stage              `json:"stage"`
	Version        int64                       `json:"version"`
	Recipient      string                      `json:"recipient"`
	Destination    string                      `json:"destination,omitempty"`
	Driver         *Driver                     `json:"driver,omitempty"`
	Payment        *Payment                    `json:"payment,omitempty"`
	Notes          string                      `json:"notes,omitempty"`
	LineItems      []LineItem                  `json:"line_items"`
	Approvals      map[workflow.Stage]Approval `json:"approvals"`
	Rejection      *Rejection                  `json:"rejection,omitempty"`
	CreatedBy      string                      `json:"created_by"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// LineItem is one goods line. Quantity and Weight are the figures used
// downstream; they track the requested figures until delivery is reconciled.
type LineItem struct {
	Name              string           `json:"name"`
	Unit              string           `json:"unit,omitempty"`
	RequestedQuantity decimal.Decimal  `json:"requested_quantity"`
	RequestedWeight   decimal.Decimal  `json:"requested_weight"`
	Quantity          decimal.Decimal  `json:"quantity"`
	Weight            decimal.Decimal  `json:"weight"`
	DeliveredQuantity *decimal.Decimal `json:"delivered_quantity,omitempty"`
	DeliveredWeight   *decimal.Decimal `json:"delivered_weight,omitempty"`
}

// Approval records who approved a stage and when
type Approval struct {
	ApproverName string    `json:"approver_name"`
	Role         string    `json:"role"`
	Timestamp    time.Time `json:"timestamp"`
}

// Rejection records the terminal rejection of a document
type Rejection struct {
	ActorRole string    `json:"actor_role"`
	ActorName string    `json:"actor_name,omitempty"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Driver carries the vehicle details printed on an exit permit
type Driver struct {
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	VehiclePlate string `json:"vehicle_plate,omitempty"`
}

// Payment carries the payee details of a payment order
type Payment struct {
	Payee       string          `json:"payee"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	BankAccount string          `json:"bank_account,omitempty"`
	Purpose     string          `json:"purpose,omitempty"`
}

// NewLineItem builds an item whose current figures equal the requested ones
func NewLineItem(name, unit string, quantity, weight decimal.Decimal) LineItem {
	return LineItem{
		Name:              name,
		Unit:              unit,
		RequestedQuantity: quantity,
		RequestedWeight:   weight,
		Quantity:          quantity,
		Weight:            weight,
	}
}

// IsDelivered reports whether both delivered figures are recorded
func (li LineItem) IsDelivered() bool {
	return li.DeliveredQuantity != nil && li.DeliveredWeight != nil
}

// Validate checks the document payload. Stage and approvals are not inspected.
func (d *Document) Validate() error {
	if !d.Type.IsValid() {
		return workflow.NewValidationError("type", "unsupported document type")
	}
	if strings.TrimSpace(d.Recipient) == "" {
		return workflow.NewValidationError("recipient", "is required")
	}
	if len(d.LineItems) == 0 {
		return workflow.NewValidationError("line_items", "at least one item is required")
	}
	for i, item := range d.LineItems {
		if strings.TrimSpace(item.Name) == "" {
			return workflow.NewValidationError(itemField(i, "name"), "is required")
		}
		if item.RequestedQuantity.IsNegative() {
			return workflow.NewValidationError(itemField(i, "quantity"), "must not be negative")
		}
		if item.RequestedWeight.IsNegative() {
			return workflow.NewValidationError(itemField(i, "weight"), "must not be negative")
		}
	}
	if d.Type == DocumentTypePaymentOrder {
		if d.Payment == nil {
			return workflow.NewValidationError("payment", "is required for payment orders")
		}
		if !d.Payment.Amount.IsPositive() {
			return workflow.NewValidationError("payment.amount", "must be positive")
		}
	}
	return nil
}

// ResetApprovals returns the document to the first stage of its chain.
// Approvals, the rejection and any delivered figures are cleared together
// with the stage so no approval survives an edit.
func (d *Document) ResetApprovals(first workflow.Stage, now time.Time) {
	d.Stage = first
	d.Approvals = make(map[workflow.Stage]Approval)
	d.Rejection = nil
	for i := range d.LineItems {
		item := &d.LineItems[i]
		item.Quantity = item.RequestedQuantity
		item.Weight = item.RequestedWeight
		item.DeliveredQuantity = nil
		item.DeliveredWeight = nil
	}
	d.UpdatedAt = now
}

// RecordApproval stores the approval of the current stage and moves to next
func (d *Document) RecordApproval(next workflow.Stage, role workflow.Role, approverName string, now time.Time) {
	if d.Approvals == nil {
		d.Approvals = make(map[workflow.Stage]Approval)
	}
	d.Approvals[d.Stage] = Approval{
		ApproverName: approverName,
		Role:         role.String(),
		Timestamp:    now,
	}
	d.Stage = next
	d.UpdatedAt = now
}

// Reject moves the document to the rejected stage
func (d *Document) Reject(role workflow.Role, actorName, reason string, now time.Time) {
	d.Rejection = &Rejection{
		ActorRole: role.String(),
		ActorName: actorName,
		Reason:    reason,
		At:        now,
	}
	d.Stage = workflow.StageRejected
	d.UpdatedAt = now
}

// DeliverInFull records delivered figures equal to the requested ones on
// every item that has not been reconciled yet
func (d *Document) DeliverInFull() {
	for i := range d.LineItems {
		item := &d.LineItems[i]
		if item.IsDelivered() {
			continue
		}
		q, w := item.RequestedQuantity, item.RequestedWeight
		item.DeliveredQuantity = &q
		item.DeliveredWeight = &w
		item.Quantity = q
		item.Weight = w
	}
}

// Clone returns a deep copy safe to hand to other goroutines
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}

	c := *d
	if d.Driver != nil {
		driver := *d.Driver
		c.Driver = &driver
	}
	if d.Payment != nil {
		payment := *d.Payment
		c.Payment = &payment
	}
	if d.Rejection != nil {
		rejection := *d.Rejection
		c.Rejection = &rejection
	}

	c.LineItems = make([]LineItem, len(d.LineItems))
	for i, item := range d.LineItems {
		if item.DeliveredQuantity != nil {
			q := *item.DeliveredQuantity
			item.DeliveredQuantity = &q
		}
		if item.DeliveredWeight != nil {
			w := *item.DeliveredWeight
			item.DeliveredWeight = &w
		}
		c.LineItems[i] = item
	}

	c.Approvals = make(map[workflow.Stage]Approval, len(d.Approvals))
	for stage, approval := range d.Approvals {
		c.Approvals[stage] = approval
	}

	return &c
}

// DocumentPatch carries the editable fields; nil means unchanged
type DocumentPatch struct {
	Recipient   *string    `json:"recipient,omitempty"`
	Destination *string    `json:"destination,omitempty"`
	Driver      *Driver    `json:"driver,omitempty"`
	Payment     *Payment   `json:"payment,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	LineItems   []LineItem `json:"line_items,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p DocumentPatch) IsEmpty() bool {
	return p.Recipient == nil && p.Destination == nil && p.Driver == nil &&
		p.Payment == nil && p.Notes == nil && p.LineItems == nil
}

// ApplyPatch overwrites the fields set in the patch. Replaced line items
// start with current figures equal to their requested figures.
func (d *Document) ApplyPatch(p DocumentPatch) {
	if p.Recipient != nil {
		d.Recipient = *p.Recipient
	}
	if p.Destination != nil {
		d.Destination = *p.Destination
	}
	if p.Driver != nil {
		driver := *p.Driver
		d.Driver = &driver
	}
	if p.Payment != nil {
		payment := *p.Payment
		d.Payment = &payment
	}
	if p.Notes != nil {
		d.Notes = *p.Notes
	}
	if p.LineItems != nil {
		items := make([]LineItem, len(p.LineItems))
		for i, item := range p.LineItems {
			items[i] = NewLineItem(item.Name, item.Unit, item.RequestedQuantity, item.RequestedWeight)
		}
		d.LineItems = items
	}
}

func itemField(i int, name string) string {
	return "line_items[" + strconv.Itoa(i) + "]." + name
}
