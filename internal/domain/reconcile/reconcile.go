// Package reconcile records what was actually delivered against what was
// requested on a document's line items.
package reconcile

import (
	"strconv"
	"strings"

	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

// Delivered holds the delivered figures for one line item
type Delivered struct {
	Quantity decimal.Decimal `json:"quantity"`
	Weight   decimal.Decimal `json:"weight"`
}

// ItemSummary compares requested and delivered figures for one item
type ItemSummary struct {
	Name              string          `json:"name"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity"`
	DeliveredQuantity decimal.Decimal `json:"delivered_quantity"`
	RequestedWeight   decimal.Decimal `json:"requested_weight"`
	DeliveredWeight   decimal.Decimal `json:"delivered_weight"`
}

// QuantityVariance is delivered minus requested quantity
func (s ItemSummary) QuantityVariance() decimal.Decimal {
	return s.DeliveredQuantity.Sub(s.RequestedQuantity)
}

// WeightVariance is delivered minus requested weight
func (s ItemSummary) WeightVariance() decimal.Decimal {
	return s.DeliveredWeight.Sub(s.RequestedWeight)
}

// Summary totals a reconciliation
type Summary struct {
	Items                  []ItemSummary   `json:"items"`
	TotalRequestedQuantity decimal.Decimal `json:"total_requested_quantity"`
	TotalDeliveredQuantity decimal.Decimal `json:"total_delivered_quantity"`
	TotalRequestedWeight   decimal.Decimal `json:"total_requested_weight"`
	TotalDeliveredWeight   decimal.Decimal `json:"total_delivered_weight"`
}

// Apply writes delivered figures onto items, aligned by index. Over and under
// delivery are both accepted. Requested figures are never touched; current
// figures are overwritten with the delivered ones. On error items are unchanged.
func Apply(items []entity.LineItem, delivered []Delivered) (Summary, error) {
	if len(delivered) != len(items) {
		return Summary{}, workflow.NewValidationError("delivered",
			"expected "+strconv.Itoa(len(items))+" entries, got "+strconv.Itoa(len(delivered)))
	}

	for i, item := range items {
		field := "line_items[" + strconv.Itoa(i) + "]"
		if strings.TrimSpace(item.Name) == "" {
			return Summary{}, workflow.NewValidationError(field+".name", "is required")
		}
		if delivered[i].Quantity.IsNegative() {
			return Summary{}, workflow.NewValidationError(field+".delivered_quantity", "must not be negative")
		}
		if delivered[i].Weight.IsNegative() {
			return Summary{}, workflow.NewValidationError(field+".delivered_weight", "must not be negative")
		}
	}

	for i := range items {
		q, w := delivered[i].Quantity, delivered[i].Weight
		items[i].DeliveredQuantity = &q
		items[i].DeliveredWeight = &w
		items[i].Quantity = q
		items[i].Weight = w
	}

	return Summarize(items), nil
}

// Summarize totals requested and delivered figures. Items without delivered
// figures count their current figures as delivered.
func Summarize(items []entity.LineItem) Summary {
	s := Summary{
		Items:                  make([]ItemSummary, 0, len(items)),
		TotalRequestedQuantity: decimal.Zero,
		TotalDeliveredQuantity: decimal.Zero,
		TotalRequestedWeight:   decimal.Zero,
		TotalDeliveredWeight:   decimal.Zero,
	}

	for _, item := range items {
		is := ItemSummary{
			Name:              item.Name,
			RequestedQuantity: item.RequestedQuantity,
			RequestedWeight:   item.RequestedWeight,
			DeliveredQuantity: item.Quantity,
			DeliveredWeight:   item.Weight,
		}
		if item.DeliveredQuantity != nil {
			is.DeliveredQuantity = *item.DeliveredQuantity
		}
		if item.DeliveredWeight != nil {
			is.DeliveredWeight = *item.DeliveredWeight
		}

		s.Items = append(s.Items, is)
		s.TotalRequestedQuantity = s.TotalRequestedQuantity.Add(is.RequestedQuantity)
		s.TotalDeliveredQuantity = s.TotalDeliveredQuantity.Add(is.DeliveredQuantity)
		s.TotalRequestedWeight = s.TotalRequestedWeight.Add(is.RequestedWeight)
		s.TotalDeliveredWeight = s.TotalDeliveredWeight.Add(is.DeliveredWeight)
	}

	return s
}
