package notify

import (
	"fmt"
	"strings"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/event"
)

// DocumentLabel is the human name of a document type
func DocumentLabel(t entity.DocumentType) string {
	switch t {
	case entity.DocumentTypeExitPermit:
		return "Exit permit"
	case entity.DocumentTypePaymentOrder:
		return "Payment order"
	default:
		return "Document"
	}
}

// BuildMessage composes the channel-independent title and caption for an event
func BuildMessage(evt *event.Event, linkBase string) *port.Message {
	doc := evt.Snapshot
	label := DocumentLabel(doc.Type)
	ref := fmt.Sprintf("%s #%d", label, doc.SequenceNumber)

	var title string
	switch evt.Type {
	case event.TypeDocumentSubmitted:
		title = ref + " awaits your approval"
	case event.TypeDocumentAdvanced:
		title = fmt.Sprintf("%s approved by %s, your approval is needed", ref, evt.ActorName)
	case event.TypeDocumentEdited:
		title = ref + " was edited and needs approval again"
	case event.TypeDocumentRejected:
		title = fmt.Sprintf("%s was rejected by %s", ref, evt.ActorName)
	case event.TypeDocumentFinalized:
		title = ref + " is finalized"
	default:
		title = ref + " updated"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", title)
	fmt.Fprintf(&b, "Recipient: %s\n", doc.Recipient)
	if doc.Destination != "" {
		fmt.Fprintf(&b, "Destination: %s\n", doc.Destination)
	}
	if doc.Payment != nil {
		fmt.Fprintf(&b, "Amount: %s %s to %s\n", doc.Payment.Amount.StringFixed(2), doc.Payment.Currency, doc.Payment.Payee)
	}
	for _, item := range doc.LineItems {
		fmt.Fprintf(&b, "- %s: %s", item.Name, item.Quantity.String())
		if item.Unit != "" {
			fmt.Fprintf(&b, " %s", item.Unit)
		}
		b.WriteString("\n")
	}
	if reason := evt.PayloadValue("reason"); reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", reason)
	}
	fmt.Fprintf(&b, "Stage: %s", doc.Stage)

	msg := &port.Message{
		Title:      title,
		Caption:    b.String(),
		DocumentID: doc.ID,
	}
	if linkBase != "" {
		msg.Link = strings.TrimRight(linkBase, "/") + "/documents/" + doc.ID
	}
	return msg
}
