// Package render produces document snapshots attached to notifications
package render

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
	"go.uber.org/zap"
)

const (
	MimeTypePNG  = "image/png"
	MimeTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// encoder turns a snapshot into file bytes
type encoder interface {
	encode(s *snapshot) ([]byte, error)
	mimeType() string
	extension() string
}

// Renderer implements port.ArtifactRenderer. Each Render call runs in its
// own goroutine and reports on a buffered channel.
type Renderer struct {
	enc    encoder
	logger *zap.Logger
}

// New creates a renderer for format, one of entity.ArtifactFormatPNG or
// entity.ArtifactFormatXLSX
func New(format string, logger *zap.Logger) (*Renderer, error) {
	var enc encoder
	switch format {
	case entity.ArtifactFormatPNG, "":
		enc = pngEncoder{}
	case entity.ArtifactFormatXLSX:
		enc = xlsxEncoder{}
	default:
		return nil, fmt.Errorf("unsupported artifact format: %s", format)
	}
	return &Renderer{enc: enc, logger: logger}, nil
}

// Render implements port.ArtifactRenderer
func (r *Renderer) Render(ctx context.Context, doc *entity.Document) <-chan port.RenderResult {
	out := make(chan port.RenderResult, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Renderer panicked", zap.String("document_id", doc.ID), zap.Any("panic", p))
				out <- port.RenderResult{Err: fmt.Errorf("render panic: %v", p)}
			}
		}()

		if err := ctx.Err(); err != nil {
			out <- port.RenderResult{Err: err}
			return
		}

		start := time.Now()
		data, err := r.enc.encode(newSnapshot(doc))
		if err != nil {
			out <- port.RenderResult{Err: fmt.Errorf("render %s: %w", doc.ID, err)}
			return
		}

		r.logger.Debug("Artifact rendered",
			zap.String("document_id", doc.ID),
			zap.String("mime_type", r.enc.mimeType()),
			zap.Int("bytes", len(data)),
			zap.Duration("took", time.Since(start)))

		out <- port.RenderResult{Artifact: &port.Artifact{
			Data:     data,
			MimeType: r.enc.mimeType(),
			FileName: fmt.Sprintf("%s-%d.%s", doc.Type, doc.SequenceNumber, r.enc.extension()),
		}}
	}()

	return out
}

// field is one labelled value in the document header
type field struct {
	label string
	value string
}

// itemRow is one line item as printed
type itemRow struct {
	name      string
	unit      string
	quantity  string
	weight    string
	requested string
	delivered string
}

// snapshot is the format-neutral printable view of a document
type snapshot struct {
	title     string
	fields    []field
	items     []itemRow
	approvals []field
}

func newSnapshot(doc *entity.Document) *snapshot {
	s := &snapshot{
		title: fmt.Sprintf("%s #%d", documentTitle(doc.Type), doc.SequenceNumber),
	}

	s.fields = append(s.fields,
		field{"Company", doc.CompanyID},
		field{"Stage", doc.Stage.String()},
		field{"Recipient", doc.Recipient},
	)
	if doc.Destination != "" {
		s.fields = append(s.fields, field{"Destination", doc.Destination})
	}
	if d := doc.Driver; d != nil {
		s.fields = append(s.fields, field{"Driver", d.Name})
		if d.VehiclePlate != "" {
			s.fields = append(s.fields, field{"Vehicle", d.VehiclePlate})
		}
	}
	if p := doc.Payment; p != nil {
		s.fields = append(s.fields,
			field{"Payee", p.Payee},
			field{"Amount", p.Amount.StringFixed(2) + " " + p.Currency},
		)
		if p.Purpose != "" {
			s.fields = append(s.fields, field{"Purpose", p.Purpose})
		}
	}
	if doc.Notes != "" {
		s.fields = append(s.fields, field{"Notes", doc.Notes})
	}
	s.fields = append(s.fields, field{"Created", doc.CreatedAt.Format("2006-01-02 15:04")})

	for _, li := range doc.LineItems {
		row := itemRow{
			name:      li.Name,
			unit:      li.Unit,
			quantity:  li.Quantity.String(),
			weight:    li.Weight.String(),
			requested: li.RequestedQuantity.String(),
		}
		if li.DeliveredQuantity != nil {
			row.delivered = li.DeliveredQuantity.String()
		}
		s.items = append(s.items, row)
	}

	stages := make([]workflow.Stage, 0, len(doc.Approvals))
	for st := range doc.Approvals {
		stages = append(stages, st)
	}
	sort.Slice(stages, func(i, j int) bool {
		return doc.Approvals[stages[i]].Timestamp.Before(doc.Approvals[stages[j]].Timestamp)
	})
	for _, st := range stages {
		a := doc.Approvals[st]
		s.approvals = append(s.approvals, field{
			label: a.Role,
			value: fmt.Sprintf("%s (%s)", a.ApproverName, a.Timestamp.Format("2006-01-02 15:04")),
		})
	}
	if rej := doc.Rejection; rej != nil {
		s.approvals = append(s.approvals, field{
			label: "rejected by " + rej.ActorRole,
			value: rej.Reason,
		})
	}

	return s
}

func documentTitle(t entity.DocumentType) string {
	switch t {
	case entity.DocumentTypeExitPermit:
		return "EXIT PERMIT"
	case entity.DocumentTypePaymentOrder:
		return "PAYMENT ORDER"
	default:
		return "DOCUMENT"
	}
}

// Verify interface compliance
var _ port.ArtifactRenderer = (*Renderer)(nil)
