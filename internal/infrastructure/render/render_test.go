package render

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func sampleDocument() *entity.Document {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	delivered := decimal.NewFromInt(9)
	item := entity.NewLineItem("steel rods", "pcs", decimal.NewFromInt(10), decimal.NewFromInt(120))
	item.DeliveredQuantity = &delivered

	return &entity.Document{
		ID:             "d1",
		Type:           entity.DocumentTypeExitPermit,
		CompanyID:      "acme",
		SequenceNumber: 42,
		Stage:          workflow.StagePendingWarehouse,
		Recipient:      "Site 7",
		Destination:    "North yard",
		Driver:         &entity.Driver{Name: "Sam", VehiclePlate: "AB-123"},
		LineItems:      []entity.LineItem{item},
		Approvals: map[workflow.Stage]entity.Approval{
			workflow.StagePendingCEO:     {ApproverName: "Dana", Role: "ceo", Timestamp: now},
			workflow.StagePendingFactory: {ApproverName: "Lee", Role: "factory_manager", Timestamp: now.Add(time.Hour)},
		},
		CreatedAt: now,
	}
}

func TestRenderer_PNG(t *testing.T) {
	r, err := New(entity.ArtifactFormatPNG, zap.NewNop())
	require.NoError(t, err)

	res := <-r.Render(context.Background(), sampleDocument())
	require.NoError(t, res.Err)
	require.NotNil(t, res.Artifact)
	assert.Equal(t, MimeTypePNG, res.Artifact.MimeType)
	assert.Equal(t, "exit_permit-42.png", res.Artifact.FileName)

	img, err := png.Decode(bytes.NewReader(res.Artifact.Data))
	require.NoError(t, err)
	assert.Equal(t, pngWidth, img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), 10*pngLineHeight)
}

func TestRenderer_XLSX(t *testing.T) {
	r, err := New(entity.ArtifactFormatXLSX, zap.NewNop())
	require.NoError(t, err)

	res := <-r.Render(context.Background(), sampleDocument())
	require.NoError(t, res.Err)
	assert.Equal(t, MimeTypeXLSX, res.Artifact.MimeType)

	f, err := excelize.OpenReader(bytes.NewReader(res.Artifact.Data))
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue(sheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "EXIT PERMIT #42", title)

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	var sawItem, sawApprover bool
	for _, row := range rows {
		if len(row) > 0 && row[0] == "steel rods" {
			sawItem = true
			assert.Equal(t, "9", row[5])
		}
		if len(row) > 1 && row[0] == "factory_manager" {
			sawApprover = true
		}
	}
	assert.True(t, sawItem)
	assert.True(t, sawApprover)
}

func TestRenderer_CancelledContext(t *testing.T) {
	r, err := New(entity.ArtifactFormatPNG, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := <-r.Render(ctx, sampleDocument())
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Nil(t, res.Artifact)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New("pdf", zap.NewNop())
	assert.Error(t, err)
}

func TestSnapshot_ApprovalsInTimeOrder(t *testing.T) {
	s := newSnapshot(sampleDocument())
	require.Len(t, s.approvals, 2)
	assert.Equal(t, "ceo", s.approvals[0].label)
	assert.Equal(t, "factory_manager", s.approvals[1].label)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab~", truncate("abcdef", 3))
}
