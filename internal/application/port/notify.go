package port

import (
	"context"
	"fmt"

	"github.com/garyjia/permit-approvals/internal/domain/entity"
)

// Artifact is a rendered snapshot of a document
type Artifact struct {
	Data     []byte
	MimeType string
	FileName string
}

// RenderResult is delivered exactly once on the channel returned by Render
type RenderResult struct {
	Artifact *Artifact
	Err      error
}

// ArtifactRenderer produces a visual snapshot of a document. Completion is
// signalled by a value on the returned channel; the channel is buffered so
// the renderer never blocks when nobody is waiting.
type ArtifactRenderer interface {
	Render(ctx context.Context, doc *entity.Document) <-chan RenderResult
}

// Message is the channel-independent notification content
type Message struct {
	Title      string
	Caption    string
	DocumentID string
	Link       string
	Attachment *Artifact
}

// ChannelSender delivers a message to one subscription endpoint
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, sub *entity.Subscription, msg *Message) error
}

// ChannelDeliveryError is a transient delivery failure
type ChannelDeliveryError struct {
	Channel string
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error {
	return e.Err
}

// EndpointInvalidError means the endpoint is permanently gone and the
// subscription should be removed
type EndpointInvalidError struct {
	Channel  string
	Endpoint string
	Reason   string
}

func (e *EndpointInvalidError) Error() string {
	return fmt.Sprintf("%s endpoint invalid: %s", e.Channel, e.Reason)
}
