// Package notify fans a workflow event out to every channel subscription of
// every user holding the event's target role.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/event"
	"golang.org/x/sync/errgroup"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Registry is the part of the subscription registry the notifier needs
type Registry interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*entity.Subscription, error)
	// RemoveEndpoint drops the subscription only while it still has endpoint
	RemoveEndpoint(ctx context.Context, ownerID, channel, endpoint string) error
}

const (
	defaultDeliveryTimeout = 10 * time.Second
	defaultRenderTimeout   = 15 * time.Second
	defaultMaxParallel     = 16
)

// Notifier delivers workflow events to subscribed endpoints
type Notifier struct {
	directory port.UserDirectory
	registry  Registry
	renderer  port.ArtifactRenderer
	senders   map[string]port.ChannelSender
	sinks     []ReportSink
	logger    Logger

	deliveryTimeout time.Duration
	renderTimeout   time.Duration
	maxParallel     int
	linkBase        string
}

// Option configures the notifier
type Option func(*Notifier)

// WithDeliveryTimeout bounds each channel send
func WithDeliveryTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.deliveryTimeout = d
		}
	}
}

// WithRenderTimeout bounds the wait for the artifact
func WithRenderTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.renderTimeout = d
		}
	}
}

// WithMaxParallel bounds concurrent deliveries per event
func WithMaxParallel(max int) Option {
	return func(n *Notifier) {
		if max > 0 {
			n.maxParallel = max
		}
	}
}

// WithReportSinks adds sinks that receive every dispatch report
func WithReportSinks(sinks ...ReportSink) Option {
	return func(n *Notifier) {
		n.sinks = append(n.sinks, sinks...)
	}
}

// WithLinkBase sets the base URL used for document deep links
func WithLinkBase(base string) Option {
	return func(n *Notifier) {
		n.linkBase = base
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier creates a notifier. renderer may be nil, in which case
// messages go out caption only.
func NewNotifier(
	directory port.UserDirectory,
	registry Registry,
	renderer port.ArtifactRenderer,
	senders []port.ChannelSender,
	opts ...Option,
) *Notifier {
	n := &Notifier{
		directory:       directory,
		registry:        registry,
		renderer:        renderer,
		senders:         make(map[string]port.ChannelSender, len(senders)),
		deliveryTimeout: defaultDeliveryTimeout,
		renderTimeout:   defaultRenderTimeout,
		maxParallel:     defaultMaxParallel,
	}
	for _, s := range senders {
		n.senders[s.Channel()] = s
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Channels lists the channels with a registered sender
func (n *Notifier) Channels() []string {
	out := make([]string, 0, len(n.senders))
	for ch := range n.senders {
		out = append(out, ch)
	}
	return out
}

// HandleEvent adapts Dispatch to the event dispatcher's handler signature
func (n *Notifier) HandleEvent(ctx context.Context, evt *event.Event) error {
	_, err := n.Dispatch(ctx, evt)
	return err
}

type target struct {
	user *entity.User
	sub  *entity.Subscription
}

// Dispatch resolves recipients for the event's target role, renders the
// artifact once and delivers to every subscription in parallel. Individual
// delivery failures are reported, never returned; only a failed directory
// lookup is an error.
func (n *Notifier) Dispatch(ctx context.Context, evt *event.Event) (*DispatchReport, error) {
	report := &DispatchReport{
		EventID:    evt.ID,
		EventType:  evt.Type.String(),
		DocumentID: evt.DocumentID,
		TargetRole: evt.TargetRole.String(),
		Results:    []DeliveryResult{},
		StartedAt:  time.Now(),
	}

	if evt.TargetRole == "" || evt.Snapshot == nil {
		return n.finish(ctx, report), nil
	}

	users, err := n.directory.UsersWithRole(ctx, evt.TargetRole.String())
	if err != nil {
		return nil, fmt.Errorf("resolve recipients for role %s: %w", evt.TargetRole, err)
	}
	report.Recipients = len(users)

	targets := n.collectTargets(ctx, users)
	if len(targets) == 0 {
		return n.finish(ctx, report), nil
	}

	msg := BuildMessage(evt, n.linkBase)
	msg.Attachment = n.awaitArtifact(ctx, evt.Snapshot)
	report.ArtifactRendered = msg.Attachment != nil

	report.Results = n.deliverAll(ctx, targets, msg)
	n.pruneInvalid(ctx, report.Results)

	return n.finish(ctx, report), nil
}

// Redeliver retries one subscription for an event. The artifact is rendered
// again from the event snapshot.
func (n *Notifier) Redeliver(ctx context.Context, evt *event.Event, sub *entity.Subscription) DeliveryResult {
	msg := BuildMessage(evt, n.linkBase)
	msg.Attachment = n.awaitArtifact(ctx, evt.Snapshot)

	res := n.deliver(ctx, sub, msg)
	n.pruneInvalid(ctx, []DeliveryResult{res})
	return res
}

func (n *Notifier) collectTargets(ctx context.Context, users []*entity.User) []target {
	var targets []target
	seen := make(map[string]bool, len(users))
	for _, user := range users {
		if seen[user.ID] {
			continue
		}
		seen[user.ID] = true

		subs, err := n.registry.ListByOwner(ctx, user.ID)
		if err != nil {
			n.logError("Failed to load subscriptions", "owner_id", user.ID, "error", err)
			continue
		}
		for _, sub := range subs {
			targets = append(targets, target{user: user, sub: sub})
		}
	}
	return targets
}

// awaitArtifact waits for the renderer's completion signal. A render
// failure or timeout degrades to a caption-only message.
func (n *Notifier) awaitArtifact(ctx context.Context, doc *entity.Document) *port.Artifact {
	if n.renderer == nil || doc == nil {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, n.renderTimeout)
	defer cancel()

	select {
	case res := <-n.renderer.Render(rctx, doc):
		if res.Err != nil {
			n.logError("Artifact render failed", "document_id", doc.ID, "error", res.Err)
			return nil
		}
		return res.Artifact
	case <-rctx.Done():
		n.logError("Artifact render timed out", "document_id", doc.ID, "timeout", n.renderTimeout.String())
		return nil
	}
}

func (n *Notifier) deliverAll(ctx context.Context, targets []target, msg *port.Message) []DeliveryResult {
	results := make([]DeliveryResult, len(targets))

	var g errgroup.Group
	g.SetLimit(n.maxParallel)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = n.deliver(ctx, t.sub, msg)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// deliver sends to one subscription. The send runs in its own goroutine so
// a sender that ignores its context still cannot hold up the dispatch past
// the delivery timeout.
func (n *Notifier) deliver(ctx context.Context, sub *entity.Subscription, msg *port.Message) DeliveryResult {
	res := DeliveryResult{
		OwnerID:  sub.OwnerID,
		Channel:  sub.Channel,
		Endpoint: sub.Endpoint,
	}

	sender, ok := n.senders[sub.Channel]
	if !ok {
		res.Outcome = OutcomeUnsupportedChannel
		res.Error = fmt.Sprintf("no sender for channel %s", sub.Channel)
		return res
	}

	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, n.deliveryTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeSend(dctx, sender, sub, msg)
	}()

	var err error
	select {
	case err = <-done:
	case <-dctx.Done():
		err = &port.ChannelDeliveryError{
			Channel: sub.Channel,
			Err:     fmt.Errorf("no response within %s: %w", n.deliveryTimeout, dctx.Err()),
		}
	}
	res.Duration = time.Since(start)

	var invalid *port.EndpointInvalidError
	switch {
	case err == nil:
		res.Outcome = OutcomeDelivered
	case errors.As(err, &invalid):
		res.Outcome = OutcomeEndpointInvalid
		res.Error = err.Error()
	default:
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
	}

	return res
}

func safeSend(ctx context.Context, sender port.ChannelSender, sub *entity.Subscription, msg *port.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &port.ChannelDeliveryError{Channel: sub.Channel, Err: fmt.Errorf("sender panic: %v", r)}
		}
	}()
	return sender.Send(ctx, sub, msg)
}

// pruneInvalid removes subscriptions whose endpoint reported permanent
// failure. A subscription re-registered with a new endpoint meanwhile is kept.
func (n *Notifier) pruneInvalid(ctx context.Context, results []DeliveryResult) {
	for _, res := range results {
		if res.Outcome != OutcomeEndpointInvalid {
			continue
		}
		if err := n.registry.RemoveEndpoint(ctx, res.OwnerID, res.Channel, res.Endpoint); err != nil {
			n.logError("Failed to remove invalid subscription",
				"owner_id", res.OwnerID,
				"channel", res.Channel,
				"error", err,
			)
			continue
		}
		n.logInfo("Removed invalid subscription",
			"owner_id", res.OwnerID,
			"channel", res.Channel,
		)
	}
}

func (n *Notifier) finish(ctx context.Context, report *DispatchReport) *DispatchReport {
	report.FinishedAt = time.Now()
	for _, sink := range n.sinks {
		sink.Publish(ctx, report)
	}
	return report
}

func (n *Notifier) logInfo(msg string, keysAndValues ...interface{}) {
	if n.logger != nil {
		n.logger.Info(msg, keysAndValues...)
	}
}

func (n *Notifier) logError(msg string, keysAndValues ...interface{}) {
	if n.logger != nil {
		n.logger.Error(msg, keysAndValues...)
	}
}
