// Package dispatcher is the in-process event bus between the approval
// workflow and its side effects (notification fan-out, report publishing).
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/permit-approvals/internal/domain/event"
)

// Handler processes a workflow event
type Handler func(ctx context.Context, evt *event.Event) error

// Dispatcher fans workflow events out to named subscribers
type Dispatcher interface {
	// Subscribe registers handler under name for the given event types.
	// No types means every event. Subscribing an existing name replaces it.
	Subscribe(name string, handler Handler, types ...event.Type)

	// Unsubscribe removes the subscriber registered under name
	Unsubscribe(name string)

	// Dispatch runs every matching handler in subscription order and joins their errors
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs matching handlers in their own goroutines on a
	// context detached from ctx's cancellation and returns immediately
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Subscribers lists the names that receive eventType, in order
	Subscribers(eventType event.Type) []string

	// InFlight reports async handlers that have not finished yet
	InFlight() int

	// Close rejects further events and waits for in-flight handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// ErrClosed is returned when dispatching on a closed bus
var ErrClosed = errors.New("dispatcher is closed")

type subscriber struct {
	name    string
	types   map[event.Type]struct{} // nil matches every type
	handler Handler
}

func (s subscriber) matches(t event.Type) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type eventBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	logger      Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
	closed   atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventBus)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(b *eventBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewDispatcher creates an empty event bus
func NewDispatcher(opts ...Option) Dispatcher {
	b := &eventBus{logger: nopLogger{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *eventBus) Subscribe(name string, handler Handler, types ...event.Type) {
	sub := subscriber{name: name, handler: handler}
	if len(types) > 0 {
		sub.types = make(map[event.Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	replaced := false
	for i := range b.subscribers {
		if b.subscribers[i].name == name {
			b.subscribers[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		b.subscribers = append(b.subscribers, sub)
	}
	b.mu.Unlock()

	b.logger.Info("Subscriber registered",
		"name", name,
		"event_types", types,
		"replaced", replaced,
	)
}

func (b *eventBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subscribers[:0]
	for _, s := range b.subscribers {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	b.subscribers = kept
}

func (b *eventBus) matching(t event.Type) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.matchingLocked(t)
}

// matchingLocked requires b.mu to be held
func (b *eventBus) matchingLocked(t event.Type) []subscriber {
	out := make([]subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if s.matches(t) {
			out = append(out, s)
		}
	}
	return out
}

func (b *eventBus) Dispatch(ctx context.Context, evt *event.Event) error {
	if b.closed.Load() {
		return ErrClosed
	}

	var errs []error
	for _, s := range b.matching(evt.Type) {
		if err := b.run(ctx, evt, s); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *eventBus) DispatchAsync(ctx context.Context, evt *event.Event) {
	// closed is checked and wg grown under the read lock so Close cannot
	// start waiting between the two
	b.mu.RLock()
	if b.closed.Load() {
		b.mu.RUnlock()
		b.logger.Error("Dropping event, dispatcher is closed",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"document_id", evt.DocumentID,
		)
		return
	}
	subs := b.matchingLocked(evt.Type)
	b.wg.Add(len(subs))
	b.inFlight.Add(int64(len(subs)))
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	// the transition request usually returns before its handlers finish
	detached := context.WithoutCancel(ctx)

	for _, s := range subs {
		go func(s subscriber) {
			defer func() {
				b.inFlight.Add(-1)
				b.wg.Done()
			}()
			_ = b.run(detached, evt, s)
		}(s)
	}
}

func (b *eventBus) Subscribers(eventType event.Type) []string {
	subs := b.matching(eventType)
	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = s.name
	}
	return names
}

func (b *eventBus) InFlight() int {
	return int(b.inFlight.Load())
}

func (b *eventBus) Close() error {
	b.mu.Lock()
	swapped := b.closed.CompareAndSwap(false, true)
	b.mu.Unlock()
	if !swapped {
		return ErrClosed
	}

	b.logger.Info("Closing dispatcher", "in_flight", b.InFlight())
	b.wg.Wait()
	return nil
}

// run executes one subscriber, turning a panic into an error
func (b *eventBus) run(ctx context.Context, evt *event.Event, s subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			b.logger.Error("Event handler failed",
				"subscriber", s.name,
				"event_type", evt.Type,
				"event_id", evt.ID,
				"document_id", evt.DocumentID,
				"error", err,
			)
		}
	}()

	return s.handler(ctx, evt)
}
