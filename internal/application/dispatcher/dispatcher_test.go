package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/domain/event"
	"github.com/garyjia/permit-approvals/internal/domain/workflow"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newEvent(t event.Type) *event.Event {
	doc := &entity.Document{ID: "doc-1", Stage: workflow.StagePendingFactory}
	return event.NewEvent(t, doc, workflow.StagePendingCEO, "Alice", "factory_manager")
}

func noop(ctx context.Context, evt *event.Event) error { return nil }

func TestSubscribe_TypeFilter(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe("notifier", noop)
	d.Subscribe("finalize-audit", noop, event.TypeDocumentFinalized, event.TypeDocumentRejected)

	if got := d.Subscribers(event.TypeDocumentSubmitted); len(got) != 1 || got[0] != "notifier" {
		t.Errorf("submitted subscribers = %v, want [notifier]", got)
	}
	if got := d.Subscribers(event.TypeDocumentFinalized); len(got) != 2 || got[1] != "finalize-audit" {
		t.Errorf("finalized subscribers = %v, want [notifier finalize-audit]", got)
	}
}

func TestSubscribe_ReplacesByName(t *testing.T) {
	d := NewDispatcher()
	var first, second atomic.Int32

	d.Subscribe("notifier", func(ctx context.Context, evt *event.Event) error {
		first.Add(1)
		return nil
	})
	d.Subscribe("notifier", func(ctx context.Context, evt *event.Event) error {
		second.Add(1)
		return nil
	})

	if err := d.Dispatch(context.Background(), newEvent(event.TypeDocumentAdvanced)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if first.Load() != 0 || second.Load() != 1 {
		t.Errorf("calls = (%d, %d), want (0, 1)", first.Load(), second.Load())
	}
	if n := len(d.Subscribers(event.TypeDocumentAdvanced)); n != 1 {
		t.Errorf("expected a single subscriber, got %d", n)
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	called1, called2 := false, false

	d.Subscribe("handler-1", func(ctx context.Context, evt *event.Event) error {
		called1 = true
		return nil
	})
	d.Subscribe("handler-2", func(ctx context.Context, evt *event.Event) error {
		called2 = true
		return nil
	})

	d.Unsubscribe("handler-1")
	d.Unsubscribe("missing")

	if err := d.Dispatch(context.Background(), newEvent(event.TypeDocumentSubmitted)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if called1 {
		t.Error("expected handler-1 not to be called")
	}
	if !called2 {
		t.Error("expected handler-2 to be called")
	}
}

func TestDispatch(t *testing.T) {
	t.Run("runs every handler in order and joins errors", func(t *testing.T) {
		d := NewDispatcher()
		errA := errors.New("a failed")
		errC := errors.New("c failed")
		var order []string

		d.Subscribe("a", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "a")
			return errA
		})
		d.Subscribe("b", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "b")
			return nil
		})
		d.Subscribe("c", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "c")
			return errC
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeDocumentAdvanced))
		if !errors.Is(err, errA) || !errors.Is(err, errC) {
			t.Errorf("expected joined error of a and c, got %v", err)
		}
		if fmt.Sprint(order) != "[a b c]" {
			t.Errorf("order = %v, want [a b c]", order)
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe("boom", func(ctx context.Context, evt *event.Event) error {
			panic("test panic")
		})

		if err := d.Dispatch(context.Background(), newEvent(event.TypeDocumentAdvanced)); err == nil {
			t.Fatal("expected error from panic recovery")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected panic to be logged as error")
		}
	})

	t.Run("returns ErrClosed after close", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		if err := d.Dispatch(context.Background(), newEvent(event.TypeDocumentAdvanced)); !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("returns before handlers complete", func(t *testing.T) {
		d := NewDispatcher()
		release := make(chan struct{})
		var called atomic.Int32

		d.Subscribe("slow", func(ctx context.Context, evt *event.Event) error {
			<-release
			called.Add(1)
			return nil
		})

		d.DispatchAsync(context.Background(), newEvent(event.TypeDocumentSubmitted))

		if called.Load() != 0 {
			t.Error("expected handler not to have completed yet")
		}
		if d.InFlight() != 1 {
			t.Errorf("in flight = %d, want 1", d.InFlight())
		}
		close(release)

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if called.Load() != 1 {
			t.Errorf("expected 1 call, got %d", called.Load())
		}
		if d.InFlight() != 0 {
			t.Errorf("in flight after close = %d, want 0", d.InFlight())
		}
	})

	t.Run("handlers survive cancellation of the caller context", func(t *testing.T) {
		d := NewDispatcher()
		ctx, cancel := context.WithCancel(context.Background())
		release := make(chan struct{})
		var ctxErr atomic.Value

		d.Subscribe("notifier", func(ctx context.Context, evt *event.Event) error {
			<-release
			ctxErr.Store(fmt.Sprint(ctx.Err()))
			return nil
		})

		d.DispatchAsync(ctx, newEvent(event.TypeDocumentSubmitted))
		cancel()
		close(release)

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if got := ctxErr.Load(); got != "<nil>" {
			t.Errorf("handler context error = %v, want <nil>", got)
		}
	})

	t.Run("errors in one handler do not stop others", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32

		d.Subscribe("fails", func(ctx context.Context, evt *event.Event) error {
			return errors.New("handler error")
		})
		d.Subscribe("panics", func(ctx context.Context, evt *event.Event) error {
			panic("async panic")
		})
		d.Subscribe("healthy", func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		d.DispatchAsync(context.Background(), newEvent(event.TypeDocumentRejected))

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if called.Load() != 1 {
			t.Errorf("expected healthy handler to be called, got %d calls", called.Load())
		}
		if logger.ErrorCount() != 2 {
			t.Errorf("expected 2 logged errors, got %d", logger.ErrorCount())
		}
	})

	t.Run("drops events after close", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32

		d.Subscribe("notifier", func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		d.DispatchAsync(context.Background(), newEvent(event.TypeDocumentSubmitted))

		if called.Load() != 0 || d.InFlight() != 0 {
			t.Error("expected handler not to be scheduled after close")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected dropped event to be logged")
		}
	})
}

func TestClose_Twice(t *testing.T) {
	d := NewDispatcher()

	if err := d.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := d.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on second close, got %v", err)
	}
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.Subscribe(fmt.Sprintf("handler-%d", id), func(ctx context.Context, evt *event.Event) error {
				called.Add(1)
				return nil
			}, event.TypeDocumentEdited)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.DispatchAsync(context.Background(), newEvent(event.TypeDocumentEdited))
		}()
	}
	wg.Wait()

	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if called.Load() != 100 {
		t.Errorf("expected 100 handler calls, got %d", called.Load())
	}
}

func TestClose_RacingDispatchAsync(t *testing.T) {
	for round := 0; round < 50; round++ {
		d := NewDispatcher()
		var finished atomic.Int32
		d.Subscribe("counter", func(ctx context.Context, evt *event.Event) error {
			finished.Add(1)
			return nil
		})

		var senders sync.WaitGroup
		for i := 0; i < 8; i++ {
			senders.Add(1)
			go func() {
				defer senders.Done()
				for j := 0; j < 20; j++ {
					d.DispatchAsync(context.Background(), newEvent(event.TypeDocumentSubmitted))
				}
			}()
		}

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		atClose := finished.Load()
		senders.Wait()

		// events accepted before Close have finished; later ones were dropped
		if got := finished.Load(); got != atClose {
			t.Fatalf("round %d: %d handlers ran after Close returned", round, got-atClose)
		}
		if d.InFlight() != 0 {
			t.Fatalf("round %d: %d handlers still in flight", round, d.InFlight())
		}
	}
}
