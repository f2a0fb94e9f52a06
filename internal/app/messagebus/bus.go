package messagebus

import (
	"log/slog"
	"sync"

	"github.com/burenotti/healthlog/internal/domain"
)

// AnyEvent registers a handler for every event type.
const AnyEvent = "*"

type EventHandler func(event domain.Event) error

type MessageBus struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	closers  []func() error
	wg       sync.WaitGroup
}

func New(logger *slog.Logger) *MessageBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBus{
		logger:   logger,
		handlers: make(map[string][]EventHandler),
	}
}

func (b *MessageBus) Register(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// PublishEvents dispatches every event to its handlers in background goroutines.
// Handler errors are logged and never returned to the publisher.
func (b *MessageBus) PublishEvents(events ...domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, event := range events {
		typed, wildcard := b.handlers[event.Type()], b.handlers[AnyEvent]
		handlers := make([]EventHandler, 0, len(typed)+len(wildcard))
		handlers = append(handlers, typed...)
		handlers = append(handlers, wildcard...)

		for _, handler := range handlers {
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				if err := handler(event); err != nil {
					b.logger.Error("failed to handle event", "type", event.Type(), "err", err)
				}
			}()
		}
	}
	return nil
}

// OnClose registers a release func for a resource the handlers depend on.
func (b *MessageBus) OnClose(closer func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, closer)
}

// Close waits for in-flight handlers, then runs the OnClose funcs in reverse registration order.
func (b *MessageBus) Close() {
	b.wg.Wait()

	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			b.logger.Error("failed to release event handler resource", "err", err)
		}
	}
}
