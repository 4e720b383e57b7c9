// Package event is the in-process bus between the game machine, the
// leaderboard service and the notifiers.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 1000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

type subscription struct {
	h    Handler
	pool chan struct{}
}

type Option func(b *Bus)

// WithPoolSize bounds the number of in-flight calls of each handler.
func WithPoolSize(n int) Option {
	return func(b *Bus) {
		b.poolSize = n
	}
}

func WithTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.timeout = d
	}
}

// Bus is an in-memory event bus. Each handler has its own pool, so a slow
// handler only delays its own events.
type Bus struct {
	poolSize int
	timeout  time.Duration

	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]*subscription
}

// NewBus returns an empty bus. Stop it to wait for in-flight handlers.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		poolSize: defaultPoolSize,
		timeout:  defaultTimeout,
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]*subscription),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe registers h for events called name. Handlers registered for
// the same name each receive every event.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], &subscription{
		h:    h,
		pool: make(chan struct{}, b.poolSize),
	})
}

// Publish hands e to its subscribers and returns once each has a pool slot.
// Handlers run detached from ctx cancellation but keep its values.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := b.handlers[e.Name()]
	b.mu.RUnlock()

	for _, s := range subs {
		b.wg.Add(1)
		s.pool <- struct{}{}
		go b.run(context.WithoutCancel(ctx), s, e)
	}
}

func (b *Bus) run(ctx context.Context, s *subscription, e Event) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer func() {
		cancel()
		<-s.pool
		b.wg.Done()
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panicked",
				"event", e.Name(),
				"error", fmt.Errorf("%v\n%s", r, debug.Stack()),
			)
		}
	}()

	if err := s.h(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event: handler failed", "event", e.Name(), "error", err)
	}
}

// Stop blocks until every dispatched handler returned.
func (b *Bus) Stop() {
	b.wg.Wait()
}
