package stream

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AxsolTools/bonk1st-sub009/internal/metrics"
)

// registry fans live events out to registered handlers. Dispatch iterates a
// snapshot of the current handlers so registration and unregistration during
// dispatch are safe, and every handler invocation is recovered so one
// misbehaving observer cannot stall or crash delivery to the others.
type registry struct {
	mu        sync.Mutex
	trade     map[uuid.UUID]func(TradeEvent)
	migration map[uuid.UUID]func(MigrationEvent)
	newToken  map[uuid.UUID]func(NewTokenEvent)
	log       *zap.Logger
}

func newRegistry(log *zap.Logger) *registry {
	return &registry{
		trade:     make(map[uuid.UUID]func(TradeEvent)),
		migration: make(map[uuid.UUID]func(MigrationEvent)),
		newToken:  make(map[uuid.UUID]func(NewTokenEvent)),
		log:       log,
	}
}

func (r *registry) onTrade(fn func(TradeEvent)) func() {
	id := uuid.New()
	r.mu.Lock()
	r.trade[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.trade, id)
		r.mu.Unlock()
	}
}

func (r *registry) onMigration(fn func(MigrationEvent)) func() {
	id := uuid.New()
	r.mu.Lock()
	r.migration[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.migration, id)
		r.mu.Unlock()
	}
}

func (r *registry) onNewToken(fn func(NewTokenEvent)) func() {
	id := uuid.New()
	r.mu.Lock()
	r.newToken[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.newToken, id)
		r.mu.Unlock()
	}
}

func (r *registry) dispatchTrade(ev TradeEvent) {
	r.mu.Lock()
	handlers := make([]func(TradeEvent), 0, len(r.trade))
	for _, fn := range r.trade {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		r.invoke(func() { fn(ev) }, "trade")
	}
	metrics.EventsDispatched.WithLabelValues("trade").Inc()
}

func (r *registry) dispatchMigration(ev MigrationEvent) {
	r.mu.Lock()
	handlers := make([]func(MigrationEvent), 0, len(r.migration))
	for _, fn := range r.migration {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		r.invoke(func() { fn(ev) }, "migration")
	}
	metrics.EventsDispatched.WithLabelValues("migration").Inc()
}

func (r *registry) dispatchNewToken(ev NewTokenEvent) {
	r.mu.Lock()
	handlers := make([]func(NewTokenEvent), 0, len(r.newToken))
	for _, fn := range r.newToken {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		r.invoke(func() { fn(ev) }, "new_token")
	}
	metrics.EventsDispatched.WithLabelValues("new_token").Inc()
}

// invoke runs one handler, swallowing panics so the dispatch loop survives.
func (r *registry) invoke(fn func(), kind string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("event handler panicked",
				zap.String("kind", kind),
				zap.Any("panic", rec))
		}
	}()
	fn()
}
