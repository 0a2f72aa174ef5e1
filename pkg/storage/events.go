package storage

import (
	"log/slog"
	"sync"

	"github.com/latticegraph/lattice/pkg/address"
)

// HandlerFunc receives one emitted event.
type HandlerFunc func(kind EventKind, subject, object address.Address)

// Dispatcher is the default Events implementation: an in-process
// pub/sub table keyed by event kind, owned per-instance by a Storage
// rather than kept as a package-level global.
//
// The zero value has no subscribers, and Emit on it is a no-op, but it
// has neither the handler map Subscribe writes to nor the logger that
// reports handler panics; a Dispatcher that takes subscriptions comes
// from NewDispatcher. A nil *Dispatcher is also legal everywhere
// Storage calls Emit/NotifyElementDeleted, both become no-ops, so
// callers who don't care about events can pass a nil *Dispatcher to
// WithEvents.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[EventKind][]HandlerFunc
	deleted  []func(address.Address)
	logger   *slog.Logger
}

// NewDispatcher returns an empty Dispatcher. logger may be nil, in
// which case slog.Default() is used to report handler panics.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[EventKind][]HandlerFunc),
		logger:   logger,
	}
}

// Subscribe registers fn for kind and returns a function that removes
// it again.
func (d *Dispatcher) Subscribe(kind EventKind, fn HandlerFunc) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], fn)
	idx := len(d.handlers[kind]) - 1
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		hs := d.handlers[kind]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// SubscribeDeleted registers fn to run on every NotifyElementDeleted call.
func (d *Dispatcher) SubscribeDeleted(fn func(address.Address)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, fn)
}

// Emit fires kind synchronously to every registered handler, in
// registration order. A handler that panics is caught and logged so
// that one bad subscriber cannot abort a mutation already in
// progress inside Storage.
func (d *Dispatcher) Emit(kind EventKind, subject, object address.Address) {
	if d == nil {
		return
	}
	d.mu.Lock()
	hs := append([]HandlerFunc(nil), d.handlers[kind]...)
	d.mu.Unlock()

	for _, h := range hs {
		if h == nil {
			continue
		}
		d.invoke(h, kind, subject, object)
	}
}

func (d *Dispatcher) invoke(h HandlerFunc, kind EventKind, subject, object address.Address) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				"event", kind.String(), "subject", subject.String(), "object", object.String(), "panic", r)
		}
	}()
	h(kind, subject, object)
}

// NotifyElementDeleted fires every registered deletion handler for addr.
func (d *Dispatcher) NotifyElementDeleted(addr address.Address) {
	if d == nil {
		return
	}
	d.mu.Lock()
	hs := append([]func(address.Address){}, d.deleted...)
	d.mu.Unlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("deletion handler panicked", "addr", addr.String(), "panic", r)
				}
			}()
			h(addr)
		}()
	}
}
