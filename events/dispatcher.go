package events

import (
	"fmt"
)

// Handler receives the payload of an event.
type Handler func(payload any) error

// Dispatcher calls handlers by event kind. Handlers run synchronously in
// registration order, so an event is fully applied before Emit returns.
// A Dispatcher must be used from a single goroutine.
type Dispatcher struct {
	handlers map[Kind][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: map[Kind][]Handler{},
	}
}

func (d *Dispatcher) On(kind Kind, h Handler) {
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Handles reports whether any handler is registered for kind.
func (d *Dispatcher) Handles(kind Kind) bool {
	return len(d.handlers[kind]) > 0
}

// Emit stops at the first failing handler and returns its error.
func (d *Dispatcher) Emit(kind Kind, payload any) error {
	for _, h := range d.handlers[kind] {
		if err := h(payload); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	return nil
}

// EmitAll emits evs in order.
func (d *Dispatcher) EmitAll(evs []Event) error {
	for _, ev := range evs {
		if err := d.Emit(ev.Kind, ev.Payload); err != nil {
			return err
		}
	}
	return nil
}
