package realtime

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// ErrHandlerNotFound is returned when removing a handler that was never
// registered for the given event name.
var ErrHandlerNotFound = errors.New("handler not registered")

// EventHandler receives a dispatched event. A non-nil error aborts the
// remainder of that dispatch.
type EventHandler func(event any) error

// EventEmitter is a named-event registry with durable and one-shot
// subscriptions. Dispatch is synchronous with respect to the caller: durable
// handlers run first in registration order, then one-shot handlers in
// registration order, and the one-shot list is cleared once all of them ran.
type EventEmitter struct {
	mu           sync.Mutex
	handlers     map[string][]EventHandler
	nextHandlers map[string][]EventHandler
}

func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers:     map[string][]EventHandler{},
		nextHandlers: map[string][]EventHandler{},
	}
}

// On registers a durable handler for name.
func (e *EventEmitter) On(name string, h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = append(e.handlers[name], h)
}

// OnNext registers a handler that fires on the next dispatch of name only.
func (e *EventEmitter) OnNext(name string, h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextHandlers[name] = append(e.nextHandlers[name], h)
}

// Off removes a durable handler, or every durable handler for name when h is
// nil. Removing a handler that is not registered fails.
func (e *EventEmitter) Off(name string, h EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return remove(e.handlers, name, h)
}

// OffNext removes a one-shot handler, or every one-shot handler for name when
// h is nil.
func (e *EventEmitter) OffNext(name string, h EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return remove(e.nextHandlers, name, h)
}

func remove(table map[string][]EventHandler, name string, h EventHandler) error {
	if h == nil {
		delete(table, name)
		return nil
	}
	ptr := reflect.ValueOf(h).Pointer()
	for i, registered := range table[name] {
		if reflect.ValueOf(registered).Pointer() == ptr {
			table[name] = append(table[name][:i:i], table[name][i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("off %q: %w", name, ErrHandlerNotFound)
}

// Dispatch delivers event to every handler registered for name. A handler
// error stops delivery immediately: later handlers do not run and the one-shot
// list for name is left as it was.
func (e *EventEmitter) Dispatch(name string, event any) error {
	e.mu.Lock()
	durable := append([]EventHandler(nil), e.handlers[name]...)
	e.mu.Unlock()

	for _, h := range durable {
		if err := h(event); err != nil {
			return err
		}
	}

	e.mu.Lock()
	next := append([]EventHandler(nil), e.nextHandlers[name]...)
	e.mu.Unlock()

	for _, h := range next {
		if err := h(event); err != nil {
			return err
		}
	}

	e.mu.Lock()
	delete(e.nextHandlers, name)
	e.mu.Unlock()

	return nil
}

// WaitForNext blocks until the next dispatch of name and returns its payload.
// A timeout <= 0 waits forever. On timeout the second return is false and the
// pending subscription is withdrawn.
func (e *EventEmitter) WaitForNext(name string, timeout time.Duration) (any, bool) {
	ch := make(chan any, 1)
	h := func(event any) error {
		select {
		case ch <- event:
		default:
		}
		return nil
	}
	e.OnNext(name, h)

	if timeout <= 0 {
		return <-ch, true
	}

	select {
	case event := <-ch:
		return event, true
	case <-time.After(timeout):
		// The event may still have fired in between; the buffered channel
		// just gets dropped in that case.
		_ = e.OffNext(name, h)
		return nil, false
	}
}

// ClearEventHandlers drops every durable and one-shot subscription.
func (e *EventEmitter) ClearEventHandlers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = map[string][]EventHandler{}
	e.nextHandlers = map[string][]EventHandler{}
}
