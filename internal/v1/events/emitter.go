// Package events implements the typed event emitter that fans inbound hub events out
// to subscriber callbacks.
//
// Each category keeps its own ordered listener list. Dispatch is synchronous and runs
// listeners in registration order; a panicking listener is recovered and logged so
// the rest of the list still runs. No ordering is guaranteed across categories.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/metrics"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"go.uber.org/zap"
)

// Category names an event stream.
type Category string

const (
	CategoryRoomMessage      Category = "room_message"
	CategoryDirectMessage    Category = "direct_message"
	CategoryTyping           Category = "typing"
	CategoryPresence         Category = "presence"
	CategoryConnectionStatus Category = "connection_status"
)

// Unsubscribe removes the listener it was returned for. Calling it again is a no-op.
type Unsubscribe func()

type listener[T any] struct {
	id uint64
	fn func(T)
}

// registry is an ordered listener list for one category.
type registry[T any] struct {
	category  Category
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

func (r *registry[T]) add(fn func(T)) Unsubscribe {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, listener[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.listeners {
		if l.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *registry[T]) emit(v T) {
	// Snapshot so listeners may (un)subscribe during dispatch without deadlocking.
	r.mu.Lock()
	snapshot := make([]listener[T], len(r.listeners))
	copy(snapshot, r.listeners)
	r.mu.Unlock()

	for _, l := range snapshot {
		r.invoke(l.fn, v)
	}
}

func (r *registry[T]) invoke(fn func(T), v T) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.HandlerPanics.WithLabelValues(string(r.category)).Inc()
			logging.Error(context.Background(), "Recovered from panic in event listener",
				zap.String("category", string(r.category)),
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	fn(v)
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

func (r *registry[T]) clear() {
	r.mu.Lock()
	r.listeners = nil
	r.mu.Unlock()
}

// Emitter holds one listener registry per event category.
type Emitter struct {
	roomMessages   registry[types.ChatMessage]
	directMessages registry[types.DirectMessage]
	typing         registry[types.TypingEvent]
	presence       registry[types.PresenceEvent]
	connection     registry[bool]
}

// NewEmitter creates an emitter with empty listener lists.
func NewEmitter() *Emitter {
	return &Emitter{
		roomMessages:   registry[types.ChatMessage]{category: CategoryRoomMessage},
		directMessages: registry[types.DirectMessage]{category: CategoryDirectMessage},
		typing:         registry[types.TypingEvent]{category: CategoryTyping},
		presence:       registry[types.PresenceEvent]{category: CategoryPresence},
		connection:     registry[bool]{category: CategoryConnectionStatus},
	}
}

func (e *Emitter) OnRoomMessage(fn func(types.ChatMessage)) Unsubscribe {
	return e.roomMessages.add(fn)
}

func (e *Emitter) OnDirectMessage(fn func(types.DirectMessage)) Unsubscribe {
	return e.directMessages.add(fn)
}

func (e *Emitter) OnTyping(fn func(types.TypingEvent)) Unsubscribe {
	return e.typing.add(fn)
}

func (e *Emitter) OnPresence(fn func(types.PresenceEvent)) Unsubscribe {
	return e.presence.add(fn)
}

// OnConnectionStatus listeners receive true when the hub becomes connected and false
// when it is lost or closed.
func (e *Emitter) OnConnectionStatus(fn func(connected bool)) Unsubscribe {
	return e.connection.add(fn)
}

func (e *Emitter) EmitRoomMessage(msg types.ChatMessage) {
	e.roomMessages.emit(msg)
}

func (e *Emitter) EmitDirectMessage(msg types.DirectMessage) {
	e.directMessages.emit(msg)
}

func (e *Emitter) EmitTyping(ev types.TypingEvent) {
	e.typing.emit(ev)
}

func (e *Emitter) EmitPresence(ev types.PresenceEvent) {
	e.presence.emit(ev)
}

func (e *Emitter) EmitConnectionStatus(connected bool) {
	e.connection.emit(connected)
}

// ListenerCount returns the number of listeners registered for a category.
func (e *Emitter) ListenerCount(category Category) int {
	switch category {
	case CategoryRoomMessage:
		return e.roomMessages.len()
	case CategoryDirectMessage:
		return e.directMessages.len()
	case CategoryTyping:
		return e.typing.len()
	case CategoryPresence:
		return e.presence.len()
	case CategoryConnectionStatus:
		return e.connection.len()
	default:
		return 0
	}
}

// Clear drops every listener in every category.
func (e *Emitter) Clear() {
	e.roomMessages.clear()
	e.directMessages.clear()
	e.typing.clear()
	e.presence.clear()
	e.connection.clear()
}
