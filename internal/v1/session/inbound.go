package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/metrics"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"go.uber.org/zap"
)

// registerHandlers wires the inbound hub events of conn into the store and the emitter.
// The controller calls it once per connection instance; handlers survive reconnects.
func (s *ChatSession) registerHandlers(conn types.HubConnection) {
	conn.On(types.HubEventReceiveMessage, decodeArg(types.HubEventReceiveMessage, s.handleRoomMessage))
	conn.On(types.HubEventReceiveDirectMessage, decodeArg(types.HubEventReceiveDirectMessage, s.handleDirectMessage))
	conn.On(types.HubEventUserTyping, decodeArg(types.HubEventUserTyping, s.handleTyping))
	conn.On(types.HubEventUserOnlineStatus, decodeArg(types.HubEventUserOnlineStatus, s.handlePresence))
}

// decodeArg adapts a typed handler to the raw hub handler signature. The hub sends each
// event as a single JSON object argument.
func decodeArg[T any](event string, fn func(T)) types.HubHandler {
	return func(args []json.RawMessage) {
		if len(args) == 0 {
			metrics.InboundEvents.WithLabelValues(event, "malformed").Inc()
			logging.Warn(context.Background(), "Hub event without arguments", zap.String("event", event))
			return
		}
		var v T
		if err := json.Unmarshal(args[0], &v); err != nil {
			metrics.InboundEvents.WithLabelValues(event, "malformed").Inc()
			logging.Warn(context.Background(), "Failed to decode hub event", zap.String("event", event), zap.Error(err))
			return
		}
		metrics.InboundEvents.WithLabelValues(event, "ok").Inc()
		fn(v)
	}
}

func (s *ChatSession) handleRoomMessage(msg types.ChatMessage) {
	if !s.store.AddMessageIfAbsent(msg.RoomID, msg) {
		metrics.InboundEvents.WithLabelValues(types.HubEventReceiveMessage, "duplicate").Inc()
		return
	}
	s.emitter.EmitRoomMessage(msg)
}

func (s *ChatSession) handleDirectMessage(msg types.DirectMessage) {
	counterpart := msg.Counterpart(s.Self())
	if !s.store.AddDirectMessageIfAbsent(counterpart, msg) {
		metrics.InboundEvents.WithLabelValues(types.HubEventReceiveDirectMessage, "duplicate").Inc()
		return
	}
	s.emitter.EmitDirectMessage(msg)
}

func (s *ChatSession) handleTyping(ev types.TypingEvent) {
	s.store.SetUserTyping(ev.RoomID, ev.UserID, ev.IsTyping)
	key := typingKey{room: ev.RoomID, user: ev.UserID}
	if ev.IsTyping {
		s.armTypingTimer(key)
	} else {
		s.cancelTypingTimer(key)
	}
	s.emitter.EmitTyping(ev)
}

func (s *ChatSession) handlePresence(ev types.PresenceEvent) {
	s.store.SetUserOnline(ev.UserID, ev.IsOnline)
	s.emitter.EmitPresence(ev)
}

type typingKey struct {
	room types.RoomIdType
	user types.UserIdType
}

// armTypingTimer (re)starts the inactivity timer that clears a typing flag.
func (s *ChatSession) armTypingTimer(key typingKey) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if existing, ok := s.typingTimers[key]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(s.typingTimeout, func() {
		s.timersMu.Lock()
		if s.typingTimers[key] != timer {
			s.timersMu.Unlock()
			return
		}
		delete(s.typingTimers, key)
		s.timersMu.Unlock()

		s.store.SetUserTyping(key.room, key.user, false)
		s.emitter.EmitTyping(types.TypingEvent{RoomID: key.room, UserID: key.user, IsTyping: false})
	})
	s.typingTimers[key] = timer
}

func (s *ChatSession) cancelTypingTimer(key typingKey) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if timer, ok := s.typingTimers[key]; ok {
		timer.Stop()
		delete(s.typingTimers, key)
	}
}

func (s *ChatSession) stopTypingTimers() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	for key, timer := range s.typingTimers {
		timer.Stop()
		delete(s.typingTimers, key)
	}
}

// pendingTypingTimers is the number of armed inactivity timers.
func (s *ChatSession) pendingTypingTimers() int {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	return len(s.typingTimers)
}
