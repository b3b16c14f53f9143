// Package store holds the client-side chat state: the active room or conversation,
// per-room and per-conversation message lists, typing sets and the online-user set.
//
// The Store is the single owner of this state. Consumers mutate it only through its
// action methods and read it through selectors that return copies.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/metrics"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"go.uber.org/zap"

	"k8s.io/utils/set"
)

// Store is safe for concurrent use. Actions are synchronous; change listeners run after
// the lock is released.
type Store struct {
	mu                 sync.RWMutex
	activeRoom         *types.ChatRoom
	activeConversation *types.UserSummary
	messages           map[types.RoomIdType][]types.ChatMessage
	directMessages     map[types.UserIdType][]types.DirectMessage
	typing             map[types.RoomIdType]set.Set[types.UserIdType]
	online             set.Set[types.UserIdType]

	listenersMu sync.Mutex
	nextID      uint64
	listeners   map[uint64]func()
}

// New returns an empty store.
func New() *Store {
	return &Store{
		messages:       make(map[types.RoomIdType][]types.ChatMessage),
		directMessages: make(map[types.UserIdType][]types.DirectMessage),
		typing:         make(map[types.RoomIdType]set.Set[types.UserIdType]),
		online:         set.New[types.UserIdType](),
		listeners:      make(map[uint64]func()),
	}
}

// --- Actions ---

// SetActiveRoom replaces the selected room. nil clears the selection. History is kept.
func (s *Store) SetActiveRoom(room *types.ChatRoom) {
	s.mu.Lock()
	if room == nil {
		s.activeRoom = nil
	} else {
		r := *room
		s.activeRoom = &r
	}
	s.mu.Unlock()
	s.changed()
}

// SetActiveConversation replaces the selected direct conversation. nil clears it.
func (s *Store) SetActiveConversation(user *types.UserSummary) {
	s.mu.Lock()
	if user == nil {
		s.activeConversation = nil
	} else {
		u := *user
		s.activeConversation = &u
	}
	s.mu.Unlock()
	s.changed()
}

// AddMessage appends msg to the room's list in call order. Duplicates are not
// rejected here; see AddMessageIfAbsent.
func (s *Store) AddMessage(roomID types.RoomIdType, msg types.ChatMessage) {
	s.mu.Lock()
	s.messages[roomID] = append(s.messages[roomID], msg)
	s.mu.Unlock()
	s.changed()
}

// AddDirectMessage appends msg to the conversation with userID in call order.
func (s *Store) AddDirectMessage(userID types.UserIdType, msg types.DirectMessage) {
	s.mu.Lock()
	s.directMessages[userID] = append(s.directMessages[userID], msg)
	s.mu.Unlock()
	s.changed()
}

// AddMessageIfAbsent appends msg unless the room's list already holds its id. The
// check and the append happen under one lock.
func (s *Store) AddMessageIfAbsent(roomID types.RoomIdType, msg types.ChatMessage) bool {
	s.mu.Lock()
	if slices.ContainsFunc(s.messages[roomID], func(m types.ChatMessage) bool { return m.ID == msg.ID }) {
		s.mu.Unlock()
		return false
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	s.mu.Unlock()
	s.changed()
	return true
}

// AddDirectMessageIfAbsent is AddMessageIfAbsent for a direct conversation.
func (s *Store) AddDirectMessageIfAbsent(userID types.UserIdType, msg types.DirectMessage) bool {
	s.mu.Lock()
	if slices.ContainsFunc(s.directMessages[userID], func(m types.DirectMessage) bool { return m.ID == msg.ID }) {
		s.mu.Unlock()
		return false
	}
	s.directMessages[userID] = append(s.directMessages[userID], msg)
	s.mu.Unlock()
	s.changed()
	return true
}

// MergeHistory adds fetched room history, skipping ids already present, and orders the
// combined list by sent time then id.
func (s *Store) MergeHistory(roomID types.RoomIdType, history []types.ChatMessage) {
	s.mu.Lock()
	merged := mergeByID(s.messages[roomID], history, func(m types.ChatMessage) types.MessageIdType { return m.ID })
	slices.SortStableFunc(merged, func(a, b types.ChatMessage) int {
		return compareMessages(a.SentAt, a.ID, b.SentAt, b.ID)
	})
	s.messages[roomID] = merged
	s.mu.Unlock()
	s.changed()
}

// MergeDirectHistory is MergeHistory for a direct conversation.
func (s *Store) MergeDirectHistory(userID types.UserIdType, history []types.DirectMessage) {
	s.mu.Lock()
	merged := mergeByID(s.directMessages[userID], history, func(m types.DirectMessage) types.MessageIdType { return m.ID })
	slices.SortStableFunc(merged, func(a, b types.DirectMessage) int {
		return compareMessages(a.SentAt, a.ID, b.SentAt, b.ID)
	})
	s.directMessages[userID] = merged
	s.mu.Unlock()
	s.changed()
}

// SetUserTyping adds or removes userID from the typing set of roomID.
func (s *Store) SetUserTyping(roomID types.RoomIdType, userID types.UserIdType, isTyping bool) {
	s.mu.Lock()
	users, ok := s.typing[roomID]
	if isTyping {
		if !ok {
			users = set.New[types.UserIdType]()
			s.typing[roomID] = users
		}
		users.Insert(userID)
	} else if ok {
		users.Delete(userID)
		if users.Len() == 0 {
			delete(s.typing, roomID)
		}
	}
	s.mu.Unlock()
	s.changed()
}

// SetUserOnline adds or removes userID from the online set.
func (s *Store) SetUserOnline(userID types.UserIdType, isOnline bool) {
	s.mu.Lock()
	if isOnline {
		s.online.Insert(userID)
	} else {
		s.online.Delete(userID)
	}
	metrics.OnlineUsers.Set(float64(s.online.Len()))
	s.mu.Unlock()
	s.changed()
}

// ClearChat resets all state to empty.
func (s *Store) ClearChat() {
	s.mu.Lock()
	s.activeRoom = nil
	s.activeConversation = nil
	s.messages = make(map[types.RoomIdType][]types.ChatMessage)
	s.directMessages = make(map[types.UserIdType][]types.DirectMessage)
	s.typing = make(map[types.RoomIdType]set.Set[types.UserIdType])
	s.online = set.New[types.UserIdType]()
	metrics.OnlineUsers.Set(0)
	s.mu.Unlock()
	s.changed()
}

// --- Selectors ---

func (s *Store) ActiveRoom() *types.ChatRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeRoom == nil {
		return nil
	}
	r := *s.activeRoom
	return &r
}

func (s *Store) ActiveConversation() *types.UserSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeConversation == nil {
		return nil
	}
	u := *s.activeConversation
	return &u
}

// Messages returns a copy of the room's message list.
func (s *Store) Messages(roomID types.RoomIdType) []types.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages[roomID])
}

// DirectMessages returns a copy of the conversation with userID.
func (s *Store) DirectMessages(userID types.UserIdType) []types.DirectMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.directMessages[userID])
}

// HasMessage reports whether the room's list already holds a message with id.
func (s *Store) HasMessage(roomID types.RoomIdType, id types.MessageIdType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.messages[roomID], func(m types.ChatMessage) bool { return m.ID == id })
}

// HasDirectMessage reports whether the conversation already holds a message with id.
func (s *Store) HasDirectMessage(userID types.UserIdType, id types.MessageIdType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.directMessages[userID], func(m types.DirectMessage) bool { return m.ID == id })
}

// TypingUsers returns the users typing in roomID, sorted.
func (s *Store) TypingUsers(roomID types.RoomIdType) []types.UserIdType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users, ok := s.typing[roomID]
	if !ok {
		return nil
	}
	return users.SortedList()
}

// IsUserTyping reports whether userID is in the typing set of roomID.
func (s *Store) IsUserTyping(roomID types.RoomIdType, userID types.UserIdType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users, ok := s.typing[roomID]
	return ok && users.Has(userID)
}

func (s *Store) IsUserOnline(userID types.UserIdType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online.Has(userID)
}

// OnlineUsers returns the online set, sorted.
func (s *Store) OnlineUsers() []types.UserIdType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online.SortedList()
}

// --- Change notification ---

// Subscribe registers fn to run after every action. The returned func unsubscribes.
func (s *Store) Subscribe(fn func()) func() {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) changed() {
	s.listenersMu.Lock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		notifyListener(fn)
	}
}

// notifyListener runs fn, recovering a panic so the remaining listeners and the caller
// still run.
func notifyListener(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.HandlerPanics.WithLabelValues("store").Inc()
			logging.Error(context.Background(), "Recovered from panic in store listener",
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	fn()
}

func mergeByID[M any](current, incoming []M, id func(M) types.MessageIdType) []M {
	seen := set.New[types.MessageIdType]()
	merged := make([]M, 0, len(current)+len(incoming))
	for _, m := range current {
		if !seen.Has(id(m)) {
			seen.Insert(id(m))
			merged = append(merged, m)
		}
	}
	for _, m := range incoming {
		if !seen.Has(id(m)) {
			seen.Insert(id(m))
			merged = append(merged, m)
		}
	}
	return merged
}

func compareMessages(aSent time.Time, aID types.MessageIdType, bSent time.Time, bID types.MessageIdType) int {
	switch {
	case types.MessageBefore(aSent, aID, bSent, bID):
		return -1
	case types.MessageBefore(bSent, bID, aSent, aID):
		return 1
	default:
		return 0
	}
}
