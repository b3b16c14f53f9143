// Package session composes the chat client: the connection lifecycle controller, the
// inbound event wiring, the outbound action proxy and the chat state store, owned by a
// single ChatSession that is created on login and disposed on logout.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/auth"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/chaterrors"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/events"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/notify"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/ratelimit"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/store"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"go.uber.org/zap"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxRetryDelay  = 30 * time.Second
	DefaultTypingTimeout  = 3 * time.Second
)

// HistorySource loads message history over the REST API.
type HistorySource interface {
	RoomMessages(ctx context.Context, roomID types.RoomIdType) ([]types.ChatMessage, error)
	DirectMessages(ctx context.Context, userID types.UserIdType) ([]types.DirectMessage, error)
}

// Options configures a ChatSession. Only HubFactory is required.
type Options struct {
	HubFactory     HubFactory
	Tokens         types.TokenStore
	Notifier       notify.Notifier
	Limiter        *ratelimit.Limiter
	History        HistorySource
	ConnectTimeout time.Duration
	MaxRetryDelay  time.Duration
	TypingTimeout  time.Duration
}

// ChatSession owns every chat component for one authenticated user.
type ChatSession struct {
	ctrl     *Controller
	proxy    *Proxy
	emitter  *events.Emitter
	store    *store.Store
	tokens   types.TokenStore
	notifier notify.Notifier
	history  HistorySource

	typingTimeout time.Duration
	timersMu      sync.Mutex
	typingTimers  map[typingKey]*time.Timer

	selfMu sync.RWMutex
	self   types.UserIdType
}

// New creates a disconnected session.
func New(opts Options) *ChatSession {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.MaxRetryDelay <= 0 {
		opts.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = DefaultTypingTimeout
	}
	if opts.Tokens == nil {
		opts.Tokens = auth.NewMemoryTokenStore("")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}

	s := &ChatSession{
		emitter:       events.NewEmitter(),
		store:         store.New(),
		tokens:        opts.Tokens,
		notifier:      opts.Notifier,
		history:       opts.History,
		typingTimeout: opts.TypingTimeout,
		typingTimers:  make(map[typingKey]*time.Timer),
	}
	s.ctrl = NewController(opts.HubFactory, s.emitter, NewBackoff(opts.MaxRetryDelay), opts.ConnectTimeout, s.registerHandlers)
	s.ctrl.OnLost(func(err error) { s.report(context.Background(), err) })
	s.proxy = NewProxy(s.ctrl, opts.Limiter, func() string { return string(s.Self()) })
	return s
}

func (s *ChatSession) Store() *store.Store {
	return s.store
}

func (s *ChatSession) Events() *events.Emitter {
	return s.emitter
}

func (s *ChatSession) State() types.ConnectionState {
	return s.ctrl.State()
}

// Self is the authenticated user's id, known after Init.
func (s *ChatSession) Self() types.UserIdType {
	s.selfMu.RLock()
	defer s.selfMu.RUnlock()
	return s.self
}

// Init starts the session with the stored token. Expired tokens are cleared and
// reported as authentication failures without dialing the hub.
func (s *ChatSession) Init(ctx context.Context) error {
	const op = "Init"
	token, err := s.tokens.Get(ctx)
	if err != nil {
		return s.fail(ctx, chaterrors.New(chaterrors.CategoryAuthentication, op, err))
	}
	if token == "" {
		return s.fail(ctx, chaterrors.New(chaterrors.CategoryAuthentication, op, chaterrors.ErrAuth))
	}

	claims, err := auth.CheckToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			if clearErr := s.tokens.Clear(ctx); clearErr != nil {
				logging.Warn(ctx, "Failed to clear expired token", zap.Error(clearErr))
			}
		}
		return s.fail(ctx, chaterrors.New(chaterrors.CategoryAuthentication, op, errors.Join(chaterrors.ErrAuth, err)))
	}

	s.selfMu.Lock()
	s.self = types.UserIdType(claims.UserID)
	s.selfMu.Unlock()

	ctx = logging.WithUser(ctx, claims.UserID)
	return s.Connect(ctx, token)
}

// Connect opens the hub connection with an explicit token.
func (s *ChatSession) Connect(ctx context.Context, token string) error {
	return s.fail(ctx, s.ctrl.Connect(ctx, token))
}

// Disconnect closes the hub connection but keeps the chat state.
func (s *ChatSession) Disconnect(ctx context.Context) error {
	return s.fail(ctx, s.ctrl.Disconnect(ctx))
}

// Dispose tears the session down on logout: disconnect, clear state, drop subscribers.
func (s *ChatSession) Dispose(ctx context.Context) error {
	err := s.ctrl.Disconnect(ctx)
	s.stopTypingTimers()
	s.store.ClearChat()
	s.emitter.Clear()

	s.selfMu.Lock()
	s.self = ""
	s.selfMu.Unlock()

	if err != nil {
		logging.Warn(ctx, "Error while disposing chat session", zap.Error(err))
	}
	return err
}

func (s *ChatSession) SendMessage(ctx context.Context, req types.SendMessageRequest) error {
	return s.fail(ctx, s.proxy.SendMessage(ctx, req))
}

func (s *ChatSession) JoinRoom(ctx context.Context, roomID types.RoomIdType) error {
	return s.fail(ctx, s.proxy.JoinRoom(ctx, roomID))
}

func (s *ChatSession) LeaveRoom(ctx context.Context, roomID types.RoomIdType) error {
	return s.fail(ctx, s.proxy.LeaveRoom(ctx, roomID))
}

// SendTypingStatus never fails from the caller's point of view; problems are logged.
func (s *ChatSession) SendTypingStatus(ctx context.Context, roomID types.RoomIdType, isTyping bool) {
	s.report(ctx, s.proxy.SendTypingStatus(ctx, roomID, isTyping))
}

// OpenRoom joins room, selects it and merges its history when a history source is set.
func (s *ChatSession) OpenRoom(ctx context.Context, room types.ChatRoom) error {
	ctx = logging.WithRoom(ctx, string(room.ID))
	if err := s.JoinRoom(ctx, room.ID); err != nil {
		return err
	}
	s.store.SetActiveRoom(&room)
	return s.LoadRoomHistory(ctx, room.ID)
}

// OpenConversation selects a direct conversation and merges its history.
func (s *ChatSession) OpenConversation(ctx context.Context, user types.UserSummary) error {
	s.store.SetActiveConversation(&user)
	return s.LoadDirectHistory(ctx, user.ID)
}

// LoadRoomHistory merges the room's history into the store. The history source reports
// its own failures, so errors are only returned. History failures are connection
// failures in both loaders.
func (s *ChatSession) LoadRoomHistory(ctx context.Context, roomID types.RoomIdType) error {
	if s.history == nil {
		return nil
	}
	msgs, err := s.history.RoomMessages(ctx, roomID)
	if err != nil {
		return chaterrors.Translate(chaterrors.CategoryConnection, "LoadRoomHistory", err)
	}
	s.store.MergeHistory(roomID, msgs)
	return nil
}

func (s *ChatSession) LoadDirectHistory(ctx context.Context, userID types.UserIdType) error {
	if s.history == nil {
		return nil
	}
	msgs, err := s.history.DirectMessages(ctx, userID)
	if err != nil {
		return chaterrors.Translate(chaterrors.CategoryConnection, "LoadDirectHistory", err)
	}
	s.store.MergeDirectHistory(userID, msgs)
	return nil
}

// fail reports err to the notification sink and returns it unchanged.
func (s *ChatSession) fail(ctx context.Context, err error) error {
	s.report(ctx, err)
	return err
}

func (s *ChatSession) report(ctx context.Context, err error) {
	if err != nil {
		notify.Report(ctx, s.notifier, err)
	}
}
