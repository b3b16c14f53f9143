package types

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"
)

// --- Core Domain Types ---

// UserIdType identifies a platform user.
type UserIdType string

// RoomIdType identifies a chat room.
type RoomIdType string

// MessageIdType is the server-assigned message id. It breaks ties between
// messages sent in the same instant.
type MessageIdType int64

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// MaxContentLength bounds message content, in characters.
const MaxContentLength = 1000

// ConnectionState is the lifecycle state of the hub connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// --- Hub contract names ---
// These must match the remote hub exactly.

const (
	// Inbound
	HubEventReceiveMessage       = "ReceiveMessage"
	HubEventReceiveDirectMessage = "ReceiveDirectMessage"
	HubEventUserTyping           = "UserTyping"
	HubEventUserOnlineStatus     = "UserOnlineStatusChanged"

	// Outbound
	HubMethodSendMessage       = "SendMessage"
	HubMethodSendDirectMessage = "SendDirectMessage"
	HubMethodJoinRoom          = "JoinRoom"
	HubMethodLeaveRoom         = "LeaveRoom"
	HubMethodSendTypingStatus  = "SendTypingStatus"
)

// UserSummary is the public profile fragment embedded in rooms and messages.
type UserSummary struct {
	ID        UserIdType `json:"id"`
	Username  string     `json:"username"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
}

// ChatRoom is read-only from the client's perspective.
type ChatRoom struct {
	ID          RoomIdType  `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	ImageURL    string      `json:"imageUrl,omitempty"`
	MemberCount int         `json:"memberCount"`
	CreatedBy   UserSummary `json:"createdBy"`
	IsPrivate   bool        `json:"isPrivate"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// ChatMessage is a message broadcast to a room.
type ChatMessage struct {
	ID          MessageIdType `json:"id"`
	RoomID      RoomIdType    `json:"chatRoomId"`
	Sender      UserSummary   `json:"sender"`
	Content     string        `json:"content"`
	MessageType MessageType   `json:"messageType"`
	SentAt      time.Time     `json:"sentAt"`
	IsEdited    bool          `json:"isEdited"`
}

// DirectMessage is a one-to-one message.
type DirectMessage struct {
	ID          MessageIdType `json:"id"`
	Sender      UserSummary   `json:"sender"`
	Receiver    UserSummary   `json:"receiver"`
	Content     string        `json:"content"`
	MessageType MessageType   `json:"messageType"`
	SentAt      time.Time     `json:"sentAt"`
	IsEdited    bool          `json:"isEdited"`
	IsRead      bool          `json:"isRead"`
}

// Counterpart returns the other participant of the conversation as seen by self.
func (m DirectMessage) Counterpart(self UserIdType) UserIdType {
	if m.Sender.ID == self {
		return m.Receiver.ID
	}
	return m.Sender.ID
}

// TypingEvent reports a user starting or stopping to type in a room.
type TypingEvent struct {
	RoomID   RoomIdType `json:"roomId"`
	UserID   UserIdType `json:"userId"`
	IsTyping bool       `json:"isTyping"`
}

// PresenceEvent reports a user's online status change.
type PresenceEvent struct {
	UserID   UserIdType `json:"userId"`
	IsOnline bool       `json:"isOnline"`
}

// SendMessageRequest targets either a room or a single receiver, never both.
type SendMessageRequest struct {
	RoomID      RoomIdType  `json:"roomId,omitempty"`
	ReceiverID  UserIdType  `json:"receiverId,omitempty"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
}

var (
	errNoTarget       = errors.New("exactly one of room ID or receiver ID must be set")
	errEmptyContent   = errors.New("message content cannot be empty")
	errContentTooLong = errors.New("message content cannot exceed 1000 characters")
	errBadMessageType = errors.New("message type must be text or image")
)

// IsDirect reports whether the request is a direct message.
func (r SendMessageRequest) IsDirect() bool {
	return r.ReceiverID != ""
}

// Validate ensures the request is safe to send. An empty MessageType defaults to text.
func (r *SendMessageRequest) Validate() error {
	if (r.RoomID == "") == (r.ReceiverID == "") {
		return errNoTarget
	}
	if r.Content == "" {
		return errEmptyContent
	}
	if utf8.RuneCountInString(r.Content) > MaxContentLength {
		return errContentTooLong
	}
	switch r.MessageType {
	case "":
		r.MessageType = MessageTypeText
	case MessageTypeText, MessageTypeImage:
	default:
		return errBadMessageType
	}
	return nil
}

// MessageBefore orders messages by sent time, then by server id.
func MessageBefore(aSent time.Time, aID MessageIdType, bSent time.Time, bID MessageIdType) bool {
	if !aSent.Equal(bSent) {
		return aSent.Before(bSent)
	}
	return aID < bID
}

// --- Shared Interfaces ---

// TokenStore persists the bearer token under a single well-known key.
type TokenStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// HubHandler receives the raw arguments of an inbound hub invocation.
type HubHandler func(args []json.RawMessage)

// HubConnection is a persistent connection to the messaging hub.
// Handlers registered with On survive reconnects of the same instance.
type HubConnection interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Invoke(ctx context.Context, target string, args ...any) error
	Send(ctx context.Context, target string, args ...any) error
	On(target string, handler HubHandler)
	OnReconnecting(func(err error))
	OnReconnected(func())
	OnClosed(func(err error))
}
