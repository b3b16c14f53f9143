package session

import (
	"context"
	"errors"
	"testing"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/chaterrors"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/config"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/ratelimit"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, messages, typing string) *ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	l, err := ratelimit.NewLimiter(&config.Config{
		RateLimitMessages: messages,
		RateLimitTyping:   typing,
		RateLimitStatus:   "10-M",
	}, rc)
	require.NoError(t, err)
	return l
}

func TestSendMessage_RoomAndDirectMethods(t *testing.T) {
	f := newFixture(t, Options{})
	hub := f.connect(t)
	ctx := context.Background()

	require.NoError(t, f.session.SendMessage(ctx, types.SendMessageRequest{RoomID: "lobby", Content: "gg"}))
	require.NoError(t, f.session.SendMessage(ctx, types.SendMessageRequest{ReceiverID: "u2", Content: "hi", MessageType: types.MessageTypeImage}))

	calls := hub.recorded()
	require.Len(t, calls, 2)

	assert.Equal(t, types.HubMethodSendMessage, calls[0].method)
	require.Len(t, calls[0].args, 1)
	assert.Equal(t, types.SendMessageRequest{RoomID: "lobby", Content: "gg", MessageType: types.MessageTypeText}, calls[0].args[0])
	assert.False(t, calls[0].send)

	assert.Equal(t, types.HubMethodSendDirectMessage, calls[1].method)
	assert.Equal(t, types.SendMessageRequest{ReceiverID: "u2", Content: "hi", MessageType: types.MessageTypeImage}, calls[1].args[0])
}

func TestSendMessage_NoLocalEcho(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect(t)

	require.NoError(t, f.session.SendMessage(context.Background(), types.SendMessageRequest{RoomID: "lobby", Content: "gg"}))

	assert.Empty(t, f.session.Store().Messages("lobby"))
}

func TestSendMessage_NotConnected(t *testing.T) {
	f := newFixture(t, Options{})
	hub := f.connect(t)
	require.NoError(t, f.session.Disconnect(context.Background()))

	err := f.session.SendMessage(context.Background(), types.SendMessageRequest{RoomID: "lobby", Content: "gg"})

	require.ErrorIs(t, err, chaterrors.ErrNotConnected)
	category, _ := chaterrors.CategoryOf(err)
	assert.Equal(t, chaterrors.CategoryMessageSend, category)
	assert.Empty(t, hub.recorded())
	assert.Equal(t, "Message not sent: you are offline.", f.nextNote(t).Message)
}

func TestSendMessage_NotConnectedWhileReconnecting(t *testing.T) {
	f := newFixture(t, Options{})
	hub := f.connect(t)
	hub.dropLink(errors.New("blip"))

	err := f.session.SendMessage(context.Background(), types.SendMessageRequest{RoomID: "lobby", Content: "gg"})

	require.ErrorIs(t, err, chaterrors.ErrNotConnected)
	assert.Empty(t, hub.recorded())
}

func TestSendMessage_InvalidRequest(t *testing.T) {
	f := newFixture(t, Options{})
	hub := f.connect(t)

	tests := []struct {
		name string
		req  types.SendMessageRequest
	}{
		{"no target", types.SendMessageRequest{Content: "x"}},
		{"both targets", types.SendMessageRequest{RoomID: "r", ReceiverID: "u", Content: "x"}},
		{"empty", types.SendMessageRequest{RoomID: "r"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.session.SendMessage(context.Background(), tt.req)
			require.ErrorIs(t, err, chaterrors.ErrInvalidRequest)
			category, _ := chaterrors.CategoryOf(err)
			assert.Equal(t, chaterrors.CategoryValidation, category)
			f.nextNote(t)
		})
	}
	assert.Empty(t, hub.recorded())
}

func TestSendMessage_HubFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.hubs.configure = func(h *fakeHub) { h.invokeErr = errors.New("hub rejected message") }
	f.connect(t)

	err := f.session.SendMessage(context.Background(), types.SendMessageRequest{RoomID: "lobby", Content: "gg"})

	require.Error(t, err)
	category, _ := chaterrors.CategoryOf(err)
	assert.Equal(t, chaterrors.CategoryMessageSend, category)

	note := f.nextNote(t)
	assert.Equal(t, "Message could not be sent.", note.Message)
	assert.Same(t, err, note.Err)
}

func TestSendMessage_RateLimited(t *testing.T) {
	f := newFixture(t, Options{Limiter: newTestLimiter(t, "1-M", "10-M")})
	hub := f.connect(t)
	ctx := context.Background()
	req := types.SendMessageRequest{RoomID: "lobby", Content: "gg"}

	require.NoError(t, f.session.SendMessage(ctx, req))
	err := f.session.SendMessage(ctx, req)

	require.ErrorIs(t, err, chaterrors.ErrRateLimited)
	assert.Len(t, hub.recorded(), 1)
}

func TestJoinAndLeaveRoom(t *testing.T) {
	f := newFixture(t, Options{})
	hub := f.connect(t)
	ctx := context.Background()

	require.NoError(t, f.session.JoinRoom(ctx, "speedrun"))
	require.NoError(t, f.session.LeaveRoom(ctx, "speedrun"))

	calls := hub.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, call{method: types.HubMethodJoinRoom, args: []any{types.RoomIdType("speedrun")}}, calls[0])
	assert.Equal(t, call{method: types.HubMethodLeaveRoom, args: []any{types.RoomIdType("speedrun")}}, calls[1])
	assert.Nil(t, f.session.Store().ActiveRoom(), "joining does not select the room")
}

func TestJoinRoom_Failures(t *testing.T) {
	f := newFixture(t, Options{})

	err := f.session.JoinRoom(context.Background(), "")
	require.ErrorIs(t, err, chaterrors.ErrInvalidRequest)
	f.nextNote(t)

	err = f.session.JoinRoom(context.Background(), "speedrun")
	require.ErrorIs(t, err, chaterrors.ErrNotConnected)
	category, _ := chaterrors.CategoryOf(err)
	assert.Equal(t, chaterrors.CategoryRoom, category)
	assert.Equal(t, "Could not update your room membership.", f.nextNote(t).Message)
}

func TestSendTypingStatus_FireAndForget(t *testing.T) {
	f := newFixture(t, Options{})
	hub := f.connect(t)

	f.session.SendTypingStatus(context.Background(), "lobby", true)
	f.session.SendTypingStatus(context.Background(), "lobby", false)

	calls := hub.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, call{method: types.HubMethodSendTypingStatus, args: []any{types.RoomIdType("lobby"), true}, send: true}, calls[0])
	assert.Equal(t, call{method: types.HubMethodSendTypingStatus, args: []any{types.RoomIdType("lobby"), false}, send: true}, calls[1])
}

func TestSendTypingStatus_FailuresAreNotSurfaced(t *testing.T) {
	f := newFixture(t, Options{})

	f.session.SendTypingStatus(context.Background(), "lobby", true)

	f.assertNoNote(t)
}

func TestSendTypingStatus_ThrottlesStartedPerRoom(t *testing.T) {
	f := newFixture(t, Options{Limiter: newTestLimiter(t, "10-M", "1-M")})
	hub := f.connect(t)
	ctx := context.Background()

	f.session.SendTypingStatus(ctx, "lobby", true)
	f.session.SendTypingStatus(ctx, "lobby", true)
	f.session.SendTypingStatus(ctx, "lobby", false)
	f.session.SendTypingStatus(ctx, "arena", true)

	var got []any
	for _, c := range hub.recorded() {
		got = append(got, c.args)
	}
	assert.Equal(t, []any{
		[]any{types.RoomIdType("lobby"), true},
		[]any{types.RoomIdType("lobby"), false},
		[]any{types.RoomIdType("arena"), true},
	}, got)
	f.assertNoNote(t)
}
