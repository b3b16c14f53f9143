package session

import (
	"context"
	"fmt"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/chaterrors"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/metrics"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/ratelimit"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/AaronAPerez/game-wrld/chat/internal/v1/session"

// Proxy turns local chat intents into hub invocations. It never mutates the store;
// confirmed messages arrive back through the inbound handlers.
type Proxy struct {
	ctrl    *Controller
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	rateKey func() string
}

// NewProxy creates a proxy over ctrl. limiter may be nil to disable throttling.
// rateKey identifies the sender for message throttling.
func NewProxy(ctrl *Controller, limiter *ratelimit.Limiter, rateKey func() string) *Proxy {
	if rateKey == nil {
		rateKey = func() string { return "self" }
	}
	return &Proxy{
		ctrl:    ctrl,
		limiter: limiter,
		tracer:  otel.Tracer(tracerName),
		rateKey: rateKey,
	}
}

// SendMessage sends a room or direct message and waits for the hub to acknowledge it.
func (p *Proxy) SendMessage(ctx context.Context, req types.SendMessageRequest) error {
	const op = "SendMessage"
	if err := req.Validate(); err != nil {
		return chaterrors.New(chaterrors.CategoryValidation, op, fmt.Errorf("%w: %v", chaterrors.ErrInvalidRequest, err))
	}

	method := types.HubMethodSendMessage
	if req.IsDirect() {
		method = types.HubMethodSendDirectMessage
	}

	if p.limiter != nil && !p.limiter.AllowMessage(ctx, p.rateKey()) {
		metrics.HubInvocations.WithLabelValues(method, "throttled").Inc()
		return chaterrors.New(chaterrors.CategoryMessageSend, op, chaterrors.ErrRateLimited)
	}

	return p.invoke(ctx, chaterrors.CategoryMessageSend, op, method,
		[]attribute.KeyValue{
			attribute.String("chat.room_id", string(req.RoomID)),
			attribute.String("chat.receiver_id", string(req.ReceiverID)),
			attribute.String("chat.message_type", string(req.MessageType)),
		},
		req)
}

// JoinRoom subscribes the connection to a room's broadcasts. Selecting the room in the
// store is left to the caller.
func (p *Proxy) JoinRoom(ctx context.Context, roomID types.RoomIdType) error {
	return p.roomAction(ctx, "JoinRoom", types.HubMethodJoinRoom, roomID)
}

// LeaveRoom unsubscribes the connection from a room's broadcasts.
func (p *Proxy) LeaveRoom(ctx context.Context, roomID types.RoomIdType) error {
	return p.roomAction(ctx, "LeaveRoom", types.HubMethodLeaveRoom, roomID)
}

func (p *Proxy) roomAction(ctx context.Context, op, method string, roomID types.RoomIdType) error {
	if roomID == "" {
		return chaterrors.New(chaterrors.CategoryValidation, op, fmt.Errorf("%w: room ID is required", chaterrors.ErrInvalidRequest))
	}
	return p.invoke(ctx, chaterrors.CategoryRoom, op, method,
		[]attribute.KeyValue{attribute.String("chat.room_id", string(roomID))},
		roomID)
}

// SendTypingStatus is best-effort. "Started typing" signals over the per-room rate are
// dropped silently; "stopped" signals always go out.
func (p *Proxy) SendTypingStatus(ctx context.Context, roomID types.RoomIdType, isTyping bool) error {
	const op = "SendTypingStatus"
	method := types.HubMethodSendTypingStatus
	if roomID == "" {
		return chaterrors.New(chaterrors.CategoryTyping, op, fmt.Errorf("%w: room ID is required", chaterrors.ErrInvalidRequest))
	}

	if isTyping && p.limiter != nil && !p.limiter.AllowTyping(ctx, string(roomID)) {
		metrics.HubInvocations.WithLabelValues(method, "throttled").Inc()
		return nil
	}

	conn, ok := p.ctrl.connected()
	if !ok {
		metrics.HubInvocations.WithLabelValues(method, "not_connected").Inc()
		return chaterrors.New(chaterrors.CategoryTyping, op, chaterrors.ErrNotConnected)
	}

	if err := conn.Send(ctx, method, roomID, isTyping); err != nil {
		metrics.HubInvocations.WithLabelValues(method, "error").Inc()
		return chaterrors.Translate(chaterrors.CategoryTyping, op, err)
	}
	metrics.HubInvocations.WithLabelValues(method, "success").Inc()
	return nil
}

// invoke checks connectivity immediately before calling the hub and translates failures.
func (p *Proxy) invoke(ctx context.Context, category chaterrors.Category, op, method string, attrs []attribute.KeyValue, args ...any) error {
	ctx, span := p.tracer.Start(ctx, "hub."+method, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
	defer span.End()

	conn, ok := p.ctrl.connected()
	if !ok {
		metrics.HubInvocations.WithLabelValues(method, "not_connected").Inc()
		span.SetStatus(codes.Error, "not connected")
		return chaterrors.New(category, op, chaterrors.ErrNotConnected)
	}

	start := time.Now()
	err := conn.Invoke(ctx, method, args...)
	metrics.InvocationDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.HubInvocations.WithLabelValues(method, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.Warn(ctx, "Hub invocation failed", zap.String("method", method), zap.Error(err))
		return chaterrors.Translate(category, op, err)
	}

	metrics.HubInvocations.WithLabelValues(method, "success").Inc()
	return nil
}
