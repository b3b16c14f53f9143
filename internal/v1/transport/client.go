package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/metrics"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
}

var (
	ErrNotActive      = errors.New("hub connection is not active")
	ErrStopped        = errors.New("hub connection was stopped")
	ErrConnectionLost = errors.New("hub connection lost")
	ErrUnauthorized   = errors.New("hub rejected the access token")
)

// RetryPolicy decides how long to wait before reconnect attempt number attempt
// (zero-based). Returning false gives up and closes the connection.
type RetryPolicy interface {
	NextRetryDelay(attempt int) (time.Duration, bool)
}

// TokenFactory supplies the bearer token for every dial, including reconnects.
type TokenFactory func(ctx context.Context) (string, error)

// Options configures a HubClient.
type Options struct {
	URL               string
	AccessToken       TokenFactory
	RetryPolicy       RetryPolicy // nil disables automatic reconnect
	KeepAliveInterval time.Duration
	ServerTimeout     time.Duration
	HandshakeTimeout  time.Duration
	WriteWait         time.Duration
	SendBuffer        int
	Dialer            *websocket.Dialer
}

const (
	defaultKeepAlive        = 15 * time.Second
	defaultServerTimeout    = 30 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteWait        = 10 * time.Second
	defaultSendBuffer       = 64
)

var pingRecord = frame([]byte(`{"type":6}`))

// link is one physical websocket. A HubClient replaces its link on every reconnect.
type link struct {
	conn      wsConnection
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newLink(conn wsConnection, buffer int) *link {
	return &link{conn: conn, send: make(chan []byte, buffer), done: make(chan struct{})}
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// HubClient is a persistent hub connection that survives reconnects. It implements
// types.HubConnection.
type HubClient struct {
	id     string
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	link         *link
	started      bool
	stopped      bool
	wg           sync.WaitGroup
	reconnecting []func(error)
	reconnected  []func()
	closed       []func(error)
	events       *dispatcher

	handlersMu sync.RWMutex
	handlers   map[string][]types.HubHandler

	pendingMu sync.Mutex
	pending   map[string]chan inboundMessage
}

var _ types.HubConnection = (*HubClient)(nil)

// NewHubClient creates a client for the hub at opts.URL. Nothing is dialed until Start.
func NewHubClient(opts Options) (*HubClient, error) {
	if opts.URL == "" {
		return nil, errors.New("hub URL is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid hub URL: %w", err)
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = defaultKeepAlive
	}
	if opts.ServerTimeout <= 0 {
		opts.ServerTimeout = defaultServerTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HubClient{
		id:       uuid.NewString(),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string][]types.HubHandler),
		pending:  make(map[string]chan inboundMessage),
	}, nil
}

func (c *HubClient) ID() string {
	return c.id
}

// On registers a handler for an inbound hub method. Handlers and lifecycle callbacks run
// one at a time on a dispatch goroutine in arrival order; they may call Invoke or Stop.
func (c *HubClient) On(target string, handler types.HubHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[target] = append(c.handlers[target], handler)
}

func (c *HubClient) OnReconnecting(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnecting = append(c.reconnecting, fn)
}

func (c *HubClient) OnReconnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnected = append(c.reconnected, fn)
}

// OnClosed callbacks run once when the client stops for good, either through Stop
// or because reconnecting gave up. err is nil for Stop.
func (c *HubClient) OnClosed(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, fn)
}

// Start dials the hub and performs the protocol handshake. Calling Start on a running
// client is a no-op; a stopped client cannot be restarted.
func (c *HubClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	if c.events == nil {
		c.events = newDispatcher()
	}
	c.mu.Unlock()

	l, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}
	if err := c.attach(l); err != nil {
		return err
	}

	logging.Info(ctx, "Connected to chat hub", zap.String("connectionId", c.id))
	return nil
}

// Stop closes the connection and cancels any reconnect in progress. It waits for the
// pumps to exit or ctx to expire, then queues the OnClosed callbacks.
func (c *HubClient) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.cancel()
	l := c.link
	c.link = nil
	callbacks := slices.Clone(c.closed)
	c.mu.Unlock()

	if l != nil {
		l.close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.finish(callbacks, nil)
	logging.Info(ctx, "Hub connection stopped", zap.String("connectionId", c.id))
	return err
}

// Invoke calls a hub method and waits for its completion.
func (c *HubClient) Invoke(ctx context.Context, target string, args ...any) error {
	l := c.current()
	if l == nil {
		return ErrNotActive
	}

	id := uuid.NewString()
	ch := make(chan inboundMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := encode(outboundMessage{Type: messageInvocation, InvocationID: id, Target: target, Arguments: argumentList(args)})
	if err != nil {
		return fmt.Errorf("encode %s: %w", target, err)
	}
	if err := c.enqueue(ctx, l, data); err != nil {
		return err
	}

	select {
	case msg := <-ch:
		if msg.Error != "" {
			return &HubError{Target: target, Message: msg.Error}
		}
		return nil
	case <-l.done:
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send calls a hub method without waiting for a result.
func (c *HubClient) Send(ctx context.Context, target string, args ...any) error {
	l := c.current()
	if l == nil {
		return ErrNotActive
	}
	data, err := encode(outboundMessage{Type: messageInvocation, Target: target, Arguments: argumentList(args)})
	if err != nil {
		return fmt.Errorf("encode %s: %w", target, err)
	}
	return c.enqueue(ctx, l, data)
}

func argumentList(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

func (c *HubClient) current() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func (c *HubClient) enqueue(ctx context.Context, l *link, data []byte) error {
	select {
	case l.send <- data:
		return nil
	case <-l.done:
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial opens a websocket and completes the hub handshake.
func (c *HubClient) dial(ctx context.Context) (*link, error) {
	token := ""
	if c.opts.AccessToken != nil {
		t, err := c.opts.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("access token: %w", err)
		}
		token = t
	}

	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid hub URL: %w", err)
	}
	header := http.Header{}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.opts.Dialer.DialContext(dialCtx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	if err := c.handshake(dialCtx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newLink(conn, c.opts.SendBuffer), nil
}

func (c *HubClient) handshake(ctx context.Context, conn wsConnection) error {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame(handshakeRequest)); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if err := parseHandshake(payload); err != nil {
		return err
	}
	return conn.SetReadDeadline(time.Now().Add(c.opts.ServerTimeout))
}

// attach installs l as the active link and starts its pumps.
func (c *HubClient) attach(l *link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		_ = l.conn.Close()
		return ErrStopped
	}
	c.link = l
	c.wg.Add(2)
	go c.writePump(l)
	go c.readPump(l)
	return nil
}

// readPump processes inbound records until the socket fails or the hub closes it.
func (c *HubClient) readPump(l *link) {
	defer c.wg.Done()

	var cause error
	allowReconnect := true
	for {
		_, payload, err := l.conn.ReadMessage()
		if err != nil {
			cause = err
			break
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(c.opts.ServerTimeout))

		closeErr, allow, closing := c.handleRecords(payload)
		if closing {
			cause = closeErr
			allowReconnect = allow
			break
		}
	}

	l.close()
	c.linkLost(l, cause, allowReconnect)
}

func (c *HubClient) handleRecords(payload []byte) (closeErr error, allowReconnect bool, closing bool) {
	for _, record := range splitRecords(payload) {
		var msg inboundMessage
		if err := json.Unmarshal(record, &msg); err != nil {
			logging.Warn(c.ctx, "Failed to decode hub record", zap.String("connectionId", c.id), zap.Error(err))
			continue
		}

		switch msg.Type {
		case messageInvocation:
			c.dispatch(msg)
		case messageCompletion:
			c.complete(msg)
		case messagePing:
		case messageClose:
			closeErr = errors.New("server closed the connection")
			if msg.Error != "" {
				closeErr = fmt.Errorf("server closed the connection: %s", msg.Error)
			}
			return closeErr, msg.AllowReconnect, true
		default:
			logging.Debug(c.ctx, "Ignoring hub record", zap.Int("type", msg.Type))
		}
	}
	return nil, false, false
}

func (c *HubClient) dispatch(msg inboundMessage) {
	c.handlersMu.RLock()
	handlers := slices.Clone(c.handlers[msg.Target])
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		logging.Debug(c.ctx, "No handler for hub method", zap.String("target", msg.Target))
		return
	}
	c.post(func() {
		for _, h := range handlers {
			c.invokeHandler(msg.Target, h, msg.Arguments)
		}
	})
}

func (c *HubClient) invokeHandler(target string, h types.HubHandler, args []json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(c.ctx, "Recovered from panic in hub handler", zap.String("target", target), zap.Any("panic", r))
		}
	}()
	h(args)
}

func (c *HubClient) complete(msg inboundMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.InvocationID]
	delete(c.pending, msg.InvocationID)
	c.pendingMu.Unlock()

	if !ok {
		logging.Debug(c.ctx, "Completion for unknown invocation", zap.String("invocationId", msg.InvocationID))
		return
	}
	ch <- msg
}

func (c *HubClient) writePump(l *link) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer func() {
		ticker.Stop()
		_ = l.conn.Close()
	}()

	for {
		select {
		case <-l.done:
			_ = l.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			_ = l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-l.send:
			if err := c.write(l, data); err != nil {
				logging.Warn(c.ctx, "Error writing to hub", zap.String("connectionId", c.id), zap.Error(err))
				l.close()
				return
			}
		case <-ticker.C:
			if err := c.write(l, pingRecord); err != nil {
				l.close()
				return
			}
		}
	}
}

func (c *HubClient) write(l *link, data []byte) error {
	_ = l.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// linkLost reacts to the active link dropping: reconnect when allowed, otherwise close.
func (c *HubClient) linkLost(l *link, cause error, allowReconnect bool) {
	c.mu.Lock()
	if c.link != l || c.stopped {
		c.mu.Unlock()
		return
	}
	c.link = nil

	if c.opts.RetryPolicy == nil || !allowReconnect {
		c.mu.Unlock()
		logging.Warn(c.ctx, "Hub connection closed", zap.String("connectionId", c.id), zap.Error(cause))
		c.giveUp(cause)
		return
	}

	c.wg.Add(1)
	go c.reconnect(cause)
	c.mu.Unlock()
}

func (c *HubClient) reconnect(cause error) {
	defer c.wg.Done()

	c.mu.Lock()
	callbacks := slices.Clone(c.reconnecting)
	c.mu.Unlock()
	logging.Warn(c.ctx, "Hub connection lost, reconnecting", zap.String("connectionId", c.id), zap.Error(cause))
	lost := cause
	c.post(func() {
		for _, fn := range callbacks {
			fn(lost)
		}
	})

	for attempt := 0; ; attempt++ {
		delay, ok := c.opts.RetryPolicy.NextRetryDelay(attempt)
		if !ok {
			c.giveUp(cause)
			return
		}
		if !c.sleep(delay) {
			return
		}

		l, err := c.dial(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
			logging.Warn(c.ctx, "Reconnect attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			cause = err
			continue
		}
		if err := c.attach(l); err != nil {
			return
		}

		metrics.ReconnectAttempts.WithLabelValues("success").Inc()
		logging.Info(c.ctx, "Reconnected to chat hub", zap.String("connectionId", c.id), zap.Int("attempt", attempt+1))

		c.mu.Lock()
		done := slices.Clone(c.reconnected)
		c.mu.Unlock()
		c.post(func() {
			for _, fn := range done {
				fn()
			}
		})
		return
	}
}

// sleep waits for d unless the client is stopped first.
func (c *HubClient) sleep(d time.Duration) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// giveUp marks the client stopped and queues the OnClosed callbacks with cause.
func (c *HubClient) giveUp(cause error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.cancel()
	callbacks := slices.Clone(c.closed)
	c.mu.Unlock()

	c.finish(callbacks, cause)
}

// post queues fn behind earlier inbound work. Without a dispatcher nothing was ever
// started, so fn runs inline.
func (c *HubClient) post(fn func()) {
	c.mu.Lock()
	d := c.events
	c.mu.Unlock()
	if d == nil {
		fn()
		return
	}
	if !d.push(fn) {
		logging.Debug(c.ctx, "Dropped hub callback after close", zap.String("connectionId", c.id))
	}
}

// finish queues the OnClosed callbacks as the last dispatched work.
func (c *HubClient) finish(callbacks []func(error), cause error) {
	c.post(func() {
		for _, fn := range callbacks {
			fn(cause)
		}
	})
	c.mu.Lock()
	d := c.events
	c.mu.Unlock()
	if d != nil {
		d.close()
	}
}
