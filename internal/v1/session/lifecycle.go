package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/chaterrors"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/events"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/metrics"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/transport"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"go.uber.org/zap"
)

// HubFactory builds a new, unstarted hub connection. token is consulted on every dial.
type HubFactory func(token transport.TokenFactory, policy transport.RetryPolicy) (types.HubConnection, error)

// NewTransportFactory returns a HubFactory dialing hubURL over websockets.
func NewTransportFactory(hubURL string) HubFactory {
	return func(token transport.TokenFactory, policy transport.RetryPolicy) (types.HubConnection, error) {
		return transport.NewHubClient(transport.Options{
			URL:         hubURL,
			AccessToken: token,
			RetryPolicy: policy,
		})
	}
}

const stopTimeout = 5 * time.Second

// Controller owns the hub connection and its state machine:
// Disconnected -> Connecting -> Connected <-> Reconnecting, and any state -> Disconnected.
type Controller struct {
	newHub         HubFactory
	emitter        *events.Emitter
	policy         transport.RetryPolicy
	connectTimeout time.Duration
	register       func(types.HubConnection)
	onLost         func(error)

	mu    sync.Mutex
	conn  types.HubConnection
	state types.ConnectionState
}

// NewController creates a disconnected controller. register is called exactly once for
// every new connection instance, before it is started.
func NewController(newHub HubFactory, emitter *events.Emitter, policy transport.RetryPolicy, connectTimeout time.Duration, register func(types.HubConnection)) *Controller {
	if register == nil {
		register = func(types.HubConnection) {}
	}
	return &Controller{
		newHub:         newHub,
		emitter:        emitter,
		policy:         policy,
		connectTimeout: connectTimeout,
		register:       register,
		state:          types.StateDisconnected,
	}
}

// OnLost sets a callback for connections that close with an error outside Disconnect.
func (c *Controller) OnLost(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLost = fn
}

func (c *Controller) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsConnected() bool {
	return c.State() == types.StateConnected
}

// connected returns the live connection only while the state is Connected.
func (c *Controller) connected() (types.HubConnection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != types.StateConnected || c.conn == nil {
		return nil, false
	}
	return c.conn, true
}

// Connect builds and starts a hub connection authenticated with authToken.
// It is a no-op while a connection is already active or being established.
func (c *Controller) Connect(ctx context.Context, authToken string) error {
	const op = "Connect"
	if authToken == "" {
		return chaterrors.New(chaterrors.CategoryAuthentication, op, chaterrors.ErrAuth)
	}

	c.mu.Lock()
	if c.conn != nil {
		state := c.state
		c.mu.Unlock()
		logging.Debug(ctx, "Connect ignored, connection already active", zap.String("state", state.String()))
		return nil
	}

	if c.newHub == nil {
		c.mu.Unlock()
		return chaterrors.New(chaterrors.CategoryConnection, op, errors.New("no hub factory configured"))
	}
	token := func(context.Context) (string, error) { return authToken, nil }
	conn, err := c.newHub(token, c.policy)
	if err != nil {
		c.mu.Unlock()
		return chaterrors.Translate(chaterrors.CategoryConnection, op, err)
	}
	c.conn = conn
	c.transition(types.StateConnecting)
	c.register(conn)
	conn.OnReconnecting(func(err error) { c.handleReconnecting(conn, err) })
	conn.OnReconnected(func() { c.handleReconnected(conn) })
	conn.OnClosed(func(err error) { c.handleClosed(conn, err) })
	c.mu.Unlock()

	logging.Info(ctx, "Connecting to chat hub", zap.String("connectionId", conn.ID()), zap.Duration("timeout", c.connectTimeout))

	if err := c.start(ctx, conn); err != nil {
		c.abandon(conn)
		logging.Warn(ctx, "Failed to connect to chat hub", zap.Error(err))
		return c.translateConnectError(err)
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return chaterrors.New(chaterrors.CategoryConnection, op, errors.New("disconnected while connecting"))
	}
	emit, connected := c.transition(types.StateConnected)
	c.mu.Unlock()

	c.publish(emit, connected)
	logging.Info(ctx, "Chat hub connected", zap.String("connectionId", conn.ID()))
	return nil
}

// start races conn.Start against the connect timeout.
func (c *Controller) start(ctx context.Context, conn types.HubConnection) error {
	startCtx := ctx
	if c.connectTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}

	result := make(chan error, 1)
	go func() { result <- conn.Start(startCtx) }()

	select {
	case err := <-result:
		if err != nil && startCtx.Err() != nil {
			return startCtx.Err()
		}
		return err
	case <-startCtx.Done():
		return startCtx.Err()
	}
}

func (c *Controller) translateConnectError(err error) error {
	const op = "Connect"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return chaterrors.New(chaterrors.CategoryConnection, op,
			fmt.Errorf("%w after %s", chaterrors.ErrConnectionTimeout, c.connectTimeout))
	case errors.Is(err, transport.ErrUnauthorized):
		return chaterrors.New(chaterrors.CategoryAuthentication, op, fmt.Errorf("%w: %v", chaterrors.ErrUnauthorized, err))
	default:
		return chaterrors.Translate(chaterrors.CategoryConnection, op, err)
	}
}

// abandon discards a connection that failed to start.
func (c *Controller) abandon(conn types.HubConnection) {
	c.mu.Lock()
	var emit, connected bool
	if c.conn == conn {
		c.conn = nil
		emit, connected = c.transition(types.StateDisconnected)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := conn.Stop(ctx); err != nil {
		logging.Warn(ctx, "Failed to stop abandoned hub connection", zap.Error(err))
	}
	c.publish(emit, connected)
}

// Disconnect stops the active connection. It is a no-op when there is none.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	emit, connected := c.transition(types.StateDisconnected)
	c.mu.Unlock()

	err := conn.Stop(ctx)
	c.publish(emit, connected)
	logging.Info(ctx, "Disconnected from chat hub", zap.String("connectionId", conn.ID()))
	if err != nil {
		// A slow Stop is not a connect timeout.
		return chaterrors.New(chaterrors.CategoryConnection, "Disconnect", fmt.Errorf("stop hub connection: %w", err))
	}
	return nil
}

func (c *Controller) handleReconnecting(conn types.HubConnection, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	emit, connected := c.transition(types.StateReconnecting)
	c.mu.Unlock()

	logging.Warn(context.Background(), "Chat hub connection lost, reconnecting", zap.Error(err))
	c.publish(emit, connected)
}

func (c *Controller) handleReconnected(conn types.HubConnection) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	emit, connected := c.transition(types.StateConnected)
	c.mu.Unlock()

	logging.Info(context.Background(), "Chat hub reconnected", zap.String("connectionId", conn.ID()))
	c.publish(emit, connected)
}

func (c *Controller) handleClosed(conn types.HubConnection, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	emit, connected := c.transition(types.StateDisconnected)
	onLost := c.onLost
	c.mu.Unlock()

	c.publish(emit, connected)
	if err != nil {
		logging.Warn(context.Background(), "Chat hub connection closed", zap.Error(err))
		if onLost != nil {
			onLost(chaterrors.Translate(chaterrors.CategoryConnection, "Connection", err))
		}
	}
}

// transition moves to state and reports whether subscribers must be told, and what.
// Callers hold c.mu and publish after unlocking.
func (c *Controller) transition(state types.ConnectionState) (emit bool, connected bool) {
	prev := c.state
	if prev == state {
		return false, false
	}
	c.state = state
	metrics.ConnectionState.Set(float64(state))

	switch state {
	case types.StateConnected:
		return true, true
	case types.StateReconnecting:
		return true, false
	case types.StateDisconnected:
		// A connection that never came up was never reported as connected.
		return prev != types.StateConnecting, false
	default:
		return false, false
	}
}

func (c *Controller) publish(emit, connected bool) {
	if emit {
		c.emitter.EmitConnectionStatus(connected)
	}
}
