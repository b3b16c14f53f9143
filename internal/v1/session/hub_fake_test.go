package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/notify"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/transport"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	method string
	args   []any
	send   bool
}

// fakeHub is an in-memory types.HubConnection. Tests drive its lifecycle callbacks
// and inbound handlers directly.
type fakeHub struct {
	id string

	mu           sync.Mutex
	handlers     map[string][]types.HubHandler
	reconnecting []func(error)
	reconnected  []func()
	closed       []func(error)
	calls        []call
	started      int
	stopped      int

	blockStart bool
	startErr   error
	stopErr    error
	invokeErr  error
}

var _ types.HubConnection = (*fakeHub)(nil)

func (h *fakeHub) ID() string { return h.id }

func (h *fakeHub) Start(ctx context.Context) error {
	h.mu.Lock()
	h.started++
	block, err := h.blockStart, h.startErr
	h.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (h *fakeHub) Stop(context.Context) error {
	h.mu.Lock()
	h.stopped++
	closed := append([]func(error){}, h.closed...)
	err := h.stopErr
	h.mu.Unlock()
	for _, fn := range closed {
		fn(nil)
	}
	return err
}

func (h *fakeHub) Invoke(_ context.Context, target string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call{method: target, args: args})
	return h.invokeErr
}

func (h *fakeHub) Send(_ context.Context, target string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call{method: target, args: args, send: true})
	return h.invokeErr
}

func (h *fakeHub) On(target string, handler types.HubHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[target] = append(h.handlers[target], handler)
}

func (h *fakeHub) OnReconnecting(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnecting = append(h.reconnecting, fn)
}

func (h *fakeHub) OnReconnected(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnected = append(h.reconnected, fn)
}

func (h *fakeHub) OnClosed(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, fn)
}

// deliver invokes every handler registered for target with v as the single argument.
func (h *fakeHub) deliver(t *testing.T, target string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	h.deliverRaw(target, raw)
}

func (h *fakeHub) deliverRaw(target string, args ...json.RawMessage) {
	h.mu.Lock()
	handlers := append([]types.HubHandler{}, h.handlers[target]...)
	h.mu.Unlock()
	for _, fn := range handlers {
		fn(args)
	}
}

func (h *fakeHub) dropLink(err error) {
	h.mu.Lock()
	fns := append([]func(error){}, h.reconnecting...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (h *fakeHub) restoreLink() {
	h.mu.Lock()
	fns := append([]func(){}, h.reconnected...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *fakeHub) close(err error) {
	h.mu.Lock()
	fns := append([]func(error){}, h.closed...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (h *fakeHub) handlerCount(target string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers[target])
}

func (h *fakeHub) recorded() []call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]call{}, h.calls...)
}

func (h *fakeHub) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// hubs is a HubFactory that records every connection it builds.
type hubs struct {
	mu        sync.Mutex
	built     []*fakeHub
	tokens    []string
	configure func(*fakeHub)
	err       error
}

func (f *hubs) factory() HubFactory {
	return func(token transport.TokenFactory, _ transport.RetryPolicy) (types.HubConnection, error) {
		if f.err != nil {
			return nil, f.err
		}
		tok, err := token(context.Background())
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		h := &fakeHub{
			id:       fmt.Sprintf("conn-%d", len(f.built)+1),
			handlers: make(map[string][]types.HubHandler),
		}
		if f.configure != nil {
			f.configure(h)
		}
		f.built = append(f.built, h)
		f.tokens = append(f.tokens, tok)
		return h, nil
	}
}

func (f *hubs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *hubs) last(t *testing.T) *fakeHub {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.built, "no hub connection was built")
	return f.built[len(f.built)-1]
}

// statusLog collects connection status emissions.
type statusLog struct {
	mu     sync.Mutex
	values []bool
}

func (l *statusLog) record(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, connected)
}

func (l *statusLog) get() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool{}, l.values...)
}

type sessionFixture struct {
	session  *ChatSession
	hubs     *hubs
	notes    *notify.ChannelNotifier
	statuses *statusLog
}

func newFixture(t *testing.T, opts Options) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		hubs:     &hubs{},
		notes:    notify.NewChannelNotifier(16),
		statuses: &statusLog{},
	}
	if opts.HubFactory == nil {
		opts.HubFactory = f.hubs.factory()
	}
	if opts.Notifier == nil {
		opts.Notifier = f.notes
	}
	f.session = New(opts)
	f.session.Events().OnConnectionStatus(f.statuses.record)
	t.Cleanup(func() {
		_ = f.session.Dispose(context.Background())
	})
	return f
}

func (f *sessionFixture) connect(t *testing.T) *fakeHub {
	t.Helper()
	require.NoError(t, f.session.Connect(context.Background(), "test-token"))
	return f.hubs.last(t)
}

// nextNote waits briefly for a notification.
func (f *sessionFixture) nextNote(t *testing.T) notify.Notification {
	t.Helper()
	select {
	case n := <-f.notes.C():
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return notify.Notification{}
	}
}

func (f *sessionFixture) assertNoNote(t *testing.T) {
	t.Helper()
	select {
	case n := <-f.notes.C():
		t.Fatalf("unexpected notification: %+v", n)
	default:
	}
}

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"name": sub + "-name",
		"exp":  exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}
