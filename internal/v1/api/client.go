// Package api is the REST client for the platform endpoints the chat client depends on:
// room listings, message history and friend requests. Every request carries the bearer
// token; a 401 clears the token and fires the unauthorized hook.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/chaterrors"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/metrics"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/notify"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	breakerName    = "api"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// StatusError is a non-2xx response.
type StatusError struct {
	Route  string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Route, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Route, e.Status, e.Body)
}

// FriendRequest is a pending or answered friend request.
type FriendRequest struct {
	ID        int64             `json:"id"`
	Sender    types.UserSummary `json:"sender"`
	Receiver  types.UserSummary `json:"receiver"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

type Options struct {
	BaseURL    string
	Tokens     types.TokenStore
	Notifier   notify.Notifier
	HTTPClient *http.Client
}

type Client struct {
	base     *url.URL
	http     *http.Client
	tokens   types.TokenStore
	notifier notify.Notifier
	cb       *gobreaker.CircuitBreaker

	mu             sync.RWMutex
	onUnauthorized func()
}

// NewClient creates a client rooted at opts.BaseURL, e.g. "https://example.com/api".
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q: must be an absolute http(s) URL", opts.BaseURL)
	}
	if opts.Tokens == nil {
		return nil, errors.New("token store is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	st := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 4xx responses do not count against the breaker.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Status < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(to.String()))
			logging.Warn(context.Background(), "API circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		base:     base,
		http:     httpClient,
		tokens:   opts.Tokens,
		notifier: opts.Notifier,
		cb:       gobreaker.NewCircuitBreaker(st),
	}, nil
}

// OnUnauthorized sets the hook run after a 401 has cleared the stored token.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// ListRooms returns the rooms visible to the current user.
func (c *Client) ListRooms(ctx context.Context) ([]types.ChatRoom, error) {
	var rooms []types.ChatRoom
	if err := c.do(ctx, "rooms.list", http.MethodGet, "/chat/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// RoomMessages returns the message history of a room.
func (c *Client) RoomMessages(ctx context.Context, roomID types.RoomIdType) ([]types.ChatMessage, error) {
	var msgs []types.ChatMessage
	path := "/chat/rooms/" + url.PathEscape(string(roomID)) + "/messages"
	if err := c.do(ctx, "rooms.messages", http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DirectMessages returns the conversation between the current user and userID.
func (c *Client) DirectMessages(ctx context.Context, userID types.UserIdType) ([]types.DirectMessage, error) {
	var msgs []types.DirectMessage
	path := "/chat/direct-messages/" + url.PathEscape(string(userID))
	if err := c.do(ctx, "direct.messages", http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) FriendRequests(ctx context.Context) ([]FriendRequest, error) {
	var reqs []FriendRequest
	if err := c.do(ctx, "friends.requests", http.MethodGet, "/friends/requests", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// RespondToFriendRequest accepts or declines a friend request.
func (c *Client) RespondToFriendRequest(ctx context.Context, requestID int64, accept bool) error {
	path := "/friends/requests/" + strconv.FormatInt(requestID, 10) + "/respond"
	body := struct {
		Accept bool `json:"accept"`
	}{accept}
	return c.do(ctx, "friends.respond", http.MethodPost, path, body, nil)
}

// do runs one request through the breaker and the response interceptor.
func (c *Client) do(ctx context.Context, route, method, path string, in, out any) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, route, method, path, in, out)
	})
	if err == nil {
		metrics.APIRequests.WithLabelValues(route, "success").Inc()
		return nil
	}
	return c.fail(ctx, route, err)
}

func (c *Client) roundTrip(ctx context.Context, route, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", route, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", route, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Get(ctx)
	if err != nil {
		logging.Warn(ctx, "Failed to read auth token", zap.Error(err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", route, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Route: route, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", route, err)
	}
	return nil
}

// fail categorizes err, handles 401 and reports to the notification sink.
func (c *Client) fail(ctx context.Context, route string, err error) error {
	var se *StatusError
	var out error
	switch {
	case errors.As(err, &se) && se.Status == http.StatusUnauthorized:
		metrics.APIRequests.WithLabelValues(route, "unauthorized").Inc()
		c.unauthorized(ctx)
		out = chaterrors.New(chaterrors.CategoryAuthentication, route, fmt.Errorf("%w: %v", chaterrors.ErrUnauthorized, err))
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.APIRequests.WithLabelValues(route, "rejected").Inc()
		metrics.CircuitBreakerFailures.WithLabelValues(breakerName).Inc()
		out = chaterrors.New(chaterrors.CategoryConnection, route, err)
	default:
		metrics.APIRequests.WithLabelValues(route, "error").Inc()
		out = chaterrors.Translate(chaterrors.CategoryConnection, route, err)
	}

	logging.Warn(ctx, "API request failed", zap.String("route", route), zap.Error(err))
	notify.Report(ctx, c.notifier, out)
	return out
}

func (c *Client) unauthorized(ctx context.Context) {
	if err := c.tokens.Clear(ctx); err != nil {
		logging.Warn(ctx, "Failed to clear auth token after 401", zap.Error(err))
	}

	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
