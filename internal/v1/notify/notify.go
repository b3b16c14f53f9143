// Package notify is the single sink for user-facing notifications. Chat failures are
// reported through Report, which applies the surfacing policy of chaterrors.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/chaterrors"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"go.uber.org/zap"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a transient message for the user.
type Notification struct {
	Level    Level
	Category chaterrors.Category
	Message  string
	Err      error
	At       time.Time
}

// Notifier receives notifications. Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Report translates err into a notification and hands it to sink. Errors whose category
// is not user-facing are only logged.
func Report(ctx context.Context, sink Notifier, err error) {
	if err == nil {
		return
	}

	category, ok := chaterrors.CategoryOf(err)
	if !ok {
		category = chaterrors.CategoryConnection
	}

	if !chaterrors.IsUserFacing(category) {
		logging.Warn(ctx, "Suppressed non-critical chat error", zap.String("category", string(category)), zap.Error(err))
		return
	}

	if sink == nil {
		logging.Error(ctx, "Chat error with no notification sink", zap.Error(err))
		return
	}

	sink.Notify(ctx, Notification{
		Level:    LevelError,
		Category: category,
		Message:  chaterrors.UserMessage(err),
		Err:      err,
		At:       time.Now(),
	})
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) {
	fields := []zap.Field{
		zap.String("category", string(n.Category)),
		zap.String("level", string(n.Level)),
		zap.Error(n.Err),
	}
	switch n.Level {
	case LevelError:
		logging.Error(ctx, n.Message, fields...)
	case LevelWarning:
		logging.Warn(ctx, n.Message, fields...)
	default:
		logging.Info(ctx, n.Message, fields...)
	}
}

// ChannelNotifier buffers notifications for a UI loop. When the buffer is full the
// notification is dropped rather than blocking the reporter.
type ChannelNotifier struct {
	ch        chan Notification
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewChannelNotifier creates a notifier with the given buffer size.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan Notification, buffer)}
}

// C returns the receive side of the notification channel.
func (c *ChannelNotifier) C() <-chan Notification {
	return c.ch
}

func (c *ChannelNotifier) Notify(ctx context.Context, n Notification) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.ch <- n:
	default:
		logging.Warn(ctx, "Notification channel full - dropping notification", zap.String("message", n.Message))
	}
}

// Close closes the channel; later notifications are discarded.
func (c *ChannelNotifier) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

// Multi fans a notification out to several sinks in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, sink := range m {
		if sink != nil {
			sink.Notify(ctx, n)
		}
	}
}
