// Package ratelimit throttles outbound chat actions and status server requests using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/config"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Limiter holds the rate limiter instances
type Limiter struct {
	messages    *limiter.Limiter
	typing      *limiter.Limiter
	status      *limiter.Limiter
	store       limiter.Store
	redisClient *redis.Client
}

// NewLimiter creates a Limiter. A nil redisClient selects the in-memory store.
func NewLimiter(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	messagesRate, err := limiter.NewRateFromFormatted(cfg.RateLimitMessages)
	if err != nil {
		return nil, fmt.Errorf("invalid message rate: %w", err)
	}

	typingRate, err := limiter.NewRateFromFormatted(cfg.RateLimitTyping)
	if err != nil {
		return nil, fmt.Errorf("invalid typing rate: %w", err)
	}

	statusRate, err := limiter.NewRateFromFormatted(cfg.RateLimitStatus)
	if err != nil {
		return nil, fmt.Errorf("invalid status rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "chat:limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "Rate limiter using memory store")
	}

	return &Limiter{
		messages:    limiter.New(store, messagesRate),
		typing:      limiter.New(store, typingRate),
		status:      limiter.New(store, statusRate),
		store:       store,
		redisClient: redisClient,
	}, nil
}

// AllowMessage reports whether key may send another chat message.
func (l *Limiter) AllowMessage(ctx context.Context, key string) bool {
	return l.allow(ctx, l.messages, "message:"+key, "send_message")
}

// AllowTyping reports whether another typing status may be sent for roomID.
func (l *Limiter) AllowTyping(ctx context.Context, roomID string) bool {
	return l.allow(ctx, l.typing, "typing:"+roomID, "typing_status")
}

func (l *Limiter) allow(ctx context.Context, lim *limiter.Limiter, key, action string) bool {
	lctx, err := lim.Get(ctx, key)
	if err != nil {
		// Fail open: a broken store must not block chatting.
		logging.Error(ctx, "Rate limiter store failed", zap.String("action", action), zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues(action).Inc()
		return false
	}
	return true
}

// StatusMiddleware limits requests to the status server per client IP.
func (l *Limiter) StatusMiddleware() gin.HandlerFunc {
	return mgin.NewMiddleware(l.status, mgin.WithLimitReachedHandler(func(c *gin.Context) {
		metrics.RateLimitExceeded.WithLabelValues("status").Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
	}))
}
