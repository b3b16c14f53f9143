package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RedisTokenStore persists the token in Redis so several client processes on one
// machine share a login.
type RedisTokenStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	key    string
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr)
	return rdb, nil
}

// NewRedisTokenStore wraps client with a circuit breaker.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(to.String()))
		},
	}

	return &RedisTokenStore{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
		key:    TokenKey,
	}
}

// Get returns the stored token, or "" when none is stored.
func (s *RedisTokenStore) Get(ctx context.Context) (string, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		token, err := s.client.Get(ctx, s.key).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return token, err
	})
	if err != nil {
		return "", s.wrap("get", err)
	}
	return res.(string), nil
}

// Set stores token without expiry; the platform API decides when it stops working.
func (s *RedisTokenStore) Set(ctx context.Context, token string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, s.key, token, 0).Err()
	})
	return s.wrap("set", err)
}

func (s *RedisTokenStore) Clear(ctx context.Context) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, s.key).Err()
	})
	return s.wrap("clear", err)
}

func (s *RedisTokenStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		slog.Warn("Redis circuit breaker open", "op", op)
	}
	return fmt.Errorf("token store %s: %w", op, err)
}
