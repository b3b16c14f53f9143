// Package health serves the status endpoints of the chat client: liveness, readiness
// against the hub connection and the token store, and Prometheus metrics.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// StateSource reports the hub connection state.
type StateSource interface {
	State() types.ConnectionState
}

// Handler manages health check endpoints
type Handler struct {
	hub   StateSource
	redis *redis.Client
}

// NewHandler creates a handler. redisClient may be nil when the token store is in memory.
func NewHandler(hub StateSource, redisClient *redis.Client) *Handler {
	return &Handler{hub: hub, redis: redisClient}
}

// Register mounts the health and metrics routes.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. It never checks dependencies.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready: 200 only while the hub connection is up and
// the token store answers, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"hub":   h.checkHub(),
		"redis": h.checkRedis(ctx),
	}

	status := "ready"
	code := http.StatusOK
	for _, v := range checks {
		if v != statusHealthy {
			status = "unavailable"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkHub() string {
	if h.hub == nil {
		return statusUnhealthy
	}
	if state := h.hub.State(); state != types.StateConnected {
		return state.String()
	}
	return statusHealthy
}

func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redis == nil {
		return statusHealthy
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return statusUnhealthy
	}
	return statusHealthy
}
