package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/api"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/auth"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/config"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/health"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/middleware"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/notify"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/ratelimit"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/session"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/tracing"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/transport"
	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
)

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	} else {
		slog.Warn("No .env file found, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode, cfg.LogLevel); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logging.GetLogger().Sync() }()

	if err := run(cfg); err != nil {
		logging.Error(context.Background(), "Chat client exited with error", zap.Error(err))
		_ = logging.GetLogger().Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		ServiceName:   logging.ServiceName,
		CollectorAddr: cfg.OTELCollectorAddr,
		Insecure:      cfg.DevelopmentMode,
	})
	if err != nil {
		logging.Warn(ctx, "Tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// --- Token persistence (Redis optional) ---
	var redisClient *redis.Client
	var tokens types.TokenStore = auth.NewMemoryTokenStore(cfg.AuthToken)
	if cfg.RedisEnabled {
		redisClient, err = auth.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Warn(ctx, "Redis unavailable, keeping the token in memory", zap.Error(err))
		} else {
			redisTokens := auth.NewRedisTokenStore(redisClient)
			if cfg.AuthToken != "" {
				if err := redisTokens.Set(ctx, cfg.AuthToken); err != nil {
					logging.Warn(ctx, "Failed to persist token", zap.Error(err))
				}
			}
			tokens = redisTokens
		}
	}

	limiter, err := ratelimit.NewLimiter(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	notes := notify.NewChannelNotifier(32)
	notifier := notify.Multi{notify.LogNotifier{}, notes}
	go printNotifications(os.Stdout, notes.C())

	apiClient, err := api.NewClient(api.Options{
		BaseURL:  cfg.APIBaseURL,
		Tokens:   tokens,
		Notifier: notifier,
	})
	if err != nil {
		return fmt.Errorf("api client: %w", err)
	}

	hubURL, err := transport.HubURL(cfg.APIBaseURL, cfg.HubPath)
	if err != nil {
		return fmt.Errorf("hub url: %w", err)
	}

	sess := session.New(session.Options{
		HubFactory:     session.NewTransportFactory(hubURL),
		Tokens:         tokens,
		Notifier:       notifier,
		Limiter:        limiter,
		History:        apiClient,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxRetryDelay:  cfg.MaxRetryDelay,
		TypingTimeout:  cfg.TypingTimeout,
	})
	printEvents(os.Stdout, sess)

	loggedOut := make(chan struct{}, 1)
	apiClient.OnUnauthorized(func() {
		select {
		case loggedOut <- struct{}{}:
		default:
		}
	})

	srv := newStatusServer(cfg, sess, redisClient, limiter)
	go func() {
		logging.Info(ctx, "Status server starting", zap.String("port", cfg.StatusPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(ctx, "Status server failed", zap.Error(err))
			stop()
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := sess.Dispose(shutdownCtx); err != nil {
			logging.Warn(shutdownCtx, "Error during session shutdown", zap.Error(err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn(shutdownCtx, "Status server forced to shutdown", zap.Error(err))
		}
		notes.Close()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logging.Warn(shutdownCtx, "Failed to flush traces", zap.Error(err))
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logging.Warn(shutdownCtx, "Failed to close Redis connection", zap.Error(err))
			}
		}
		logging.Info(shutdownCtx, "Chat client exiting")
	}()

	if err := sess.Init(ctx); err != nil {
		return fmt.Errorf("chat session: %w", err)
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go func() {
		select {
		case <-loggedOut:
			fmt.Fprintln(os.Stdout, "Signed out.")
			cancelLoop()
		case <-loopCtx.Done():
		}
	}()

	fmt.Fprintln(os.Stdout, "Connected. Type /help for commands.")
	c := &console{session: sess, dir: apiClient, out: os.Stdout}
	if err := c.run(loopCtx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newStatusServer(cfg *config.Config, sess *session.ChatSession, redisClient *redis.Client, limiter *ratelimit.Limiter) *http.Server {
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID(), middleware.RequestLogger())
	router.Use(otelgin.Middleware(logging.ServiceName + "-status"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	corsConfig.AllowMethods = []string{http.MethodGet}
	router.Use(cors.New(corsConfig))
	router.Use(limiter.StatusMiddleware())

	health.NewHandler(sess, redisClient).Register(router)

	return &http.Server{
		Addr:              ":" + cfg.StatusPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func allowedOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

// printEvents renders inbound chat activity on out.
func printEvents(out io.Writer, sess *session.ChatSession) {
	ev := sess.Events()
	ev.OnRoomMessage(func(m types.ChatMessage) {
		if room := sess.Store().ActiveRoom(); room != nil && room.ID == m.RoomID {
			fmt.Fprintln(out, formatRoomMessage(m))
		}
	})
	ev.OnDirectMessage(func(m types.DirectMessage) {
		fmt.Fprintln(out, formatDirectMessage(m))
	})
	ev.OnTyping(func(t types.TypingEvent) {
		if room := sess.Store().ActiveRoom(); t.IsTyping && room != nil && room.ID == t.RoomID && t.UserID != sess.Self() {
			fmt.Fprintf(out, "  %s is typing...\n", t.UserID)
		}
	})
	ev.OnConnectionStatus(func(connected bool) {
		if connected {
			fmt.Fprintln(out, "* connected")
		} else {
			fmt.Fprintln(out, "* connection lost")
		}
	})
}

func printNotifications(out io.Writer, ch <-chan notify.Notification) {
	for n := range ch {
		fmt.Fprintf(out, "! %s\n", n.Message)
	}
}
