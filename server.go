package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sekura/tollops_backend/config"
	"github.com/sekura/tollops_backend/handlers"
	"github.com/sekura/tollops_backend/middlewares"
	"github.com/sekura/tollops_backend/models"
	"github.com/sekura/tollops_backend/utils"
	"github.com/sekura/tollops_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// swapHandler serves the boot router until the full router is installed.
type swapHandler struct {
	current atomic.Value
}

func (s *swapHandler) set(h http.Handler) { s.current.Store(h) }

func (s *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.current.Load().(http.Handler).ServeHTTP(w, r)
}

func healthz(c *gin.Context) { c.Status(http.StatusNoContent) }

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// bootRouter answers the startup probe while dependencies connect.
func bootRouter() *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.ReadinessMiddleware(func() bool { return false }))
	r.GET("/healthz", healthz)
	return r
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	// Production requires an explicit allowlist; everything else allows all origins.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			cfg.AllowOrigins = []string{}
		} else {
			cfg.AllowOrigins = utils.UniqueSlice(utils.SplitAndTrim(allowedOrigins))
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization", "Idempotency-Key", "x-correlation-id")
	cfg.AddExposeHeaders("Content-Length", "x-correlation-id")
	cfg.AllowCredentials = true
	return cfg
}

func positiveIntEnv(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func appRouter(h *handlers.Handler, ready func() bool, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.ReadinessMiddleware(ready))
	r.Use(cors.New(corsConfig()))

	// RATE_LIMIT_ENABLED=true, RATE_LIMIT_WINDOW_SECONDS=60, RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := positiveIntEnv("RATE_LIMIT_MAX_REQUESTS", 600)
		window := time.Duration(positiveIntEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
		r.Use(middlewares.NewRateLimiter(limit, window).RateLimitMiddleware)
	}

	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())
	r.GET("/healthz", healthz)

	api := r.Group("/")
	api.Use(middlewares.AuthMiddleware())
	h.Register(api)

	r.NoRoute(customNotFoundHandler)
	return r
}

func openStore(logger *logrus.Logger) models.Store {
	if config.StoreDriver() == "memory" {
		logger.WithFields(logrus.Fields{"field": "store"}).Warn("STORE_DRIVER=memory; ledgers are not persisted")
		return models.NewMemoryStore()
	}

	config.ConnectDatabaseWithRetry()
	// AutoMigrate can block tables; SKIP_MIGRATIONS=true moves it to a separate job.
	if config.MigrationsEnabled() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}
	return models.NewGormStore(config.GetDB())
}

func auditPublisher(logger *logrus.Logger) workflow.AuditPublisher {
	if !config.AuditPublishEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := config.GetClient(ctx)
	if err != nil {
		config.LogError(logger, "server.go", "auditPublisher", "pubsub client", nil, err)
		return nil
	}
	topic := config.AuditTopic()
	if _, err := config.CreateTopicIfNotExists(client, topic); err != nil {
		config.LogError(logger, "server.go", "auditPublisher", "create topic", topic, err)
		return nil
	}
	return workflow.PubSubAuditPublisher{Topic: topic}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen before dependencies connect; until then app endpoints answer 503.
	root := &swapHandler{}
	root.set(bootRouter())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	store := openStore(logger)
	// The memory driver runs without redis unless an address is given.
	if config.StoreDriver() != "memory" || os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	}

	var ready atomic.Bool
	h := handlers.New(store, workflow.NewLocker(logger), auditPublisher(logger), logger)
	h.CycleCacheTTL = config.CycleCacheTTL()
	root.set(appRouter(h, ready.Load, logger))
	ready.Store(true)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.StopPublishing()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	if db := config.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
