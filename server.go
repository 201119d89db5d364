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
	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/middlewares"
	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/models/reports"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// App holds what the handlers share.
type App struct {
	ledger      *reports.Ledger
	submissions models.SubmissionTracker
	ready       atomic.Bool
}

func newApp(families *models.StatementFamilies, store models.LedgerStore, submissions models.SubmissionTracker, cache reports.AggregateCache) *App {
	return &App{
		ledger:      reports.NewLedger(store, cache, submissions, families),
		submissions: submissions,
	}
}

func setupRouter(app *App, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.ReadinessMiddleware(app.ready.Load))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production only the CORS_ALLOWED_ORIGINS allowlist is accepted.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", middlewares.HeaderCorrelationId, middlewares.HeaderUser)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.HeaderCorrelationId)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	r.Use(cors.New(corsConfig))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS"), Password: os.Getenv("REDIS_PASSWORD")})
		limit := envInt64("RATE_LIMIT_MAX_REQUESTS", 600)
		window := time.Duration(envInt64("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
		r.Use(middlewares.NewRateLimiter(client, limit, window).RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/families", app.listFamiliesHandler)
	api.GET("/status/:period", app.submissionStatusHandler)
	api.GET("/analytics/margin/:period", app.marginHandler)
	api.GET("/:family", app.listPeriodsHandler)
	api.POST("/:family", app.savePeriodHandler)
	api.GET("/:family/series/:year", app.yearSeriesHandler)
	api.GET("/:family/:period", app.periodViewHandler)
	api.DELETE("/:family/:period", app.deletePeriodHandler)
	api.GET("/:family/:period/previous-end-balance", app.previousEndBalanceHandler)
	api.GET("/:family/:period/cumulative", app.cumulativeHandler)
	api.GET("/:family/:period/export", app.exportPeriodHandler)

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	families, err := models.LoadStatementFamilies()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "statement families"}).Fatal(err.Error())
	}

	var app *App
	backend := config.LedgerBackend()
	if backend == config.LedgerBackendMemory {
		app = newApp(families, models.NewMemoryLedgerStore(), models.NewMemorySubmissionTracker(), reports.NewAggregateCache())
	} else {
		app = newApp(families, models.NewGormLedgerStore(nil), models.NewGormSubmissionTracker(nil), reports.NewAggregateCache())
	}

	// Listen first; requests get 503 until the store is connected.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: setupRouter(app, logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	if backend == config.LedgerBackendMySQL {
		config.ConnectDatabaseWithRetry()
		config.ConnectRedisWithRetry()

		db := config.GetDB()
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if !config.SkipMigrations() {
			if err := models.MigrateTable(db, families); err != nil {
				log.Fatal(err)
			}
		} else {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}
	}
	app.ready.Store(true)

	logger.WithFields(logrus.Fields{
		"info":    "Connection Established",
		"backend": backend,
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid := c.Writer.Header().Get(middlewares.HeaderCorrelationId)
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "route not found"})
}

func envInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
