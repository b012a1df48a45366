// Package app wires configuration, storage, the automation engine and the HTTP router.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"labcrm/internal/config"
	"labcrm/internal/database"
	"labcrm/internal/handlers"
	"labcrm/internal/observability"
	"labcrm/internal/services"
	"labcrm/pkg/distlock"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// Version is reported by /health and the version command.
var Version = "dev"

const scanLockKey = "labcrm:automation:date-scan"

// App holds the long-lived dependencies of a running instance.
type App struct {
	Config     *config.Config
	Logger     *logrus.Logger
	DB         *gorm.DB
	Redis      *redis.Client
	Automation *services.AutomationService
	Scanner    *services.DateTriggerScanner

	shutdownTracing func(context.Context) error
}

// New connects to the database (and Redis when enabled) and builds the automation services.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	shutdown, err := observability.SetupTracing(ctx, cfg.Monitoring.Tracing)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	db, err := database.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return Assemble(cfg, logger, db, shutdown)
}

// Assemble builds the services on an already opened database.
func Assemble(cfg *config.Config, logger *logrus.Logger, db *gorm.DB, shutdownTracing func(context.Context) error) (*App, error) {
	loc, err := cfg.Automation.Location()
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
	}

	a := &App{
		Config:          cfg,
		Logger:          logger,
		DB:              db,
		Redis:           redisClient,
		Automation:      services.NewAutomationService(db, logger),
		shutdownTracing: shutdownTracing,
	}
	a.Scanner = services.NewDateTriggerScanner(a.Automation, a.scanLock(), loc, logger)
	a.Scanner.SetTimeout(cfg.Automation.ScanTimeout)
	return a, nil
}

// scanLock prefers Redis; on Postgres it falls back to an advisory lock. Other dialects run unlocked.
func (a *App) scanLock() distlock.DistLock {
	var sqlDB *sql.DB
	if a.Redis == nil && a.DB != nil && a.DB.Dialector.Name() == "postgres" {
		db, err := a.DB.DB()
		if err != nil {
			a.Logger.Warnf("scan lock disabled: %v", err)
		} else {
			sqlDB = db
		}
	}
	return distlock.NewLock(a.Redis, sqlDB, scanLockKey, a.Config.Automation.ScanLockTTL)
}

// Router builds the gin engine with health, metrics and automation routes.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a.Logger))
	if a.Config.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(a.Config.Monitoring.Tracing.ServiceName))
	}
	r.Use(corsMiddleware())
	r.Use(userContext())
	r.Use(rateLimit(a.Config.Server.RateLimit))

	health := handlers.NewHealthHandler(a.DB, a.Redis, Version)
	metricsPath := ""
	if a.Config.Monitoring.Enabled {
		metricsPath = a.Config.Monitoring.MetricsPath
	}
	handlers.RegisterHealthRoutes(r, health, metricsPath)

	api := r.Group("/api")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(a.Automation, a.Scanner, a.Logger))
	return r
}

// StartWorkers launches the date scanner and the delayed action worker; both stop with ctx.
func (a *App) StartWorkers(ctx context.Context) {
	ac := a.Config.Automation
	if ac.ScanEnabled {
		go a.Scanner.Start(ctx, ac.ScanInterval)
	}
	if ac.PendingEnabled {
		go a.Automation.StartPendingActionWorker(ctx, ac.PendingInterval, ac.PendingBatch)
	}
}

// Close releases Redis, the database pool and the tracer provider.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
			return
		}
		entry.Debug("request")
	}
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-User-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
