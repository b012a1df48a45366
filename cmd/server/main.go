package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"labcrm/internal/app"
	"labcrm/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to initialize: %v", err)
	}
	a.StartWorkers(ctx)

	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), Handler: a.Router()}
	go func() {
		appLogger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	<-ctx.Done()
	appLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		appLogger.Warnf("close resources: %v", err)
	}
	appLogger.Info("Server exited")
}
