package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"labcrm/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler 健康检查与指标
type HealthHandler struct {
	db      *gorm.DB
	redis   *redis.Client
	version string
	started time.Time
}

func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, version string) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, version: version, started: time.Now()}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	GoVersion string                 `json:"go_version"`
	Services  map[string]ServiceInfo `json:"services"`
}

// ServiceInfo 依赖服务状态
type ServiceInfo struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Health 检查数据库和 Redis；数据库不可用返回 503，Redis 不可用为 degraded
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		GoVersion: runtime.Version(),
		Services:  make(map[string]ServiceInfo),
	}

	db := h.checkDatabase(ctx)
	resp.Services["database"] = db
	if db.Status != "healthy" {
		resp.Status = "unhealthy"
	}

	if h.redis != nil {
		rs := h.checkRedis(ctx)
		resp.Services["redis"] = rs
		if rs.Status != "healthy" && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	start := time.Now()
	if h.db == nil {
		return ServiceInfo{Status: "unhealthy", Error: "database not initialized"}
	}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return ServiceInfo{Status: "unhealthy", Latency: time.Since(start).String(), Error: err.Error()}
	}
	return ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
}

func (h *HealthHandler) checkRedis(ctx context.Context) ServiceInfo {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ServiceInfo{Status: "unhealthy", Latency: time.Since(start).String(), Error: err.Error()}
	}
	return ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
}

// Metrics 输出自动化计数器快照
func (h *HealthHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, metrics.AutomationSnapshot())
}

// RegisterHealthRoutes 注册 /health 与指标路由
func RegisterHealthRoutes(r gin.IRouter, handler *HealthHandler, metricsPath string) {
	r.GET("/health", handler.Health)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.GET(metricsPath, handler.Metrics)
}
