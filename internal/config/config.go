package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
}

type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host"`
	Port            int             `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 手动触发类接口的限流（按客户端 IP 的令牌桶）
type RateLimitConfig struct {
	Enabled           bool     `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int      `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int      `mapstructure:"burst" yaml:"burst"`
	Paths             []string `mapstructure:"paths" yaml:"paths"` // gin route prefixes, e.g. /api/automations/scan
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DSN 返回 PostgreSQL 连接串
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, sslmode)
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Password     string `mapstructure:"password" yaml:"password"`
	DB           int    `mapstructure:"db" yaml:"db"`
	PoolSize     int    `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
}

// Addr 返回 host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	Output     string `mapstructure:"output" yaml:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // number of backup files
	Compress   bool   `mapstructure:"compress" yaml:"compress"`       // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`         // OTLP gRPC 端点，例如 otel-collector:4317
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`         // 是否使用明文（本地/开发）
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"` // 缺省使用 "labcrm"
}

// AutomationConfig 自动化引擎的后台任务配置
type AutomationConfig struct {
	ScanEnabled     bool          `mapstructure:"scan_enabled" yaml:"scan_enabled"`
	ScanInterval    time.Duration `mapstructure:"scan_interval" yaml:"scan_interval"`
	ScanLockTTL     time.Duration `mapstructure:"scan_lock_ttl" yaml:"scan_lock_ttl"`
	ScanTimeout     time.Duration `mapstructure:"scan_timeout" yaml:"scan_timeout"`
	PendingEnabled  bool          `mapstructure:"pending_enabled" yaml:"pending_enabled"`
	PendingInterval time.Duration `mapstructure:"pending_interval" yaml:"pending_interval"`
	PendingBatch    int           `mapstructure:"pending_batch" yaml:"pending_batch"`
	Timezone        string        `mapstructure:"timezone" yaml:"timezone"` // IANA name used for start-of-day
}

// Location resolves Timezone, falling back to UTC when empty.
func (a AutomationConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("automation.timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// Load 读取 viper 中的配置，未设置的字段保留默认值
func Load() (*Config, error) {
	cfg := GetDefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if _, err := cfg.Automation.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             10,
				Paths:             []string{"/api/automations/scan", "/api/automations/:id/execute"},
			},
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "labcrm",
			SSLMode:         "disable",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/labcrm.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "labcrm",
			},
		},
		Automation: AutomationConfig{
			ScanEnabled:     true,
			ScanInterval:    time.Hour,
			ScanLockTTL:     10 * time.Minute,
			ScanTimeout:     5 * time.Minute,
			PendingEnabled:  true,
			PendingInterval: time.Minute,
			PendingBatch:    100,
			Timezone:        "UTC",
		},
	}
}
