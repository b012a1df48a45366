package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logTimestampFormat = "2006-01-02 15:04:05"

// InitLogger 初始化全局 logrus（级别、格式、输出、轮转）
func InitLogger(cfg *Config) error {
	return ConfigureLogger(logrus.StandardLogger(), cfg.Log)
}

// ConfigureLogger 按 LogConfig 配置指定的 logger
func ConfigureLogger(logger *logrus.Logger, cfg LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using 'info'", cfg.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: logTimestampFormat,
		})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: logTimestampFormat,
		})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		rotate, err := rotatingWriter(cfg)
		if err != nil {
			return err
		}
		logger.SetOutput(rotate)
	case "both":
		// 同时输出到控制台和文件
		rotate, err := rotatingWriter(cfg)
		if err != nil {
			return err
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotate))
	default:
		logger.SetOutput(os.Stdout)
	}

	logger.Infof("Logger initialized - Level: %s, Format: %s, Output: %s", cfg.Level, cfg.Format, cfg.Output)
	return nil
}

func rotatingWriter(cfg LogConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,    // MB
		MaxBackups: cfg.MaxBackups, // 保留文件数
		MaxAge:     cfg.MaxAge,     // 保留天数
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}
