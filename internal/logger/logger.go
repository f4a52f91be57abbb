package logger

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"barid/backend/internal/config"
)

// encoderConfig 返回统一的字段命名
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New 根据日志配置创建 zap 日志记录器
//
// 配置了 File 时同时输出到轮转文件和标准输出。
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var sink io.Writer = os.Stdout

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, err
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		sink = io.MultiWriter(rotating, os.Stdout)
	}

	return NewWithWriter(cfg, zapcore.AddSync(sink)), nil
}

// NewWithWriter 使用指定的输出创建日志记录器，便于测试捕获日志
func NewWithWriter(cfg config.LogConfig, ws zapcore.WriteSyncer) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if cfg.Development {
		encoder = zapcore.NewConsoleEncoder(encoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig())
	}

	core := zapcore.NewCore(encoder, ws, level)
	if cfg.Development {
		return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(core, zap.AddCaller())
}

// NewCLI 创建命令行工具使用的日志记录器，输出到标准错误
func NewCLI(verbose bool) *zap.Logger {
	level := "info"
	if verbose {
		level = "debug"
	}
	return NewWithWriter(config.LogConfig{Level: level, Development: true}, zapcore.AddSync(os.Stderr))
}
