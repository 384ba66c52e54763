package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	// Level 日志级别：debug / info / warn / error
	Level string `yaml:"level"`
	// Format 输出格式：json / console
	Format string `yaml:"format"`
	// File 日志文件路径，为空时只输出到 stderr
	File string `yaml:"file"`
	// MaxSizeMB 单个文件大小上限，超过后滚动
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups 保留的旧文件数
	MaxBackups int `yaml:"max_backups"`
	// MaxAgeDays 旧文件保留天数
	MaxAgeDays int `yaml:"max_age_days"`
	// Compress 是否 gzip 压缩旧文件
	Compress bool `yaml:"compress"`
}

// DefaultConfig 返回默认配置：info 级别，json 格式，输出到 stderr
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30}
}

// New 根据配置创建 zap.Logger。配置了 File 时同时写 stderr 和滚动文件。
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(orDefault(cfg.Level, "info")))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch orDefault(cfg.Format, "json") {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)}
	if cfg.File != "" {
		w := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		// 文件固定使用 json，便于采集
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(w), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Nop 返回丢弃所有输出的 logger
func Nop() *zap.Logger { return zap.NewNop() }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
