package store

import (
	"fmt"
	"time"

	"github.com/rushteam/medcost/core"
)

// Config 制品存储配置
type Config struct {
	// Type 存储类型：dir / redis / http / memory
	Type string `yaml:"type"`
	// Dir 本地制品目录（type=dir）
	Dir string `yaml:"dir"`
	// Redis 连接配置（type=redis）
	Redis RedisConfig `yaml:"redis"`
	// HTTP 只读制品服务（type=http）
	HTTP HTTPConfig `yaml:"http"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	DB          int           `yaml:"db"`
	Password    string        `yaml:"password"`
	KeyPrefix   string        `yaml:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// New 根据配置创建 Store
func New(cfg Config) (core.Store, error) {
	switch cfg.Type {
	case "dir", "":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("store: dir is required")
		}
		return NewDirStore(cfg.Dir)
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("store: redis.addr is required")
		}
		opts := []RedisOption{WithRedisKeyPrefix(cfg.Redis.KeyPrefix)}
		if cfg.Redis.Password != "" {
			opts = append(opts, WithRedisPassword(cfg.Redis.Password))
		}
		if cfg.Redis.DialTimeout > 0 {
			opts = append(opts, WithRedisDialTimeout(cfg.Redis.DialTimeout))
		}
		return NewRedisStore(cfg.Redis.Addr, cfg.Redis.DB, opts...)
	case "http":
		if cfg.HTTP.BaseURL == "" {
			return nil, fmt.Errorf("store: http.base_url is required")
		}
		return NewHTTPStore(cfg.HTTP)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotSupported,
			fmt.Sprintf("store: unsupported type %q", cfg.Type))
	}
}
