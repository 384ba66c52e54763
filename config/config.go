package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/medcost/audit"
	"github.com/rushteam/medcost/pkg/dsl"
	"github.com/rushteam/medcost/pkg/logging"
	"github.com/rushteam/medcost/store"
)

// Config 是 medcostd 的进程配置（支持 YAML + MEDCOST_* 环境变量覆盖）。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       logging.Config  `yaml:"log"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Predict   PredictConfig   `yaml:"predict"`
	Cache     CacheConfig     `yaml:"cache"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigin      string        `yaml:"cors_origin"`
}

// ArtifactsConfig 制品来源：存储后端 + manifest 的 key
type ArtifactsConfig struct {
	store.Config `yaml:",inline"`
	// Manifest manifest 在存储中的 key
	Manifest string `yaml:"manifest"`
	// ONNXLibrary onnxruntime 共享库路径（使用 onnx 模型时需要）
	ONNXLibrary string `yaml:"onnx_library"`
	// Watch 监听 manifest 变化并热更新（仅 dir 存储）
	Watch bool `yaml:"watch"`
	// WatchDebounce 连续变化的合并窗口
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// PredictConfig 预测服务配置
type PredictConfig struct {
	// Rounding 舍入方式：half_even（默认）/ half_away
	Rounding string `yaml:"rounding"`
	// Sequential 集成成员顺序打分
	Sequential bool `yaml:"sequential"`
	// Rules 准入规则（CEL）
	Rules []dsl.Rule `yaml:"rules"`
}

// CacheConfig 响应缓存配置，Size 为 0 时关闭
type CacheConfig struct {
	Size int `yaml:"size"`
}

// AuditConfig 预测审计配置：SQLite 本地落库，可选同时写 Kafka
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	// Kafka 配置了 brokers 时启用
	Kafka audit.KafkaConfig `yaml:"kafka"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			RequestTimeout:  5 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORSOrigin:      "*",
		},
		Log: logging.DefaultConfig(),
		Artifacts: ArtifactsConfig{
			Config:   store.Config{Type: "dir", Dir: "artifacts"},
			Manifest: "manifest.yaml",
		},
		Predict: PredictConfig{Rounding: "half_even"},
		Cache:   CacheConfig{Size: 4096},
		Audit:   AuditConfig{DSN: "file:medcost_audit.db?_journal_mode=WAL"},
	}
}

// LoadFromYAML 从 YAML 文件加载配置，path 为空时只使用默认值和环境变量。
func LoadFromYAML(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 用 MEDCOST_* 环境变量覆盖配置。lookup 一般为 os.LookupEnv。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"MEDCOST_ADDR":           &c.Server.Addr,
		"MEDCOST_CORS_ORIGIN":    &c.Server.CORSOrigin,
		"MEDCOST_LOG_LEVEL":      &c.Log.Level,
		"MEDCOST_LOG_FORMAT":     &c.Log.Format,
		"MEDCOST_LOG_FILE":       &c.Log.File,
		"MEDCOST_ARTIFACT_STORE": &c.Artifacts.Type,
		"MEDCOST_ARTIFACT_DIR":   &c.Artifacts.Dir,
		"MEDCOST_MANIFEST":       &c.Artifacts.Manifest,
		"MEDCOST_REDIS_ADDR":     &c.Artifacts.Redis.Addr,
		"MEDCOST_REDIS_PASSWORD": &c.Artifacts.Redis.Password,
		"MEDCOST_REDIS_PREFIX":   &c.Artifacts.Redis.KeyPrefix,
		"MEDCOST_ARTIFACT_URL":   &c.Artifacts.HTTP.BaseURL,
		"MEDCOST_ARTIFACT_TOKEN": &c.Artifacts.HTTP.BearerToken,
		"MEDCOST_ORT_LIB":        &c.Artifacts.ONNXLibrary,
		"MEDCOST_ROUNDING":       &c.Predict.Rounding,
		"MEDCOST_AUDIT_DSN":      &c.Audit.DSN,
		"MEDCOST_AUDIT_TOPIC":    &c.Audit.Kafka.Topic,
	}
	for k, p := range str {
		if v, ok := lookup(k); ok {
			*p = v
		}
	}

	ints := map[string]*int{
		"MEDCOST_REDIS_DB":   &c.Artifacts.Redis.DB,
		"MEDCOST_CACHE_SIZE": &c.Cache.Size,
	}
	for k, p := range ints {
		if v, ok := lookup(k); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("env %s: %w", k, err)
			}
			*p = n
		}
	}

	if v, ok := lookup("MEDCOST_AUDIT_BROKERS"); ok {
		c.Audit.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Audit.Kafka.Brokers = append(c.Audit.Kafka.Brokers, b)
			}
		}
	}

	if v, ok := lookup("MEDCOST_AUDIT_ENABLED"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env MEDCOST_AUDIT_ENABLED: %w", err)
		}
		c.Audit.Enabled = b
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	switch c.Artifacts.Type {
	case "dir", "":
		if c.Artifacts.Dir == "" {
			return fmt.Errorf("artifacts.dir is required for dir store")
		}
	case "redis":
		if c.Artifacts.Redis.Addr == "" {
			return fmt.Errorf("artifacts.redis.addr is required for redis store")
		}
	case "http":
		if c.Artifacts.HTTP.BaseURL == "" {
			return fmt.Errorf("artifacts.http.base_url is required for http store")
		}
	case "memory":
	default:
		return fmt.Errorf("artifacts.type %q is not supported (dir, redis, http, memory)", c.Artifacts.Type)
	}
	if c.Artifacts.Manifest == "" {
		return fmt.Errorf("artifacts.manifest is required")
	}
	if c.Artifacts.Watch && c.Artifacts.Type != "dir" && c.Artifacts.Type != "" {
		return fmt.Errorf("artifacts.watch requires the dir store")
	}
	switch c.Predict.Rounding {
	case "", "half_even", "half_away":
	default:
		return fmt.Errorf("predict.rounding %q is not supported (half_even, half_away)", c.Predict.Rounding)
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("cache.size must not be negative")
	}
	if c.Audit.Enabled && c.Audit.DSN == "" {
		return fmt.Errorf("audit.dsn is required when audit is enabled")
	}
	if len(c.Audit.Kafka.Brokers) > 0 && c.Audit.Kafka.Topic == "" {
		return fmt.Errorf("audit.kafka.topic is required when brokers are set")
	}
	return nil
}
