package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// producer 是 *kgo.Client 中用到的方法
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaConfig 审计事件写入 Kafka 的配置
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// ClientID 默认 medcost-audit
	ClientID string `yaml:"client_id"`
	// RequiredAcks 0=不等待, 1=leader, -1=全部 ISR
	RequiredAcks int16 `yaml:"required_acks"`
	// Compression gzip / snappy / lz4 / zstd，为空不压缩
	Compression string `yaml:"compression"`
	// BatchSize 缓冲达到该数量时立即发送
	BatchSize int `yaml:"batch_size"`
	// FlushInterval 定时发送间隔
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// KafkaSink 把审计记录异步批量写入 Kafka。Record 只写缓冲，不阻塞请求。
type KafkaSink struct {
	client        producer
	topic         string
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	mu      sync.Mutex
	buffer  []Entry
	closed  bool
	dropped int64

	once   sync.Once
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// event 是写入 Kafka 的 JSON 结构
type event struct {
	RequestID  string         `json:"request_id"`
	Record     map[string]any `json:"record"`
	Prediction *float64       `json:"prediction,omitempty"`
	Status     string         `json:"status"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Version    string         `json:"version,omitempty"`
	LatencyUS  int64          `json:"latency_us"`
	Cached     bool           `json:"cached"`
	Timestamp  int64          `json:"ts"`
}

// NewKafkaSink 创建 Kafka 客户端并启动后台刷新
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("audit: kafka brokers and topic are required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "medcost-audit"
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	switch cfg.RequiredAcks {
	case 0:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case -1:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	}
	switch cfg.Compression {
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	case "":
	default:
		return nil, fmt.Errorf("audit: unsupported kafka compression %q", cfg.Compression)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("audit: kafka client: %w", err)
	}
	return newKafkaSink(client, cfg, logger), nil
}

func newKafkaSink(client producer, cfg KafkaConfig, logger *zap.Logger) *KafkaSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &KafkaSink{
		client:        client,
		topic:         cfg.Topic,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
		buffer:        make([]Entry, 0, cfg.BatchSize),
		stopCh:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// Record 缓冲一条记录；关闭后的写入被丢弃
func (s *KafkaSink) Record(_ context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.buffer = append(s.buffer, e)
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()

	if full {
		s.flush()
	}
	return nil
}

// Dropped 返回序列化或发送失败的记录数
func (s *KafkaSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *KafkaSink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.stopCh:
			return
		}
	}
}

func (s *KafkaSink) flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	entries := s.buffer
	s.buffer = make([]Entry, 0, s.batchSize)
	s.mu.Unlock()

	for _, e := range entries {
		data, err := json.Marshal(event{
			RequestID:  e.RequestID,
			Record:     e.Record,
			Prediction: e.Prediction,
			Status:     e.Status,
			Code:       e.Code,
			Message:    e.Message,
			Version:    e.Version,
			LatencyUS:  e.Latency.Microseconds(),
			Cached:     e.Cached,
			Timestamp:  e.CreatedAt.UnixMilli(),
		})
		if err != nil {
			s.drop(e.RequestID, err)
			continue
		}
		rec := &kgo.Record{Topic: s.topic, Key: []byte(e.RequestID), Value: data}
		s.client.Produce(context.Background(), rec, func(r *kgo.Record, err error) {
			if err != nil {
				s.drop(string(r.Key), err)
			}
		})
	}
}

func (s *KafkaSink) drop(requestID string, err error) {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
	s.logger.Warn("audit event dropped", zap.String("request_id", requestID), zap.Error(err))
}

// Close 发送剩余缓冲并关闭客户端，ctx 控制等待 broker 确认的时间
func (s *KafkaSink) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.stopCh)
		s.wg.Wait()
		s.flush()
		err = s.client.Flush(ctx)
		s.client.Close()
	})
	return err
}
