// Package server 是预测服务的 HTTP 边界：路由、中间件、响应缓存和审计。
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/rushteam/medcost/audit"
	"github.com/rushteam/medcost/config"
	"github.com/rushteam/medcost/metrics"
	"github.com/rushteam/medcost/predict"
)

// Server 持有预测服务和 HTTP 相关组件
type Server struct {
	svc     atomic.Pointer[predict.Service]
	cfg     config.ServerConfig
	logger  *zap.Logger
	metrics *metrics.Collector
	cache   *lru.Cache[string, float64]
	auditor audit.Recorder

	httpServer *http.Server
}

// Option 配置 Server
type Option func(*Server)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics 启用 /metrics 和请求指标
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithCache 启用响应缓存
func WithCache(c *lru.Cache[string, float64]) Option {
	return func(s *Server) { s.cache = c }
}

// WithAuditor 启用审计（*audit.Log、*audit.KafkaSink 或 audit.Multi）
func WithAuditor(a audit.Recorder) Option {
	return func(s *Server) { s.auditor = a }
}

// NewCache 创建容量为 size 的响应缓存，size <= 0 时返回 nil（不缓存）
func NewCache(size int) (*lru.Cache[string, float64], error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, float64](size)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return c, nil
}

// New 创建 Server
func New(svc *predict.Service, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.svc.Store(svc)
	if s.metrics != nil {
		s.metrics.SetService(svc)
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Service 返回当前的预测服务
func (s *Server) Service() *predict.Service { return s.svc.Load() }

// Swap 原子替换预测服务（制品热更新），清空响应缓存，返回旧服务。
// 已在处理中的请求继续使用旧服务。
func (s *Server) Swap(svc *predict.Service) *predict.Service {
	old := s.svc.Swap(svc)
	if s.cache != nil {
		s.cache.Purge()
	}
	if s.metrics != nil {
		s.metrics.SetService(svc)
	}
	s.logger.Info("prediction service swapped",
		zap.String("old_version", old.Version()),
		zap.String("new_version", svc.Version()),
	)
	return old
}

// Handler 返回带中间件的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /{$}", "/", s.handleWelcome)
	s.handle(mux, "POST /predict", "/predict", s.handlePredict)
	s.handle(mux, "GET /healthz", "/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	chain := Chain(
		Recovery(s.logger),
		WithRequestID,
		AccessLog(s.logger),
		CORS(s.cfg.CORSOrigin),
		Timeout(s.cfg.RequestTimeout),
		MaxBytes(s.cfg.MaxBodyBytes),
	)
	return chain(mux)
}

func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc) {
	if s.metrics == nil {
		mux.Handle(pattern, h)
		return
	}
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		h(rw, r)
		s.metrics.ObserveHTTP(route, r.Method, rw.status, time.Since(start))
	}))
}

// ListenAndServe 监听 cfg.Addr，ctx 取消后优雅退出
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上提供服务，直到 ctx 取消或出错；ctx 取消时在 ShutdownTimeout 内等待进行中的请求
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started",
			zap.String("addr", ln.Addr().String()),
			zap.String("state", s.Service().State().String()),
			zap.String("artifact_version", s.Service().Version()),
		)
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down http server", zap.Duration("timeout", timeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
