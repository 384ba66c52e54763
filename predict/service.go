package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/medcost/artifact"
	"github.com/rushteam/medcost/core"
	"github.com/rushteam/medcost/pkg/dsl"
)

// State 是预测服务的生命周期状态
type State int

const (
	// StateReady 制品已加载，可以处理请求
	StateReady State = iota
	// StateFailed 制品不可用，拒绝所有请求（终态）
	StateFailed
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "failed"
}

// Result 是一次成功预测的结果
type Result struct {
	// Prediction 最终金额（两位小数）
	Prediction float64
	// Members 各集成成员的对数空间预测，顺序与 Models 对应
	Members []float64
	Models  []string
	// Version 制品版本
	Version string
	Elapsed time.Duration
}

// Response 是对外的响应结构：成功 {status, prediction}，失败 {status, message}
type Response struct {
	Status     string   `json:"status"`
	Prediction *float64 `json:"prediction,omitempty"`
	Message    string   `json:"message,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Observer 接收每次预测的结果，用于指标上报
type Observer interface {
	ObservePrediction(res *Result, err error, elapsed time.Duration)
}

// Service 是预测服务：组装特征、集成打分、聚合。
// 持有的 Bundle 只读，Predict 可被任意多个 goroutine 并发调用。
type Service struct {
	bundle   *artifact.Bundle
	state    State
	err      error
	agg      Aggregator
	rules    *dsl.RuleSet
	logger   *zap.Logger
	observer Observer
}

// Option 配置 Service
type Option func(*Service)

// WithRounding 设置舍入方式
func WithRounding(m RoundingMode) Option {
	return func(s *Service) { s.agg.Rounding = m }
}

// WithRules 设置准入规则，在字段齐全校验之后、特征组装之前求值
func WithRules(rs *dsl.RuleSet) Option {
	return func(s *Service) { s.rules = rs }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver 设置指标观察者
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService 用已加载的 Bundle 创建服务。Bundle 不可用时服务处于 Failed 状态。
func NewService(bundle *artifact.Bundle, opts ...Option) *Service {
	s := &Service{bundle: bundle, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := bundle.Check(); err != nil {
		s.fail(core.ArtifactLoadError("bundle", err))
	}
	return s
}

// NewFailedService 创建一个处于 Failed 状态的服务，所有请求都返回 err。
func NewFailedService(err error, opts ...Option) *Service {
	s := &Service{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if !core.IsArtifactLoadFailure(err) {
		err = core.ArtifactLoadError("bundle", err)
	}
	s.fail(err)
	return s
}

func (s *Service) fail(err error) {
	s.state = StateFailed
	s.err = err
	s.logger.Error("prediction service failed", zap.Error(err))
}

// State 返回当前状态
func (s *Service) State() State { return s.state }

// Err 返回 Failed 状态的原因，Ready 时为 nil
func (s *Service) Err() error { return s.err }

// Version 返回制品版本，Failed 时为空
func (s *Service) Version() string {
	if s.state != StateReady {
		return ""
	}
	return s.bundle.Version
}

// Predict 对一条记录做预测。单次请求失败不会改变服务状态。
func (s *Service) Predict(ctx context.Context, rec *core.RawRecord) (res *Result, err error) {
	start := time.Now()
	if s.observer != nil {
		defer func() { s.observer.ObservePrediction(res, err, time.Since(start)) }()
	}
	if s.state != StateReady {
		return nil, s.err
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkRules(rec); err != nil {
		return nil, err
	}
	vec, err := s.bundle.Assembler.Assemble(rec)
	if err != nil {
		return nil, err
	}
	preds, err := s.bundle.Ensemble.ScoreAll(ctx, vec)
	if err != nil {
		return nil, err
	}
	final, err := s.agg.Aggregate(preds...)
	if err != nil {
		return nil, err
	}

	res = &Result{
		Prediction: final,
		Members:    preds,
		Models:     s.bundle.Ensemble.Names(),
		Version:    s.bundle.Version,
		Elapsed:    time.Since(start),
	}
	s.logger.Debug("prediction",
		zap.Float64("prediction", final),
		zap.Float64s("members", preds),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (s *Service) checkRules(rec *core.RawRecord) error {
	if s.rules.Len() == 0 {
		return nil
	}
	err := s.rules.Check(rec.Values())
	if err == nil {
		return nil
	}
	de := core.NewDomainError(core.ModulePredict, core.ErrorCodeInvalidInput, "invalid input")
	var v *dsl.Violation
	if errors.As(err, &v) {
		de.Message = fmt.Sprintf("invalid input: %s", v.Error())
		de.Field = v.Rule
		return de
	}
	de.Err = err
	return de
}

// Handle 处理已解析的 JSON 请求体，返回对外响应；失败原因写入 message。
func (s *Service) Handle(ctx context.Context, payload map[string]any) Response {
	res, err := s.HandleResult(ctx, payload)
	if err != nil {
		return ErrorResponse(err)
	}
	return SuccessResponse(res.Prediction)
}

// HandleResult 与 Handle 相同，但返回完整结果和错误
func (s *Service) HandleResult(ctx context.Context, payload map[string]any) (*Result, error) {
	if s.state != StateReady {
		return nil, s.err
	}
	rec, err := core.ParseRecord(payload)
	if err != nil {
		return nil, err
	}
	res, err := s.Predict(ctx, rec)
	if err != nil {
		s.logger.Warn("prediction failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

// SuccessResponse 构造成功响应
func SuccessResponse(prediction float64) Response {
	return Response{Status: StatusSuccess, Prediction: &prediction}
}

// ErrorResponse 构造失败响应
func ErrorResponse(err error) Response {
	return Response{Status: StatusError, Message: err.Error()}
}
