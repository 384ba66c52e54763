// Package metrics 提供 Prometheus 指标：预测次数、错误码、耗时、成员输出和 HTTP 请求。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rushteam/medcost/core"
	"github.com/rushteam/medcost/predict"
)

const namespace = "medcost"

// Collector 持有独立的 Registry，避免与全局 DefaultRegisterer 冲突（测试中可多次创建）。
type Collector struct {
	registry *prometheus.Registry

	predictions      *prometheus.CounterVec
	predictLatency   prometheus.Histogram
	predictedAmount  prometheus.Histogram
	memberPrediction *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	artifact *prometheus.GaugeVec
	ready    prometheus.Gauge
}

// New 创建并注册全部指标
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions by outcome; code is the domain error code or OK.",
		}, []string{"status", "code"}),
		predictLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time spent in the prediction pipeline.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		predictedAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predicted_charges",
			Help:      "Distribution of predicted charges.",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 10),
		}),
		memberPrediction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "member_last_prediction",
			Help:      "Last log-space prediction of each ensemble member.",
		}, []string{"model"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		artifact: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifact_info",
			Help:      "Loaded artifact version (value is always 1).",
		}, []string{"version"}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_ready",
			Help:      "1 when the prediction service is ready, 0 when failed.",
		}),
	}
	c.registry.MustRegister(
		c.predictions,
		c.predictLatency,
		c.predictedAmount,
		c.memberPrediction,
		c.httpRequests,
		c.httpLatency,
		c.artifact,
		c.ready,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry 返回底层 Registry
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler 返回 /metrics 的 HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObservePrediction 实现 predict.Observer
func (c *Collector) ObservePrediction(res *predict.Result, err error, elapsed time.Duration) {
	c.predictLatency.Observe(elapsed.Seconds())
	if err != nil {
		c.predictions.WithLabelValues(predict.StatusError, ErrorCode(err)).Inc()
		return
	}
	c.predictions.WithLabelValues(predict.StatusSuccess, "OK").Inc()
	if res == nil {
		return
	}
	c.predictedAmount.Observe(res.Prediction)
	for i, name := range res.Models {
		if i < len(res.Members) {
			c.memberPrediction.WithLabelValues(name).Set(res.Members[i])
		}
	}
}

// ObserveHTTP 记录一次 HTTP 请求
func (c *Collector) ObserveHTTP(route, method string, code int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// SetService 记录服务状态和制品版本
func (c *Collector) SetService(svc *predict.Service) {
	c.artifact.Reset()
	if svc.State() != predict.StateReady {
		c.ready.Set(0)
		return
	}
	c.ready.Set(1)
	c.artifact.WithLabelValues(svc.Version()).Set(1)
}

// ErrorCode 返回错误对应的领域错误码，非领域错误为 INTERNAL
func ErrorCode(err error) string {
	if de := core.GetDomainError(err); de != nil {
		return de.Code
	}
	return "INTERNAL"
}

var _ predict.Observer = (*Collector)(nil)
