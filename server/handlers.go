package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/medcost/audit"
	"github.com/rushteam/medcost/core"
	"github.com/rushteam/medcost/metrics"
	"github.com/rushteam/medcost/predict"
)

// WelcomeMessage GET / 的返回信息
const WelcomeMessage = "Welcome to Medical Cost Prediction API"

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": WelcomeMessage})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	svc := s.Service()
	if svc.State() != predict.StateReady {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  predict.StatusError,
			"message": svc.Err().Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "ok",
		"artifact_version": svc.Version(),
	})
}

// handlePredict 成功返回 200，单次请求的错误返回 400，服务不可用返回 503
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	// 整个请求使用同一个服务实例，热更新不影响进行中的请求
	svc := s.Service()
	entry := audit.Entry{RequestID: RequestID(r.Context())}
	defer func() {
		entry.Latency = time.Since(start)
		s.audit(r.Context(), entry)
	}()

	if svc.State() != predict.StateReady {
		s.fail(w, &entry, http.StatusServiceUnavailable, svc.Err())
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		} else {
			err = fmt.Errorf("invalid JSON body: %w", err)
		}
		s.fail(w, &entry, http.StatusBadRequest,
			core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput, err.Error()))
		return
	}
	entry.Record = payload

	rec, err := core.ParseRecord(payload)
	if err != nil {
		s.fail(w, &entry, http.StatusBadRequest, err)
		return
	}

	key := svc.Version() + "|" + rec.Key()
	if s.cache != nil {
		if p, ok := s.cache.Get(key); ok {
			entry.Cached = true
			s.succeed(w, &entry, svc.Version(), p)
			return
		}
	}

	res, err := svc.Predict(r.Context(), rec)
	if err != nil {
		s.logger.Warn("prediction failed",
			zap.String("request_id", entry.RequestID),
			zap.Error(err),
		)
		s.fail(w, &entry, http.StatusBadRequest, err)
		return
	}
	if s.cache != nil {
		s.cache.Add(key, res.Prediction)
	}
	s.succeed(w, &entry, res.Version, res.Prediction)
}

func (s *Server) succeed(w http.ResponseWriter, entry *audit.Entry, version string, prediction float64) {
	entry.Status = predict.StatusSuccess
	entry.Prediction = &prediction
	entry.Version = version
	writeJSON(w, http.StatusOK, predict.SuccessResponse(prediction))
}

func (s *Server) fail(w http.ResponseWriter, entry *audit.Entry, status int, err error) {
	entry.Status = predict.StatusError
	entry.Code = metrics.ErrorCode(err)
	entry.Message = err.Error()
	writeJSON(w, status, predict.ErrorResponse(err))
}

func (s *Server) audit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	if entry.Record == nil {
		entry.Record = map[string]any{}
	}
	// 请求超时或客户端断开后仍然写入
	if err := s.auditor.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("audit record failed",
			zap.String("request_id", entry.RequestID),
			zap.Error(err),
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(msg string) predict.Response {
	return predict.Response{Status: predict.StatusError, Message: msg}
}
