package builders

import (
	"fmt"
	"time"

	"github.com/rushteam/medcost/config"
	"github.com/rushteam/medcost/model"
	"github.com/rushteam/medcost/pkg/conv"
	"github.com/rushteam/medcost/service"
)

func init() {
	config.Register("xgboost", BuildXGBoost)
	config.Register("lightgbm", BuildLightGBM)
	config.Register("catboost", BuildCatBoost)
	config.Register("linear", BuildLinear)
	config.Register("onnx", BuildONNX)
	config.RegisterRemote("kserve", BuildKServe)
	config.RegisterRemote("rpc", BuildRPC)
}

func BuildXGBoost(spec config.ModelSpec, data []byte) (model.Regressor, error) {
	return regressor(model.ParseXGBoostModel(spec.Name, data))
}

func BuildLightGBM(spec config.ModelSpec, data []byte) (model.Regressor, error) {
	return regressor(model.ParseLightGBMModel(spec.Name, data))
}

func BuildCatBoost(spec config.ModelSpec, data []byte) (model.Regressor, error) {
	return regressor(model.ParseCatBoostModel(spec.Name, data))
}

func BuildLinear(spec config.ModelSpec, data []byte) (model.Regressor, error) {
	return regressor(model.ParseLinearModel(spec.Name, data))
}

// BuildONNX 需要 onnxruntime 共享库；params.library 可覆盖进程级路径（只在首次初始化时生效）。
func BuildONNX(spec config.ModelSpec, data []byte) (model.Regressor, error) {
	if err := model.InitONNXRuntime(conv.ConfigGet(spec.Params, "library", "")); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}
	return regressor(model.ParseONNXModel(spec.Name, data))
}

// BuildKServe 构建 KServe 远程成员。
//
//	- {name: xgb, kind: kserve, endpoint: "http://xgb.models:8080",
//	   params: {model_name: xgb, protocol: v2, version: "3", input_name: input-0}}
func BuildKServe(spec config.ModelSpec, _ []byte) (model.Regressor, error) {
	svc, err := service.New(service.Config{
		Endpoint:     spec.Endpoint,
		ModelName:    conv.ConfigGet(spec.Params, "model_name", spec.Name),
		ModelVersion: conv.ConfigGet(spec.Params, "version", ""),
		Protocol:     service.Protocol(conv.ConfigGet(spec.Params, "protocol", "v2")),
		Timeout:      seconds(spec.Timeout),
		InputName:    conv.ConfigGet(spec.Params, "input_name", ""),
		OutputName:   conv.ConfigGet(spec.Params, "output_name", ""),
		BearerToken:  conv.ConfigGet(spec.Params, "bearer_token", ""),
	})
	if err != nil {
		return nil, err
	}
	return model.NewServiceModel(spec.Name, svc, seconds(spec.Timeout)), nil
}

func BuildRPC(spec config.ModelSpec, _ []byte) (model.Regressor, error) {
	if spec.Endpoint == "" {
		return nil, fmt.Errorf("rpc model %q: endpoint is required", spec.Name)
	}
	return model.NewRPCModel(spec.Name, spec.Endpoint, seconds(spec.Timeout)), nil
}

// regressor 避免把带类型的 nil 指针装进接口
func regressor[M model.Regressor](m M, err error) (model.Regressor, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
