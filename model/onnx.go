package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/rushteam/medcost/core"
)

// ortEnv 管理进程级的 ONNX Runtime 初始化（只初始化一次）
var ortEnv struct {
	once sync.Once
	err  error
}

// InitONNXRuntime 初始化 ONNX Runtime 环境，多次调用只有第一次生效。
// libPath 为 libonnxruntime 共享库路径。
func InitONNXRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXModel 通过 ONNX Runtime 执行导出的回归模型
// （如 onnxmltools / skl2onnx 转换的 XGBoost、LightGBM、CatBoost）。
//
// 输入：一个 float32 张量，形状 [1, 6]，顺序为 core.FeatureOrder。
// 输出：取第一个输出张量的第一个元素。
// ORT 会话支持并发 Run，张量按调用创建。
type ONNXModel struct {
	name        string
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputName  string
	outputShape ort.Shape
}

// ParseONNXModel 用 ONNX 字节创建会话，调用前需先 InitONNXRuntime。
func ParseONNXModel(name string, data []byte) (*ONNXModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnx: expected 1 input tensor, got %d", len(inputs))
	}
	if dims := inputs[0].Dimensions; len(dims) != 2 || (dims[1] > 0 && dims[1] != core.FeatureDim) {
		return nil, fmt.Errorf("onnx: expected input shape [batch, %d], got %v", core.FeatureDim, dims)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}

	outShape := make(ort.Shape, 0, len(outputs[0].Dimensions))
	for _, d := range outputs[0].Dimensions {
		if d <= 0 {
			d = 1
		}
		outShape = append(outShape, d)
	}
	if len(outShape) == 0 {
		outShape = ort.NewShape(1)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(1)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		data,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}
	return &ONNXModel{
		name:        name,
		session:     session,
		inputName:   inputs[0].Name,
		outputName:  outputs[0].Name,
		outputShape: outShape,
	}, nil
}

func (m *ONNXModel) Name() string { return m.name }

func (m *ONNXModel) Predict(vec core.FeatureVector) (float64, error) {
	if err := checkVector(vec); err != nil {
		return 0, err
	}
	data := make([]float32, len(vec))
	for i, v := range vec {
		data[i] = float32(v)
	}
	in, err := ort.NewTensor(ort.NewShape(1, int64(len(vec))), data)
	if err != nil {
		return 0, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	out, err := ort.NewEmptyTensor[float32](m.outputShape)
	if err != nil {
		return 0, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := m.session.Run([]ort.Value{in}, []ort.Value{out}); err != nil {
		return 0, fmt.Errorf("onnx: inference failed: %w", err)
	}
	result := out.GetData()
	if len(result) == 0 {
		return 0, fmt.Errorf("onnx: empty output %q", m.outputName)
	}
	return float64(result[0]), nil
}

// Close 释放 ONNX 会话
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}

var _ Regressor = (*ONNXModel)(nil)
