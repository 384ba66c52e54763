package model

import (
	"os"
	"testing"
)

// 需要本机安装 onnxruntime：
//
//	MEDCOST_ORT_LIB=/usr/lib/libonnxruntime.so MEDCOST_ONNX_MODEL=testdata/model.onnx go test ./model -run ONNX
func TestONNXModel_Predict(t *testing.T) {
	lib, path := os.Getenv("MEDCOST_ORT_LIB"), os.Getenv("MEDCOST_ONNX_MODEL")
	if lib == "" || path == "" {
		t.Skip("MEDCOST_ORT_LIB / MEDCOST_ONNX_MODEL not set")
	}
	if err := InitONNXRuntime(lib); err != nil {
		t.Fatalf("InitONNXRuntime() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	m, err := ParseONNXModel("onnx", data)
	if err != nil {
		t.Fatalf("ParseONNXModel() error = %v", err)
	}
	defer m.Close()

	a, err := m.Predict(vec(0.5, 1, -0.2, 0, 1, 2))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	b, err := m.Predict(vec(0.5, 1, -0.2, 0, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("Predict() not deterministic: %v vs %v", a, b)
	}
	if _, err := m.Predict(vec(0, 0, 0, 0, 0, 0)[:3]); err == nil {
		t.Error("expected error for short vector")
	}
}
