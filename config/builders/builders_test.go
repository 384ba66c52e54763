package builders

import (
	"testing"

	"github.com/rushteam/medcost/config"
)

func TestRegisteredKinds(t *testing.T) {
	kinds := config.SupportedKinds()
	want := []string{"catboost", "kserve", "lightgbm", "linear", "onnx", "rpc", "xgboost"}
	if len(kinds) != len(want) {
		t.Fatalf("SupportedKinds() = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("SupportedKinds()[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
	if !config.IsRemote("kserve") || !config.IsRemote("rpc") || config.IsRemote("xgboost") {
		t.Error("IsRemote() mismatch")
	}
}

func TestBuildModel(t *testing.T) {
	tests := []struct {
		name    string
		spec    config.ModelSpec
		data    string
		wantErr bool
	}{
		{"linear", config.ModelSpec{Name: "lin", Kind: "linear", Key: "lin.json"}, `{"bias": 9, "weights": {"smoker": 1.5}}`, false},
		{"xgboost", config.ModelSpec{Name: "xgb", Kind: "xgboost", Key: "xgb.json"}, `{"base_score": 9, "trees": [{"nodeid": 0, "leaf": 0.1}]}`, false},
		{"lightgbm", config.ModelSpec{Name: "lgbm", Kind: "lightgbm", Key: "lgbm.json"}, `{"tree_info": [{"tree_structure": {"leaf_value": 9.2}}]}`, false},
		{"catboost", config.ModelSpec{Name: "cb", Kind: "catboost", Key: "cb.json"}, `{"oblivious_trees": [{"leaf_values": [9.1], "splits": []}]}`, false},
		{"kserve", config.ModelSpec{Name: "remote", Kind: "kserve", Endpoint: "http://localhost:8080", Params: map[string]any{"protocol": "v1"}}, "", false},
		{"rpc", config.ModelSpec{Name: "rpc", Kind: "rpc", Endpoint: "http://localhost:8080/predict", Timeout: 2}, "", false},
		{"kserve bad endpoint", config.ModelSpec{Name: "remote", Kind: "kserve", Endpoint: "localhost:8500"}, "", true},
		{"corrupt artifact", config.ModelSpec{Name: "xgb", Kind: "xgboost", Key: "xgb.json"}, `{`, true},
		{"unknown kind", config.ModelSpec{Name: "rf", Kind: "random_forest", Key: "rf.pkl"}, `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var data []byte
			if tt.data != "" {
				data = []byte(tt.data)
			}
			m, err := config.BuildModel(tt.spec, data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildModel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && m.Name() != tt.spec.Name {
				t.Errorf("Name() = %q, want %q", m.Name(), tt.spec.Name)
			}
		})
	}
}

func TestValidateModelSpecs(t *testing.T) {
	tests := []struct {
		name    string
		specs   []config.ModelSpec
		wantErr bool
	}{
		{"ok", []config.ModelSpec{
			{Name: "xgb", Kind: "xgboost", Key: "xgb.json"},
			{Name: "remote", Kind: "kserve", Endpoint: "http://x"},
		}, false},
		{"duplicate", []config.ModelSpec{{Name: "a", Kind: "xgboost", Key: "a"}, {Name: "a", Kind: "linear", Key: "b"}}, true},
		{"no name", []config.ModelSpec{{Kind: "xgboost", Key: "a"}}, true},
		{"no key", []config.ModelSpec{{Name: "a", Kind: "xgboost"}}, true},
		{"no endpoint", []config.ModelSpec{{Name: "a", Kind: "rpc"}}, true},
		{"unknown kind", []config.ModelSpec{{Name: "a", Kind: "svm", Key: "a"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := config.ValidateModelSpecs(tt.specs); (err != nil) != tt.wantErr {
				t.Errorf("ValidateModelSpecs() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
