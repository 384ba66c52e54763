package artifact

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rushteam/medcost/config"
	_ "github.com/rushteam/medcost/config/builders"
	"github.com/rushteam/medcost/core"
	"github.com/rushteam/medcost/store"
)

// copyTestdata 把 testdata 复制到 MemoryStore，返回 store 和制品内容
func copyTestdata(t *testing.T) (*store.MemoryStore, map[string][]byte) {
	t.Helper()
	entries, err := os.ReadDir("testdata")
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	blobs := make(map[string][]byte)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join("testdata", e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		blobs[e.Name()] = data
		if err := st.Set(context.Background(), e.Name(), data); err != nil {
			t.Fatal(err)
		}
	}
	return st, blobs
}

func TestLoad_DirStore(t *testing.T) {
	st, err := store.NewDirStore("testdata")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	b, err := Load(context.Background(), st, "manifest.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer b.Close()

	if b.Version != "2024-06-01" {
		t.Errorf("Version = %q", b.Version)
	}
	if names := b.Ensemble.Names(); strings.Join(names, ",") != "xgb,lgbm,catboost" {
		t.Errorf("Ensemble.Names() = %v", names)
	}

	smoker := core.NewRawRecord(30, "male", 28.5, 1, "yes", "southeast")
	vec, err := b.Assembler.Assemble(smoker)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	preds, err := b.Ensemble.ScoreAll(context.Background(), vec)
	if err != nil {
		t.Fatalf("ScoreAll() error = %v", err)
	}
	want := []float64{9.74, 9.7, 10.0}
	for i := range want {
		if math.Abs(preds[i]-want[i]) > 1e-9 {
			t.Errorf("preds[%d] = %v, want %v", i, preds[i], want[i])
		}
	}

	nonSmoker := core.NewRawRecord(30, "male", 28.5, 1, "no", "southeast")
	vec, _ = b.Assembler.Assemble(nonSmoker)
	low, err := b.Ensemble.ScoreAll(context.Background(), vec)
	if err != nil {
		t.Fatal(err)
	}
	for i := range low {
		if low[i] >= preds[i] {
			t.Errorf("model %d: non-smoker %v >= smoker %v", i, low[i], preds[i])
		}
	}
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(st *store.MemoryStore)
		wantKey string
	}{
		{"missing manifest", func(st *store.MemoryStore) { _ = st.Delete(context.Background(), "manifest.yaml") }, "manifest.yaml"},
		{"missing model", func(st *store.MemoryStore) { _ = st.Delete(context.Background(), "lgbm_model.json") }, "lgbm_model.json"},
		{"missing encoder", func(st *store.MemoryStore) { _ = st.Delete(context.Background(), "le_region.json") }, "le_region.json"},
		{"corrupt scaler", func(st *store.MemoryStore) {
			_ = st.Set(context.Background(), "scaler.json", []byte(`{"features": ["age"], "mean": [1], "scale": [1]}`))
		}, "scaler.json"},
		{"corrupt model", func(st *store.MemoryStore) {
			_ = st.Set(context.Background(), "catboost_model.json", []byte(`{"oblivious_trees": [`))
		}, "catboost_model.json"},
		{"two models", func(st *store.MemoryStore) {
			_ = st.Set(context.Background(), "manifest.yaml", []byte(`
version: v
encoders: {sex: le_sex.json, smoker: le_smoker.json, region: le_region.json}
scaler: scaler.json
models:
  - {name: xgb, kind: xgboost, key: xgb_model.json}
  - {name: lgbm, kind: lightgbm, key: lgbm_model.json}
`))
		}, "manifest.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _ := copyTestdata(t)
			tt.mutate(st)
			b, err := Load(context.Background(), st, "manifest.yaml")
			if err == nil {
				b.Close()
				t.Fatal("Load() expected error")
			}
			if !core.IsArtifactLoadFailure(err) {
				t.Errorf("Load() error = %v, want ARTIFACT_LOAD_FAILURE", err)
			}
			if de := core.GetDomainError(err); de == nil || de.Field != tt.wantKey {
				t.Errorf("failing key = %v, want %q", de, tt.wantKey)
			}
		})
	}
}

func TestManifest_Validate(t *testing.T) {
	valid := func() *Manifest {
		return &Manifest{
			Version:  "v1",
			Encoders: map[string]string{"sex": "a", "smoker": "b", "region": "c"},
			Scaler:   "s",
			Models: []config.ModelSpec{
				{Name: "xgb", Kind: "xgboost", Key: "x"},
				{Name: "lgbm", Kind: "lightgbm", Key: "l"},
				{Name: "remote", Kind: "kserve", Endpoint: "http://catboost.models:8080"},
			},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr bool
	}{
		{"valid", func(*Manifest) {}, false},
		{"missing encoder", func(m *Manifest) { delete(m.Encoders, "region") }, true},
		{"extra encoder", func(m *Manifest) { m.Encoders["age"] = "d" }, true},
		{"missing scaler", func(m *Manifest) { m.Scaler = "" }, true},
		{"four models", func(m *Manifest) {
			m.Models = append(m.Models, config.ModelSpec{Name: "lin", Kind: "linear", Key: "k"})
		}, true},
		{"unknown kind", func(m *Manifest) { m.Models[0].Kind = "random_forest" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			if err := m.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if keys := valid().Keys(); len(keys) != 6 {
		t.Errorf("Keys() = %v, want 6 keys (remote model has none)", keys)
	}
}

func TestPublish(t *testing.T) {
	src, blobs := copyTestdata(t)
	m, err := NewLoader(src).LoadManifest(context.Background(), "manifest.yaml")
	if err != nil {
		t.Fatal(err)
	}

	dst := store.NewMemoryStore()
	defer dst.Close()
	if err := Publish(context.Background(), dst, "releases/latest.yaml", m, blobs); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	b, err := Load(context.Background(), dst, "releases/latest.yaml", WithSequentialScoring(true))
	if err != nil {
		t.Fatalf("Load(published) error = %v", err)
	}
	if !b.Ensemble.Sequential {
		t.Error("WithSequentialScoring not applied")
	}

	delete(blobs, "scaler.json")
	if err := Publish(context.Background(), dst, "releases/broken.yaml", m, blobs); err == nil {
		t.Error("Publish() expected error for missing artifact")
	}
	if _, err := dst.Get(context.Background(), "releases/broken.yaml"); !core.IsStoreNotFound(err) {
		t.Error("manifest written despite missing artifact")
	}
}
