package artifact

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/medcost/config"
	"github.com/rushteam/medcost/core"
	"github.com/rushteam/medcost/feature"
	"github.com/rushteam/medcost/model"
)

// Loader 在启动时一次性读取全部制品并构建 Bundle，任何错误立即失败。
type Loader struct {
	store      core.Store
	logger     *zap.Logger
	sequential bool
}

// Option 配置 Loader
type Option func(*Loader)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithSequentialScoring 让加载出的集成按顺序打分
func WithSequentialScoring(sequential bool) Option {
	return func(ld *Loader) {
		ld.sequential = sequential
	}
}

// NewLoader 创建加载器
func NewLoader(st core.Store, opts ...Option) *Loader {
	ld := &Loader{store: st, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load 是 NewLoader(st, opts...).Load(ctx, manifestKey) 的简写
func Load(ctx context.Context, st core.Store, manifestKey string, opts ...Option) (*Bundle, error) {
	return NewLoader(st, opts...).Load(ctx, manifestKey)
}

// Load 读取 manifest 及其引用的制品，返回的错误均为 ARTIFACT_LOAD_FAILURE。
func (ld *Loader) Load(ctx context.Context, manifestKey string) (*Bundle, error) {
	start := time.Now()
	if ld.store == nil {
		return nil, core.ArtifactLoadError(manifestKey, fmt.Errorf("store is nil"))
	}

	m, err := ld.LoadManifest(ctx, manifestKey)
	if err != nil {
		return nil, err
	}

	blobs, err := ld.fetch(ctx, m.Keys())
	if err != nil {
		return nil, err
	}

	assembler, err := buildAssembler(m, blobs)
	if err != nil {
		return nil, err
	}

	members, err := buildMembers(ctx, m.Models, blobs)
	if err != nil {
		return nil, err
	}
	ensemble, err := model.NewEnsemble(members...)
	if err != nil {
		closeAll(members)
		return nil, core.ArtifactLoadError(manifestKey, err)
	}
	ensemble.Sequential = ld.sequential

	bundle, err := NewBundle(m.Version, assembler, ensemble)
	if err != nil {
		closeAll(members)
		return nil, core.ArtifactLoadError(manifestKey, err)
	}

	ld.logger.Info("artifacts loaded",
		zap.String("store", ld.store.Name()),
		zap.String("manifest", manifestKey),
		zap.String("version", m.Version),
		zap.Strings("models", ensemble.Names()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return bundle, nil
}

// LoadManifest 只读取并校验 manifest
func (ld *Loader) LoadManifest(ctx context.Context, key string) (*Manifest, error) {
	raw, err := ld.store.Get(ctx, key)
	if err != nil {
		return nil, core.ArtifactLoadError(key, err)
	}
	m, err := ParseManifest(raw)
	if err != nil {
		return nil, core.ArtifactLoadError(key, err)
	}
	return m, nil
}

func (ld *Loader) fetch(ctx context.Context, keys []string) (map[string][]byte, error) {
	blobs, err := ld.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, core.ArtifactLoadError(keys[0], err)
	}
	for _, k := range keys {
		if _, ok := blobs[k]; !ok {
			return nil, core.ArtifactLoadError(k, core.ErrStoreNotFound)
		}
		ld.logger.Debug("artifact fetched", zap.String("key", k), zap.Int("bytes", len(blobs[k])))
	}
	return blobs, nil
}

func buildAssembler(m *Manifest, blobs map[string][]byte) (*feature.Assembler, error) {
	encoders := make([]*feature.LabelEncoder, 0, len(core.CategoricalFields))
	for _, field := range core.CategoricalFields {
		key := m.Encoders[field]
		enc, err := feature.ParseLabelEncoder(field, blobs[key])
		if err != nil {
			return nil, core.ArtifactLoadError(key, err)
		}
		encoders = append(encoders, enc)
	}
	registry, err := feature.NewEncoderRegistry(encoders...)
	if err != nil {
		return nil, core.ArtifactLoadError(m.Encoders[core.FieldSex], err)
	}

	scaler, err := feature.ParseStandardScaler(blobs[m.Scaler])
	if err != nil {
		return nil, core.ArtifactLoadError(m.Scaler, err)
	}
	assembler, err := feature.NewAssembler(registry, scaler)
	if err != nil {
		return nil, core.ArtifactLoadError(m.Scaler, err)
	}
	return assembler, nil
}

// buildMembers 并发构建集成成员，结果保持 manifest 中的顺序
func buildMembers(ctx context.Context, specs []config.ModelSpec, blobs map[string][]byte) ([]model.Regressor, error) {
	members := make([]model.Regressor, len(specs))
	eg, _ := errgroup.WithContext(ctx)
	for i, spec := range specs {
		eg.Go(func() error {
			var data []byte
			if !config.IsRemote(spec.Kind) {
				data = blobs[spec.Key]
			}
			m, err := config.BuildModel(spec, data)
			if err != nil {
				key := spec.Key
				if key == "" {
					key = spec.Name
				}
				return core.ArtifactLoadError(key, fmt.Errorf("build %s model %q: %w", spec.Kind, spec.Name, err))
			}
			members[i] = m
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		closeAll(members)
		return nil, err
	}
	return members, nil
}

// closeAll 在加载失败时释放已构建的成员，关闭错误被忽略
func closeAll(members []model.Regressor) {
	for _, m := range members {
		if c, ok := m.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
