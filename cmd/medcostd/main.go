// medcostd 加载制品并提供医疗费用预测 HTTP 接口。
//
//	medcostd -config configs/medcost.yaml
//	medcostd -config configs/medcost.yaml -check   # 只校验制品，不启动服务
//	medcostd -config configs/medcost.yaml -publish ./out   # 把本地制品目录发布到配置的存储
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/medcost/artifact"
	"github.com/rushteam/medcost/audit"
	"github.com/rushteam/medcost/config"
	_ "github.com/rushteam/medcost/config/builders"
	"github.com/rushteam/medcost/core"
	"github.com/rushteam/medcost/metrics"
	"github.com/rushteam/medcost/model"
	"github.com/rushteam/medcost/pkg/dsl"
	"github.com/rushteam/medcost/pkg/logging"
	"github.com/rushteam/medcost/predict"
	"github.com/rushteam/medcost/server"
	"github.com/rushteam/medcost/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults + MEDCOST_* env when empty)")
	check := flag.Bool("check", false, "load artifacts, report the ensemble and exit")
	publish := flag.String("publish", "", "publish the artifact directory to the configured store and exit")
	flag.Parse()

	cfg, err := config.LoadFromYAML(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "medcostd: config: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "medcostd: logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if *publish != "" {
		if err := publishDir(cfg, *publish, logger); err != nil {
			logger.Error("publish failed", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
		return
	}
	if err := run(cfg, logger, *check); err != nil {
		logger.Error("medcostd exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// app 持有进程内共享的组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	rounding  predict.RoundingMode
	rules     *dsl.RuleSet
}

func run(cfg *config.Config, logger *zap.Logger, checkOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, logger: logger, collector: metrics.New()}
	var err error
	if a.rounding, err = predict.ParseRoundingMode(cfg.Predict.Rounding); err != nil {
		return err
	}
	if a.rules, err = dsl.Compile(cfg.Predict.Rules); err != nil {
		return fmt.Errorf("predict rules: %w", err)
	}

	bundle, err := a.loadBundle(ctx)
	if err != nil {
		return err
	}

	if checkOnly {
		defer bundle.Close()
		logger.Info("artifacts ok",
			zap.String("version", bundle.Version),
			zap.Strings("models", bundle.Ensemble.Names()),
		)
		return nil
	}

	svc := a.newService(bundle)
	if svc.State() != predict.StateReady {
		bundle.Close()
		return svc.Err()
	}

	opts := []server.Option{
		server.WithLogger(logger.Named("http")),
		server.WithMetrics(a.collector),
	}
	cache, err := server.NewCache(cfg.Cache.Size)
	if err != nil {
		return err
	}
	if cache != nil {
		opts = append(opts, server.WithCache(cache))
	}
	if cfg.Audit.Enabled {
		recorders, closeAudit, err := openAudit(cfg.Audit, logger)
		if err != nil {
			return err
		}
		defer closeAudit()
		opts = append(opts, server.WithAuditor(recorders))
	}
	srv := server.New(svc, cfg.Server, opts...)

	reloads := make(chan *artifact.Bundle)
	if cfg.Artifacts.Watch {
		go a.watch(ctx, srv, reloads)
	}
	go func() {
		// 只有这个 goroutine 持有 current，热更新后延迟释放旧制品
		current := bundle
		for {
			select {
			case next := <-reloads:
				prev := current
				current = next
				time.AfterFunc(cfg.Server.RequestTimeout+time.Second, func() { prev.Close() })
			case <-ctx.Done():
				return
			}
		}
	}()

	return srv.ListenAndServe(ctx)
}

// watch 在 manifest 变化时加载新制品并替换服务；新制品不可用时继续使用当前版本
func (a *app) watch(ctx context.Context, srv *server.Server, reloads chan<- *artifact.Bundle) {
	w := artifact.NewWatcher(a.cfg.Artifacts.Dir, a.cfg.Artifacts.Manifest,
		a.cfg.Artifacts.WatchDebounce, a.logger.Named("watch"))
	err := w.Run(ctx, func(ctx context.Context) {
		next, err := a.loadBundle(ctx)
		if err != nil {
			a.logger.Error("artifact reload failed, keeping current version",
				zap.String("version", srv.Service().Version()), zap.Error(err))
			return
		}
		svc := a.newService(next)
		if svc.State() != predict.StateReady {
			next.Close()
			return
		}
		srv.Swap(svc)
		select {
		case reloads <- next:
		case <-ctx.Done():
		}
	})
	if err != nil {
		a.logger.Error("artifact watcher stopped", zap.Error(err))
	}
}

func (a *app) newService(b *artifact.Bundle) *predict.Service {
	return predict.NewService(b,
		predict.WithRounding(a.rounding),
		predict.WithRules(a.rules),
		predict.WithLogger(a.logger.Named("predict")),
		predict.WithObserver(a.collector),
	)
}

// loadBundle 打开制品存储并加载；任何失败都是 ARTIFACT_LOAD_FAILURE
func (a *app) loadBundle(ctx context.Context) (*artifact.Bundle, error) {
	cfg := a.cfg.Artifacts
	if cfg.ONNXLibrary != "" {
		if err := model.InitONNXRuntime(cfg.ONNXLibrary); err != nil {
			return nil, core.ArtifactLoadError(cfg.ONNXLibrary, err)
		}
	}
	st, err := store.New(cfg.Config)
	if err != nil {
		return nil, core.ArtifactLoadError(cfg.Manifest, err)
	}
	defer st.Close()

	return artifact.Load(ctx, st, cfg.Manifest,
		artifact.WithLogger(a.logger.Named("artifact")),
		artifact.WithSequentialScoring(a.cfg.Predict.Sequential),
	)
}

// openAudit 打开 SQLite 审计库，配置了 brokers 时同时写 Kafka
func openAudit(cfg config.AuditConfig, logger *zap.Logger) (audit.Multi, func(), error) {
	auditLog, err := audit.Open(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return audit.Multi{auditLog}, func() { auditLog.Close() }, nil
	}
	sink, err := audit.NewKafkaSink(cfg.Kafka, logger.Named("audit"))
	if err != nil {
		auditLog.Close()
		return nil, nil, err
	}
	closeAll := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Close(ctx); err != nil {
			logger.Warn("kafka audit close", zap.Error(err))
		}
		auditLog.Close()
	}
	return audit.Multi{auditLog, sink}, closeAll, nil
}

// publishDir 读取本地目录中的 manifest 与制品，写入 cfg.Artifacts 配置的存储；manifest 最后写入
func publishDir(cfg *config.Config, dir string, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	src, err := store.NewDirStore(dir)
	if err != nil {
		return err
	}
	defer src.Close()
	m, err := artifact.NewLoader(src).LoadManifest(ctx, cfg.Artifacts.Manifest)
	if err != nil {
		return err
	}
	blobs, err := src.BatchGet(ctx, m.Keys())
	if err != nil {
		return err
	}

	dst, err := store.New(cfg.Artifacts.Config)
	if err != nil {
		return err
	}
	defer dst.Close()
	if err := artifact.Publish(ctx, dst, cfg.Artifacts.Manifest, m, blobs); err != nil {
		return err
	}
	logger.Info("artifacts published",
		zap.String("version", m.Version),
		zap.String("store", dst.Name()),
		zap.Int("artifacts", len(blobs)),
	)
	return nil
}
