package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听本地制品目录中 manifest 文件的变化。
// 发布流程最后写 manifest，所以 manifest 变化意味着一组新制品已就绪。
type Watcher struct {
	dir      string
	manifest string
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher 创建 Watcher；debounce 内的连续事件只触发一次
func NewWatcher(dir, manifestKey string, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dir: dir, manifest: filepath.Clean(manifestKey), debounce: debounce, logger: logger}
}

// Run 阻塞直到 ctx 取消，每当 manifest 被写入或创建（含 rename 到位）时调用 onChange
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("artifact watcher: %w", err)
	}
	defer fw.Close()

	// 监听 manifest 所在目录：原子替换（写临时文件再 rename）不会触发对旧文件的事件
	target := filepath.Join(w.dir, w.manifest)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("artifact watcher: watch %s: %w", filepath.Dir(target), err)
	}
	w.logger.Info("watching artifact manifest", zap.String("path", target))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			onChange(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}
