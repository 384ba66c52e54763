package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/rushteam/medcost/core"
)

// DirStore 是本地目录实现的 Store，key 为相对路径（使用 "/" 分隔）。
// 所有访问都通过 os.Root 限定在根目录内，"../x" 之类的 key 会被拒绝。
type DirStore struct {
	dir  string
	root *os.Root
}

// NewDirStore 打开制品目录，目录不存在时返回错误。
func NewDirStore(dir string) (*DirStore, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open artifact dir: %w", err)
	}
	return &DirStore{dir: dir, root: root}, nil
}

func (d *DirStore) Name() string { return "dir" }

// Dir 返回根目录
func (d *DirStore) Dir() string { return d.dir }

func (d *DirStore) path(key string) (string, error) {
	p := filepath.FromSlash(path.Clean(key))
	if key == "" || !filepath.IsLocal(p) {
		return "", core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput,
			fmt.Sprintf("store: invalid key %q", key))
	}
	return p, nil
}

func (d *DirStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	data, err := d.root.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Set 先写临时文件再 rename，读者不会看到写了一半的制品。ttl 被忽略。
func (d *DirStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(p); dir != "." {
		if err := d.root.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := p + ".tmp"
	if err := d.root.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return d.root.Rename(tmp, p)
}

func (d *DirStore) Delete(ctx context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := d.root.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *DirStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, k := range keys {
		data, err := d.Get(ctx, k)
		if core.IsStoreNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[k] = data
	}
	return result, nil
}

func (d *DirStore) Close() error {
	return d.root.Close()
}

var _ core.Store = (*DirStore)(nil)
