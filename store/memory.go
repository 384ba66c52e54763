package store

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/medcost/core"
)

// MemoryStore 进程内制品存储，测试和本地开发时使用。
// 过期的 key 在读取时视为不存在，写入时顺带清理。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

type object struct {
	data     []byte
	expireAt time.Time // 零值表示不过期
}

func (o object) expired(now time.Time) bool {
	return !o.expireAt.IsZero() && !now.Before(o.expireAt)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]object), now: time.Now}
}

func (m *MemoryStore) Name() string { return "memory" }

// Get 返回副本，调用方修改不影响已存内容
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok || o.expired(m.now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), o.data...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	o := object{data: append([]byte(nil), value...)}
	now := m.now()
	if len(ttl) > 0 && ttl[0] > 0 {
		o.expireAt = now.Add(time.Duration(ttl[0]) * time.Second)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, old := range m.objects {
		if old.expired(now) {
			delete(m.objects, k)
		}
	}
	m.objects[key] = o
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		data, err := m.Get(ctx, k)
		if err != nil {
			continue
		}
		out[k] = data
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ core.Store = (*MemoryStore)(nil)
