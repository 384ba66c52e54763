package core

import "context"

// Store 按 key 读写制品字节（manifest、编码器、标准化器、模型文件）。
// 预测服务只在加载时读取，Set/Delete 供发布工具使用；只读后端返回 NOT_SUPPORTED。
//
// 实现见 store 包：DirStore（本地目录）、RedisStore、HTTPStore（只读）、MemoryStore。
type Store interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 的 ttl 单位为秒，不传或 <=0 表示不过期
	Set(ctx context.Context, key string, value []byte, ttl ...int) error
	Delete(ctx context.Context, key string) error
	// BatchGet 不存在的 key 不出现在结果中
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Close() error
}

var (
	// ErrStoreNotFound key 不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: key not found")
	// ErrStoreNotSupported 后端不支持该操作
	ErrStoreNotSupported = NewDomainError(ModuleStore, ErrorCodeNotSupported, "store: operation not supported")
)

func IsStoreNotFound(err error) bool {
	return isStoreCode(err, ErrorCodeNotFound)
}

func IsStoreNotSupported(err error) bool {
	return isStoreCode(err, ErrorCodeNotSupported)
}

func isStoreCode(err error, code string) bool {
	de := GetDomainError(err)
	return de != nil && de.Module == ModuleStore && de.Code == code
}
