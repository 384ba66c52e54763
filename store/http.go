package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/medcost/core"
)

// HTTPStore 是只读的 HTTP 制品存储：key 拼在 baseURL 之后，GET 获取内容。
// 适用于把制品目录挂在静态文件服务、对象存储网关或 CDN 后面的部署。
type HTTPStore struct {
	base        *url.URL
	client      *http.Client
	bearerToken string
	// 并发拉取的上限
	parallelism int
}

// HTTPConfig HTTP 存储配置
type HTTPConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	BearerToken string        `yaml:"bearer_token"`
}

// NewHTTPStore 创建 HTTP 存储
//
// 用法：
//
//	st, err := store.NewHTTPStore(store.HTTPConfig{BaseURL: "https://artifacts.internal/medcost/v3/"})
//	data, err := st.Get(ctx, "manifest.yaml")
func NewHTTPStore(cfg HTTPConfig) (*HTTPStore, error) {
	return NewHTTPStoreWithClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

// NewHTTPStoreWithClient 使用自定义 HTTP 客户端创建存储
func NewHTTPStoreWithClient(cfg HTTPConfig, client *http.Client) (*HTTPStore, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("store: invalid base_url %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if client.Timeout == 0 {
		client.Timeout = 10 * time.Second
	}
	return &HTTPStore{base: u, client: client, bearerToken: cfg.BearerToken, parallelism: 4}, nil
}

func (h *HTTPStore) Name() string { return "http" }

func (h *HTTPStore) url(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return "", core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput,
			fmt.Sprintf("store: invalid key %q", key))
	}
	ref, err := url.Parse(key)
	if err != nil {
		return "", core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput,
			fmt.Sprintf("store: invalid key %q", key))
	}
	return h.base.ResolveReference(ref).String(), nil
}

func (h *HTTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	u, err := h.url(key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("store: create request: %w", err)
	}
	if h.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.bearerToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store: GET %s: %w", key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, core.ErrStoreNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("store: GET %s: status=%d, body=%s", key, resp.StatusCode, string(body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	return data, nil
}

// Set HTTP 存储只读
func (h *HTTPStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	return core.NewDomainError(core.ModuleStore, core.ErrorCodeNotSupported, "store: http store is read-only")
}

// Delete HTTP 存储只读
func (h *HTTPStore) Delete(ctx context.Context, key string) error {
	return core.NewDomainError(core.ModuleStore, core.ErrorCodeNotSupported, "store: http store is read-only")
}

// BatchGet 并发拉取，不存在的 key 不出现在结果中
func (h *HTTPStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	var mu sync.Mutex
	out := make(map[string][]byte, len(keys))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(h.parallelism)
	for _, key := range keys {
		eg.Go(func() error {
			data, err := h.Get(egCtx, key)
			if core.IsStoreNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out[key] = data
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HTTPStore) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

var _ core.Store = (*HTTPStore)(nil)
