package artifact

import (
	"context"
	"fmt"

	"github.com/rushteam/medcost/core"
)

// Publish 把制品写入 Store，最后写 manifest。
// 读者只有在 manifest 出现后才会读取制品，因此不会看到写了一半的版本。
func Publish(ctx context.Context, st core.Store, manifestKey string, m *Manifest, blobs map[string][]byte) error {
	if err := m.Validate(); err != nil {
		return err
	}
	for _, k := range m.Keys() {
		data, ok := blobs[k]
		if !ok {
			return fmt.Errorf("publish: artifact %q is missing", k)
		}
		if err := st.Set(ctx, k, data); err != nil {
			return fmt.Errorf("publish %q: %w", k, err)
		}
	}
	raw, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	if err := st.Set(ctx, manifestKey, raw); err != nil {
		return fmt.Errorf("publish %q: %w", manifestKey, err)
	}
	return nil
}
