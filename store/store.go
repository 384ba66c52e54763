package store

import "github.com/rushteam/medcost/core"

// 注意：此包只包含实现，接口定义在 core 包。
//
// 示例：
//
//	var st core.Store = store.NewDirStore("/var/lib/medcost/artifacts")
//	raw, err := st.Get(ctx, "models/xgboost.json")

// ErrNotFound 是 core.ErrStoreNotFound 的别名，便于包内使用
var ErrNotFound = core.ErrStoreNotFound
