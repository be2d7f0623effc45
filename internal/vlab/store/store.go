// Package store 持久化节点状态快照
//
// 每次调用 Save 都整体覆盖上一次的快照，读者不会看到写了一半的数据；
// 不存在历史状态时 Load 返回空切片而不是错误。
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jimyag/vlab/internal/vlab/entity"
)

// Store 节点状态存储
type Store interface {
	// Load 读取完整的节点快照，保持保存时的顺序
	Load(ctx context.Context) ([]entity.Node, error)
	// Save 原子地覆盖整个快照
	Save(ctx context.Context, nodes []entity.Node) error
	// Close 释放底层资源
	Close() error
}

// 支持的存储驱动
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

// New 根据驱动名在 dataDir 下打开存储
func New(driver, dataDir string) (Store, error) {
	if driver != DriverMemory {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	switch driver {
	case DriverJSON, "":
		return NewJSONStore(filepath.Join(dataDir, "nodes.json")), nil
	case DriverSQLite:
		return NewSQLiteStore(filepath.Join(dataDir, "vlab.db"))
	case DriverBolt:
		return NewBoltStore(filepath.Join(dataDir, "vlab.bolt"))
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// cloneNodes 深拷贝节点列表，避免调用方和存储共享指针字段
func cloneNodes(nodes []entity.Node) []entity.Node {
	out := make([]entity.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Clone())
	}
	return out
}
