package store

import (
	"context"
	"sync"

	"github.com/jimyag/vlab/internal/vlab/entity"
)

// MemoryStore 进程内存储，主要用于测试和演示
// 每个实例相互独立，没有包级共享状态
type MemoryStore struct {
	mu    sync.Mutex
	nodes []entity.Node
	saves int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的 MemoryStore
func NewMemoryStore(initial ...entity.Node) *MemoryStore {
	return &MemoryStore{nodes: cloneNodes(initial)}
}

// Load 返回快照的深拷贝
func (s *MemoryStore) Load(_ context.Context) ([]entity.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneNodes(s.nodes), nil
}

// Save 保存快照的深拷贝
func (s *MemoryStore) Save(_ context.Context, nodes []entity.Node) error {
	cp := cloneNodes(nodes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = cp
	s.saves++
	return nil
}

// Saves 返回 Save 被调用的次数
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Close 无需释放资源
func (s *MemoryStore) Close() error {
	return nil
}
