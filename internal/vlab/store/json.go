package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jimyag/vlab/internal/vlab/entity"
)

// JSONStore 把快照保存为单个 JSON 数组文件
type JSONStore struct {
	path string
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore 创建 JSONStore
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path 快照文件路径
func (s *JSONStore) Path() string {
	return s.path
}

// Load 读取快照，文件不存在或为空时返回空列表
func (s *JSONStore) Load(_ context.Context) ([]entity.Node, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []entity.Node{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return []entity.Node{}, nil
	}

	var nodes []entity.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	if nodes == nil {
		nodes = []entity.Node{}
	}
	return nodes, nil
}

// Save 写入临时文件后 rename 覆盖，再 fsync 所在目录
func (s *JSONStore) Save(_ context.Context, nodes []entity.Node) error {
	if nodes == nil {
		nodes = []entity.Node{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}
	// rename 之后目录项也要落盘，否则掉电后可能还是旧文件
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}

// Close 无需释放资源
func (s *JSONStore) Close() error {
	return nil
}
