package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jimyag/vlab/internal/vlab/entity"
	"go.etcd.io/bbolt"
)

var (
	nodesBucket = []byte("nodes")
	snapshotKey = []byte("snapshot")
)

// BoltStore 把快照作为一个 key 保存在 bbolt 中，由 bbolt 事务保证原子性
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore 打开或创建 bbolt 数据库
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nodesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load 读取快照
func (s *BoltStore) Load(_ context.Context) ([]entity.Node, error) {
	nodes := []entity.Node{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(nodesBucket).Get(snapshotKey)
		if len(data) == 0 {
			return nil
		}
		// data 只在事务内有效，Unmarshal 会复制
		return json.Unmarshal(data, &nodes)
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if nodes == nil {
		nodes = []entity.Node{}
	}
	return nodes, nil
}

// Save 在一个写事务中覆盖快照
func (s *BoltStore) Save(_ context.Context, nodes []entity.Node) error {
	if nodes == nil {
		nodes = []entity.Node{}
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(nodesBucket).Put(snapshotKey, data)
	}); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	return s.db.Close()
}
