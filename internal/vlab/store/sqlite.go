package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jimyag/vlab/internal/vlab/entity"
	"github.com/jinzhu/copier"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，不需要 CGO
)

// nodeModel 节点表
type nodeModel struct {
	ID                    string    `gorm:"primaryKey;type:text;column:id"`
	Position              int       `gorm:"not null;index:idx_nodes_position;column:position"` // 快照中的顺序
	Status                string    `gorm:"type:text;not null;column:status"`
	PID                   *int      `gorm:"column:pid"`
	VNCPort               *int      `gorm:"column:vnc_port"`
	OverlayPath           string    `gorm:"type:text;not null;column:overlay_path"`
	BaseImage             string    `gorm:"type:text;not null;column:base_image"`
	GuacamoleConnectionID *string   `gorm:"type:text;column:guacamole_connection_id"`
	GuacamoleURL          *string   `gorm:"type:text;column:guacamole_url"`
	CreatedAt             time.Time `gorm:"type:datetime;not null;autoCreateTime:false;column:created_at"`
	UpdatedAt             time.Time `gorm:"type:datetime;not null;autoUpdateTime:false;column:updated_at"`
}

// TableName 指定表名
func (nodeModel) TableName() string {
	return "nodes"
}

// SQLiteStore 每个节点一行，Save 在一个事务里整体替换
type SQLiteStore struct {
	db *gorm.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore 打开 SQLite 数据库并迁移表结构
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// 先用 modernc.org/sqlite 打开 database/sql 连接，再交给 GORM
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite 只允许一个写者
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dbPath,
		Conn:       sqlDB,
	}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	if err := db.AutoMigrate(&nodeModel{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load 按 position 顺序读取所有节点
func (s *SQLiteStore) Load(ctx context.Context) ([]entity.Node, error) {
	var rows []nodeModel
	if err := s.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}

	nodes := make([]entity.Node, 0, len(rows))
	for i := range rows {
		n, err := nodeModelToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, nil
}

// Save 删除旧快照并写入新快照，两步在同一个事务中
func (s *SQLiteStore) Save(ctx context.Context, nodes []entity.Node) error {
	rows := make([]nodeModel, 0, len(nodes))
	for i := range nodes {
		m, err := nodeEntityToModel(&nodes[i])
		if err != nil {
			return err
		}
		m.Position = i
		rows = append(rows, *m)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&nodeModel{}).Error; err != nil {
			return fmt.Errorf("clear nodes: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert nodes: %w", err)
		}
		return nil
	})
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// nodeEntityToModel 将 entity.Node 转换为 nodeModel
func nodeEntityToModel(e *entity.Node) (*nodeModel, error) {
	m := &nodeModel{}
	if err := copier.Copy(m, e); err != nil {
		return nil, fmt.Errorf("convert node %s: %w", e.ID, err)
	}
	m.Status = string(e.Status)
	return m, nil
}

// nodeModelToEntity 将 nodeModel 转换为 entity.Node
func nodeModelToEntity(m *nodeModel) (*entity.Node, error) {
	e := &entity.Node{}
	if err := copier.Copy(e, m); err != nil {
		return nil, fmt.Errorf("convert node %s: %w", m.ID, err)
	}
	e.Status = entity.NodeStatus(m.Status)
	// copier 只做浅拷贝，指针字段重新分配
	*e = e.Clone()
	return e, nil
}
