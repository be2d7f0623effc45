package idgen

import (
	"fmt"
	"os"
	"time"

	"github.com/sony/sonyflake"
)

// Generator 递增 ID 生成器
type Generator struct {
	sf *sonyflake.Sonyflake
}

// New 创建新的 ID 生成器
func New() *Generator {
	startTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: startTime,
	})
	if sf == nil {
		// 默认的机器 ID 取自私有 IP，没有私有 IP 的环境（容器、CI）里会失败，
		// 退化为使用进程号
		sf = sonyflake.NewSonyflake(sonyflake.Settings{
			StartTime: startTime,
			MachineID: func() (uint16, error) {
				return uint16(os.Getpid()), nil
			},
		})
	}

	return &Generator{
		sf: sf,
	}
}

// GenerateNodeID 生成节点 ID（格式：node-{递增 ID}）
func (g *Generator) GenerateNodeID() (string, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return "", fmt.Errorf("generate node ID: %w", err)
	}
	return fmt.Sprintf("node-%d", id), nil
}
