package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/jimyag/vlab/internal/vlab/entity"
	"github.com/jimyag/vlab/pkg/qemu"
	"github.com/rs/zerolog"
)

// CleanupResult 一次尽力而为的清理动作的结果
// 清理失败只记日志，不影响所在操作的返回值
type CleanupResult struct {
	Step   string
	Target string
	Err    error
}

// OK 清理是否成功
func (r CleanupResult) OK() bool {
	return r.Err == nil
}

// teardown 终止进程并删除网关连接，不修改节点字段
func (s *NodeService) teardown(ctx context.Context, n *entity.Node) []CleanupResult {
	var results []CleanupResult
	if n.PID != nil {
		results = append(results, s.terminate(*n.PID))
	}
	if n.GuacamoleConnectionID != nil {
		results = append(results, s.deleteConnection(ctx, *n.GuacamoleConnectionID))
	}
	return results
}

// terminate 进程已经不存在视为成功
func (s *NodeService) terminate(pid int) CleanupResult {
	err := s.supervisor.Terminate(pid)
	if errors.Is(err, qemu.ErrProcessNotFound) {
		err = nil
	}
	return CleanupResult{Step: "terminate process", Target: strconv.Itoa(pid), Err: err}
}

func (s *NodeService) deleteConnection(ctx context.Context, connID string) CleanupResult {
	result := CleanupResult{Step: "delete gateway connection", Target: connID}
	if s.gateway != nil {
		result.Err = s.gateway.DeleteConnection(ctx, connID)
	}
	return result
}

func logCleanups(logger *zerolog.Logger, op string, results []CleanupResult) {
	for _, r := range results {
		if r.OK() {
			logger.Debug().Str("operation", op).Str("step", r.Step).Str("target", r.Target).Msg("Cleanup done")
			continue
		}
		logger.Warn().
			Err(r.Err).
			Str("operation", op).
			Str("step", r.Step).
			Str("target", r.Target).
			Msg("Cleanup failed, continuing")
	}
}
