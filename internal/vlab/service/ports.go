package service

import (
	"fmt"

	"github.com/jimyag/vlab/internal/vlab/entity"
	"github.com/jimyag/vlab/pkg/apierror"
)

// AllocatePort 从 base 开始向上查找第一个不在 occupied 中的端口
// 结果只取决于 occupied，重启后由运行中的节点重新计算即可
func AllocatePort(base, max int, occupied map[int]struct{}) (int, error) {
	if max < base {
		return 0, apierror.WrapError(apierror.ErrPortExhausted,
			fmt.Sprintf("invalid console port range %d-%d", base, max), nil)
	}
	for port := base; port <= max; port++ {
		if _, used := occupied[port]; !used {
			return port, nil
		}
	}
	return 0, apierror.WrapError(apierror.ErrPortExhausted,
		fmt.Sprintf("all console ports in %d-%d are in use", base, max), nil)
}

// occupiedPorts 收集运行中节点占用的端口
func occupiedPorts(nodes []entity.Node) map[int]struct{} {
	ports := make(map[int]struct{}, len(nodes))
	for i := range nodes {
		if nodes[i].IsRunning() && nodes[i].VNCPort != nil {
			ports[*nodes[i].VNCPort] = struct{}{}
		}
	}
	return ports
}
