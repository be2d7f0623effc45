package qemu

import "context"

// Supervisor 定义了虚拟机进程管理的接口
type Supervisor interface {
	// Spawn 以分离模式启动虚拟机进程，立即返回 pid，不等待客户机启动完成
	Spawn(ctx context.Context, spec LaunchSpec) (int, error)
	// Terminate 向进程发送 SIGTERM
	Terminate(pid int) error
	// Alive 判断进程是否仍然存在
	Alive(pid int) bool
}

var _ Supervisor = (*Client)(nil)
