package qemu

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/rs/zerolog"
)

// VNCBasePort VNC display 0 对应的 TCP 端口
const VNCBasePort = 5900

var (
	// ErrProcessNotFound 进程已经不存在
	ErrProcessNotFound = errors.New("process not found")
	// ErrInvalidPID pid 非法
	ErrInvalidPID = errors.New("invalid pid")
)

// LaunchSpec 描述一次虚拟机启动
type LaunchSpec struct {
	Name     string // 虚拟机名称，传给 -name
	DiskPath string // overlay 磁盘路径，作为 virtio 主盘
	VNCPort  int    // VNC 监听端口，必须 >= 5900
	MemoryMB int    // 内存大小，为 0 时使用 Client 的默认值
}

// Client 通过 os/exec 管理 qemu-system 进程
type Client struct {
	binary   string
	memoryMB int
	vncBind  string
}

// New 创建新的 Client
// binary 为空时使用 "qemu-system-x86_64"，memoryMB 为 0 时使用 512
func New(binary string, memoryMB int) *Client {
	if binary == "" {
		binary = "qemu-system-x86_64"
	}
	if memoryMB <= 0 {
		memoryMB = 512
	}
	return &Client{
		binary:   binary,
		memoryMB: memoryMB,
		vncBind:  "0.0.0.0",
	}
}

// Args 生成 qemu 命令行参数
func (c *Client) Args(spec LaunchSpec) ([]string, error) {
	if spec.DiskPath == "" {
		return nil, fmt.Errorf("disk path is required")
	}
	if spec.VNCPort < VNCBasePort {
		return nil, fmt.Errorf("vnc port %d is below %d", spec.VNCPort, VNCBasePort)
	}
	memoryMB := spec.MemoryMB
	if memoryMB <= 0 {
		memoryMB = c.memoryMB
	}

	var args []string
	if spec.Name != "" {
		args = append(args, "-name", spec.Name)
	}
	args = append(args,
		"-drive", fmt.Sprintf("file=%s,if=virtio", spec.DiskPath),
		"-vnc", fmt.Sprintf("%s:%d", c.vncBind, spec.VNCPort-VNCBasePort),
		"-m", fmt.Sprintf("%dM", memoryMB),
	)
	return args, nil
}

// Spawn 启动虚拟机进程
// 不使用 CommandContext：ctx 结束时不能杀掉虚拟机
func (c *Client) Spawn(ctx context.Context, spec LaunchSpec) (int, error) {
	logger := zerolog.Ctx(ctx)

	args, err := c.Args(spec)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(c.binary, args...)
	// Stdin/Stdout/Stderr 为 nil 时连接到 /dev/null
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", c.binary, err)
	}
	pid := cmd.Process.Pid

	logger.Info().
		Int("pid", pid).
		Str("disk_path", spec.DiskPath).
		Int("vnc_port", spec.VNCPort).
		Msg("Hypervisor process started")

	// 在本进程存活期间回收子进程，避免退出后残留僵尸进程
	go func() {
		err := cmd.Wait()
		logger.Info().Err(err).Int("pid", pid).Msg("Hypervisor process exited")
	}()

	return pid, nil
}

// Terminate 向进程发送 SIGTERM
// 进程已不存在时返回 ErrProcessNotFound
func (c *Client) Terminate(pid int) error {
	if pid <= 0 {
		return ErrInvalidPID
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("terminate pid %d: %w", pid, ErrProcessNotFound)
		}
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	return nil
}

// Alive 通过 signal 0 判断进程是否存在
func (c *Client) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
