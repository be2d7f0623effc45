package qemuimg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Client 封装 qemu-img 命令行工具的操作
type Client struct {
	qemuImgPath string
	timeout     time.Duration
}

// New 创建新的 qemuimg client
// qemuImgPath 是 qemu-img 的路径，如果为空则使用默认的 "qemu-img"
func New(qemuImgPath string) *Client {
	if qemuImgPath == "" {
		qemuImgPath = "qemu-img"
	}
	return &Client{
		qemuImgPath: qemuImgPath,
		timeout:     2 * time.Minute, // 增量镜像只写元数据，不需要很长时间
	}
}

// WithTimeout 设置操作超时时间
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// run 执行 qemu-img 子命令，返回合并后的输出
func (c *Client) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.qemuImgPath, args...)
	return cmd.CombinedOutput()
}

// CreateFromBackingFile 从 backing file 创建新镜像
//
// 参数：
//   - format: 输出镜像格式（如 "qcow2"）
//   - backingFormat: backing file 的格式（如 "qcow2"）
//   - backingFile: backing file 的路径
//   - outputFile: 输出文件路径
func (c *Client) CreateFromBackingFile(ctx context.Context, format, backingFormat, backingFile, outputFile string) error {
	output, err := c.run(ctx, c.timeout, "create",
		"-f", format,
		"-F", backingFormat,
		"-b", backingFile,
		outputFile,
	)
	if err != nil {
		return fmt.Errorf("failed to create image from backing file %s: %w, output: %s", backingFile, err, string(output))
	}

	return nil
}

// info 返回 qemu-img info 的原始输出
func (c *Client) info(ctx context.Context, imagePath string) (string, error) {
	output, err := c.run(ctx, 30*time.Second, "info", imagePath) // info 操作通常很快
	if err != nil {
		return "", fmt.Errorf("failed to get image info for %s: %w, output: %s", imagePath, err, string(output))
	}

	return string(output), nil
}

// GetFormat 获取镜像的实际格式
// 通过解析 qemu-img info 输出中的 "file format: xxx" 行获取
func (c *Client) GetFormat(ctx context.Context, imagePath string) (string, error) {
	out, err := c.info(ctx, imagePath)
	if err != nil {
		return "", err
	}

	format, ok := parseInfoField(out, "file format")
	if !ok || format == "" {
		return "", fmt.Errorf("failed to parse format from qemu-img info output for %s", imagePath)
	}
	return format, nil
}

// BackingFile 获取镜像的 backing file
// 没有 backing file 时返回空字符串
func (c *Client) BackingFile(ctx context.Context, imagePath string) (string, error) {
	out, err := c.info(ctx, imagePath)
	if err != nil {
		return "", err
	}

	backing, _ := parseInfoField(out, "backing file")
	// qemu-img 可能输出 "base.qcow2 (actual path: /abs/base.qcow2)"
	if idx := strings.Index(backing, " (actual path:"); idx >= 0 {
		backing = backing[:idx]
	}
	return backing, nil
}

// parseInfoField 从 qemu-img info 的输出里取出指定字段的值
func parseInfoField(info, field string) (string, bool) {
	prefix := field + ":"
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return "", false
}
