package qemuimg

import "context"

// QemuImgClient 定义了 qemu-img 客户端的接口
// 用于抽象 qemu-img 操作，便于测试和 mock
type QemuImgClient interface {
	// CreateFromBackingFile 从 backing file 创建新镜像
	CreateFromBackingFile(ctx context.Context, format, backingFormat, backingFile, outputFile string) error
	// GetFormat 获取镜像的实际格式
	GetFormat(ctx context.Context, imagePath string) (string, error)
	// BackingFile 获取镜像的 backing file，没有时返回空字符串
	BackingFile(ctx context.Context, imagePath string) (string, error)
}

var _ QemuImgClient = (*Client)(nil)
