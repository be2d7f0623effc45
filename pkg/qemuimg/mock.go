package qemuimg

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 是 QemuImgClient 的 mock 实现
type MockClient struct {
	mock.Mock
}

// NewMockClient 创建新的 MockClient
func NewMockClient() *MockClient {
	return &MockClient{}
}

// CreateFromBackingFile 实现 QemuImgClient 接口
func (m *MockClient) CreateFromBackingFile(ctx context.Context, format, backingFormat, backingFile, outputFile string) error {
	args := m.Called(ctx, format, backingFormat, backingFile, outputFile)
	return args.Error(0)
}

// GetFormat 实现 QemuImgClient 接口
func (m *MockClient) GetFormat(ctx context.Context, imagePath string) (string, error) {
	args := m.Called(ctx, imagePath)
	return args.String(0), args.Error(1)
}

// BackingFile 实现 QemuImgClient 接口
func (m *MockClient) BackingFile(ctx context.Context, imagePath string) (string, error) {
	args := m.Called(ctx, imagePath)
	return args.String(0), args.Error(1)
}
