package guacamole

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockGateway 是 Gateway 的 mock 实现
type MockGateway struct {
	mock.Mock
}

// NewMockGateway 创建新的 MockGateway
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Authenticate 实现 Gateway 接口
func (m *MockGateway) Authenticate(ctx context.Context) (*Token, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Token), args.Error(1)
}

// FindConnection 实现 Gateway 接口
func (m *MockGateway) FindConnection(ctx context.Context, nodeID string) (string, error) {
	args := m.Called(ctx, nodeID)
	return args.String(0), args.Error(1)
}

// CreateConnection 实现 Gateway 接口
func (m *MockGateway) CreateConnection(ctx context.Context, spec ConnectionSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

// DeleteConnection 实现 Gateway 接口
func (m *MockGateway) DeleteConnection(ctx context.Context, connectionID string) error {
	args := m.Called(ctx, connectionID)
	return args.Error(0)
}

// ConnectionURL 实现 Gateway 接口
func (m *MockGateway) ConnectionURL(connectionID string) string {
	args := m.Called(connectionID)
	return args.String(0)
}

// ClientURL 实现 Gateway 接口
func (m *MockGateway) ClientURL(connectionID string, token *Token) string {
	args := m.Called(connectionID, token)
	return args.String(0)
}
