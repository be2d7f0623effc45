package qemu

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSupervisor 是 Supervisor 的 mock 实现
type MockSupervisor struct {
	mock.Mock
}

// NewMockSupervisor 创建新的 MockSupervisor
func NewMockSupervisor() *MockSupervisor {
	return &MockSupervisor{}
}

// Spawn 实现 Supervisor 接口
func (m *MockSupervisor) Spawn(ctx context.Context, spec LaunchSpec) (int, error) {
	args := m.Called(ctx, spec)
	return args.Int(0), args.Error(1)
}

// Terminate 实现 Supervisor 接口
func (m *MockSupervisor) Terminate(pid int) error {
	args := m.Called(pid)
	return args.Error(0)
}

// Alive 实现 Supervisor 接口
func (m *MockSupervisor) Alive(pid int) bool {
	args := m.Called(pid)
	return args.Bool(0)
}
