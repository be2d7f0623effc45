// Package entity 定义业务实体
package entity

import (
	"net/http"
	"strings"
	"time"

	"github.com/jimyag/vlab/pkg/apierror"
)

// NodeStatus 节点状态
type NodeStatus string

const (
	NodeStatusStopped NodeStatus = "stopped"
	NodeStatusRunning NodeStatus = "running"
)

// Node 节点信息
// 停止状态下 PID/VNCPort/网关字段均为 nil，序列化为 null
type Node struct {
	ID                    string     `json:"id"`                    // node-{sonyflake}
	Status                NodeStatus `json:"status"`                // stopped 或 running
	PID                   *int       `json:"pid"`                   // 虚拟机进程 pid
	VNCPort               *int       `json:"vncPort"`               // 控制台端口
	OverlayPath           string     `json:"overlayPath"`           // overlay 磁盘路径
	BaseImage             string     `json:"baseImage"`             // 基础镜像绝对路径
	GuacamoleConnectionID *string    `json:"guacamoleConnectionId"` // 网关连接 ID
	GuacamoleURL          *string    `json:"guacamoleUrl"`          // 网关连接地址
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// IsRunning 节点是否处于运行状态
func (n *Node) IsRunning() bool {
	return n.Status == NodeStatusRunning
}

// ClearRuntime 清空运行期字段并置为 stopped
func (n *Node) ClearRuntime() {
	n.Status = NodeStatusStopped
	n.PID = nil
	n.VNCPort = nil
	n.GuacamoleConnectionID = nil
	n.GuacamoleURL = nil
}

// Clone 深拷贝，指针字段不与原对象共享
func (n Node) Clone() Node {
	out := n
	out.PID = clonePtr(n.PID)
	out.VNCPort = clonePtr(n.VNCPort)
	out.GuacamoleConnectionID = clonePtr(n.GuacamoleConnectionID)
	out.GuacamoleURL = clonePtr(n.GuacamoleURL)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr 返回 v 的指针
func Ptr[T any](v T) *T {
	return &v
}

// CreateNodeRequest 创建节点请求
type CreateNodeRequest struct {
	BaseImage string `json:"baseImage"` // 基础镜像文件名，相对于基础镜像目录
}

// IsValid 校验请求
func (r *CreateNodeRequest) IsValid() error {
	r.BaseImage = strings.TrimSpace(r.BaseImage)
	if r.BaseImage == "" {
		return apierror.WrapError(apierror.ErrInvalidParameter, "baseImage is required", nil)
	}
	return nil
}

// CreateNodeResponse 创建节点响应
type CreateNodeResponse struct {
	*Node
}

// StatusCode 创建成功返回 201
func (CreateNodeResponse) StatusCode() int {
	return http.StatusCreated
}

// NodeIDRequest 路径中携带节点 ID 的请求
type NodeIDRequest struct {
	ID string `uri:"id" json:"-"`
}

// IsValid 校验请求
func (r *NodeIDRequest) IsValid() error {
	if strings.TrimSpace(r.ID) == "" {
		return apierror.WrapError(apierror.ErrInvalidParameter, "node id is required", nil)
	}
	return nil
}

// ConsoleURLResponse 控制台地址
type ConsoleURLResponse struct {
	URL string `json:"url"`
}
