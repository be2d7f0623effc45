package guacamole

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Config 网关客户端配置
type Config struct {
	// BaseURL Guacamole 的地址，例如 http://localhost:8080/guacamole
	BaseURL string
	// PublicURL 浏览器访问 Guacamole 使用的地址，为空时使用 BaseURL
	PublicURL  string
	Username   string
	Password   string
	DataSource string
	Timeout    time.Duration
}

// Token 登录返回的凭证
type Token struct {
	AuthToken  string `json:"authToken"`
	Username   string `json:"username"`
	DataSource string `json:"dataSource"`
}

// ConnectionSpec 为节点创建 VNC 连接所需的信息
type ConnectionSpec struct {
	NodeID   string
	Hostname string
	Port     int
}

// connectionRecord 连接列表中的一条记录
// 同时兼容 Guacamole 原生字段和 connection_id/connection_name 形式
type connectionRecord struct {
	Identifier     flexString        `json:"identifier"`
	Name           string            `json:"name"`
	ConnectionID   flexString        `json:"connection_id"`
	ConnectionName string            `json:"connection_name"`
	Protocol       string            `json:"protocol"`
	Parameters     map[string]string `json:"parameters,omitempty"`
}

func (r connectionRecord) id() string {
	if r.Identifier != "" {
		return string(r.Identifier)
	}
	return string(r.ConnectionID)
}

func (r connectionRecord) name() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ConnectionName
}

// parameters 连接应当具有的 VNC 参数
func (s ConnectionSpec) parameters() map[string]string {
	return map[string]string{
		"hostname": s.Hostname,
		"port":     strconv.Itoa(s.Port),
		"password": "",
	}
}

// matches 连接是否已经指向 spec 描述的主机和端口
func (s ConnectionSpec) matches(params map[string]string) bool {
	return params["hostname"] == s.Hostname && params["port"] == strconv.Itoa(s.Port)
}

// createConnectionRequest POST /connections 和 PUT /connections/{id} 的请求体
type createConnectionRequest struct {
	ParentIdentifier string            `json:"parentIdentifier"`
	Name             string            `json:"name"`
	Identifier       string            `json:"identifier"`
	Protocol         string            `json:"protocol"`
	Parameters       map[string]string `json:"parameters"`
	Attributes       map[string]string `json:"attributes"`
}

// StatusError 网关返回了非 2xx 状态码
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("guacamole %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// conflictLike 创建连接时这些状态码可能意味着连接已经存在
func (e *StatusError) conflictLike() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError:
		return true
	}
	return false
}

// ConnectionName 节点对应连接的确定性名称
func ConnectionName(nodeID string) string {
	return "Node " + nodeID
}

// flexString 同时接受 JSON 字符串和数字
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
