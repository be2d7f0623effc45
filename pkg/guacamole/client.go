package guacamole

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Gateway 定义了远程控制台网关的接口
type Gateway interface {
	// Authenticate 登录网关获取 token
	Authenticate(ctx context.Context) (*Token, error)
	// FindConnection 查找节点已注册的连接，不存在时返回空字符串
	FindConnection(ctx context.Context, nodeID string) (string, error)
	// CreateConnection 为节点注册连接；已经存在时复用
	CreateConnection(ctx context.Context, spec ConnectionSpec) (string, error)
	// DeleteConnection 删除连接
	DeleteConnection(ctx context.Context, connectionID string) error
	// ConnectionURL 连接在网关 Web 界面里的地址
	ConnectionURL(connectionID string) string
	// ClientURL 带 token 的可直接打开的客户端地址
	ClientURL(connectionID string, token *Token) string
}

// Client Guacamole REST API 客户端
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ Gateway = (*Client)(nil)

// New 创建新的 Client
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if cfg.PublicURL == "" {
		cfg.PublicURL = cfg.BaseURL
	}
	if cfg.DataSource == "" {
		cfg.DataSource = "postgresql"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *Client) connectionsURL() string {
	return fmt.Sprintf("%s/api/session/data/%s/connections", c.cfg.BaseURL, url.PathEscape(c.cfg.DataSource))
}

// Authenticate 使用用户名密码换取 token
func (c *Client) Authenticate(ctx context.Context) (*Token, error) {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/tokens", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, "authenticate")
	if err != nil {
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if token.AuthToken == "" {
		return nil, errors.New("guacamole authToken missing in response")
	}
	if token.DataSource == "" {
		token.DataSource = c.cfg.DataSource
	}
	return &token, nil
}

// FindConnection 登录并查找节点对应的连接
func (c *Client) FindConnection(ctx context.Context, nodeID string) (string, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	rec, err := c.findConnection(ctx, token, nodeID)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.id(), nil
}

// findConnection 按 identifier == nodeID 或者名称匹配查找连接，不存在时返回 nil
func (c *Client) findConnection(ctx context.Context, token *Token, nodeID string) (*connectionRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.connectionsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	req.Header.Set("Guacamole-Token", token.AuthToken)

	body, err := c.do(req, "list connections")
	if err != nil {
		return nil, err
	}

	records, err := decodeConnections(body)
	if err != nil {
		return nil, err
	}

	name := ConnectionName(nodeID)
	for i := range records {
		if records[i].id() == nodeID || records[i].name() == name {
			return &records[i], nil
		}
	}
	return nil, nil
}

// connectionParameters 读取连接参数，列表里带了参数时直接使用
func (c *Client) connectionParameters(ctx context.Context, token *Token, rec *connectionRecord) (map[string]string, error) {
	if len(rec.Parameters) > 0 {
		return rec.Parameters, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.connectionsURL()+"/"+url.PathEscape(rec.id())+"/parameters", nil)
	if err != nil {
		return nil, fmt.Errorf("build parameters request: %w", err)
	}
	req.Header.Set("Guacamole-Token", token.AuthToken)

	body, err := c.do(req, "get connection parameters")
	if err != nil {
		return nil, err
	}
	params := map[string]string{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			return nil, fmt.Errorf("decode connection parameters: %w", err)
		}
	}
	return params, nil
}

// reuseConnection 复用已有连接；参数指向的主机或端口不一致时先更新
// 之前的删除失败时留下的连接可能还指向旧端口，而旧端口可能已经分给了别的节点
func (c *Client) reuseConnection(ctx context.Context, token *Token, rec *connectionRecord, spec ConnectionSpec) (string, error) {
	logger := zerolog.Ctx(ctx).With().Str("node_id", spec.NodeID).Str("connection_id", rec.id()).Logger()

	params, err := c.connectionParameters(ctx, token, rec)
	if err != nil {
		return "", err
	}
	if spec.matches(params) {
		logger.Info().Msg("Reusing existing gateway connection")
		return rec.id(), nil
	}

	logger.Warn().
		Str("stale_hostname", params["hostname"]).
		Str("stale_port", params["port"]).
		Int("vnc_port", spec.Port).
		Msg("Existing gateway connection is stale, updating it")
	if err := c.updateConnection(ctx, token, rec.id(), spec); err != nil {
		return "", err
	}
	return rec.id(), nil
}

func (c *Client) updateConnection(ctx context.Context, token *Token, connectionID string, spec ConnectionSpec) error {
	payload, err := json.Marshal(newConnectionRequest(connectionID, spec))
	if err != nil {
		return fmt.Errorf("encode connection: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.connectionsURL()+"/"+url.PathEscape(connectionID), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}
	req.Header.Set("Guacamole-Token", token.AuthToken)
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req, "update connection")
	return err
}

func newConnectionRequest(identifier string, spec ConnectionSpec) createConnectionRequest {
	return createConnectionRequest{
		ParentIdentifier: "ROOT",
		Name:             ConnectionName(spec.NodeID),
		Identifier:       identifier,
		Protocol:         "vnc",
		Parameters:       spec.parameters(),
		Attributes: map[string]string{
			"max-connections":          "",
			"max-connections-per-user": "",
		},
	}
}

// decodeConnections 解析连接列表，兼容数组和对象两种格式
func decodeConnections(body []byte) ([]connectionRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	switch body[0] {
	case '[':
		var list []connectionRecord
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode connection list: %w", err)
		}
		return list, nil
	case '{':
		var m map[string]connectionRecord
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode connection map: %w", err)
		}
		list := make([]connectionRecord, 0, len(m))
		for key, r := range m {
			if r.id() == "" {
				r.Identifier = flexString(key)
			}
			list = append(list, r)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unexpected connection list payload: %.64s", string(body))
	}
}

// CreateConnection 为节点注册 VNC 连接
// 先查找已有连接；创建返回冲突类状态码时再查找一次，保证不会重复注册。
// 复用的连接参数与 spec 不一致时会被更新
func (c *Client) CreateConnection(ctx context.Context, spec ConnectionSpec) (string, error) {
	logger := zerolog.Ctx(ctx)

	token, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}

	existing, err := c.findConnection(ctx, token, spec.NodeID)
	if err != nil {
		logger.Warn().Err(err).Str("node_id", spec.NodeID).Msg("Unable to list gateway connections")
	}
	if existing != nil {
		return c.reuseConnection(ctx, token, existing, spec)
	}

	payload, err := json.Marshal(newConnectionRequest(spec.NodeID, spec))
	if err != nil {
		return "", fmt.Errorf("encode connection: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.connectionsURL(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Guacamole-Token", token.AuthToken)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, "create connection")
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.conflictLike() {
			if found, ferr := c.findConnection(ctx, token, spec.NodeID); ferr == nil && found != nil {
				return c.reuseConnection(ctx, token, found, spec)
			}
		}
		return "", err
	}

	if id := createdIdentifier(body); id != "" {
		return id, nil
	}

	found, err := c.findConnection(ctx, token, spec.NodeID)
	if err != nil {
		return "", err
	}
	if found == nil {
		return "", errors.New("could not determine created connection id from guacamole response")
	}
	return found.id(), nil
}

// createdIdentifier 从创建响应中取出连接 ID
func createdIdentifier(body []byte) string {
	var resp struct {
		Identifier   flexString `json:"identifier"`
		ConnectionID flexString `json:"connection_id"`
		CamelID      flexString `json:"connectionId"`
		ID           flexString `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	for _, v := range []flexString{resp.Identifier, resp.ConnectionID, resp.CamelID, resp.ID} {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// DeleteConnection 删除连接
func (c *Client) DeleteConnection(ctx context.Context, connectionID string) error {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.connectionsURL()+"/"+url.PathEscape(connectionID), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Guacamole-Token", token.AuthToken)

	_, err = c.do(req, "delete connection")
	return err
}

// ConnectionURL 连接在网关 Web 界面里的地址
func (c *Client) ConnectionURL(connectionID string) string {
	return fmt.Sprintf("%s/#/client/%s", c.cfg.PublicURL, url.PathEscape(connectionID))
}

// ClientURL 带 token 和 dataSource 的客户端地址
func (c *Client) ClientURL(connectionID string, token *Token) string {
	q := url.Values{}
	q.Set("token", token.AuthToken)
	q.Set("dataSource", token.DataSource)
	return c.ConnectionURL(connectionID) + "?" + q.Encode()
}

// do 发送请求并读取响应体，非 2xx 返回 *StatusError
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("guacamole %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("guacamole %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
