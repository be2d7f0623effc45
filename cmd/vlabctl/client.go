package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jimyag/vlab/internal/vlab/entity"
	"github.com/jimyag/vlab/pkg/apierror"
)

// client vlab HTTP API 客户端
type client struct {
	baseURL    string
	httpClient *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *client) listNodes(ctx context.Context) ([]entity.Node, error) {
	var nodes []entity.Node
	err := c.do(ctx, http.MethodGet, "/api/nodes", nil, &nodes)
	return nodes, err
}

func (c *client) getNode(ctx context.Context, id string) (*entity.Node, error) {
	node := new(entity.Node)
	if err := c.do(ctx, http.MethodGet, "/api/nodes/"+url.PathEscape(id), nil, node); err != nil {
		return nil, err
	}
	return node, nil
}

func (c *client) createNode(ctx context.Context, baseImage string) (*entity.Node, error) {
	node := new(entity.Node)
	req := entity.CreateNodeRequest{BaseImage: baseImage}
	if err := c.do(ctx, http.MethodPost, "/api/nodes", req, node); err != nil {
		return nil, err
	}
	return node, nil
}

// nodeAction 调用 run、stop、wipe 这类返回节点的动作
func (c *client) nodeAction(ctx context.Context, id, action string) (*entity.Node, error) {
	node := new(entity.Node)
	if err := c.do(ctx, http.MethodPost, "/api/nodes/"+url.PathEscape(id)+"/"+action, nil, node); err != nil {
		return nil, err
	}
	return node, nil
}

func (c *client) deleteNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/nodes/"+url.PathEscape(id)+"/delete", nil, nil)
}

func (c *client) consoleURL(ctx context.Context, id string) (string, error) {
	var resp entity.ConsoleURLResponse
	if err := c.do(ctx, http.MethodGet, "/api/guac/connect/"+url.PathEscape(id), nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *client) listImages(ctx context.Context) ([]entity.BaseImage, error) {
	var images []entity.BaseImage
	err := c.do(ctx, http.MethodGet, "/api/images", nil, &images)
	return images, err
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apierror.ErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && len(apiErr.Errors) > 0 {
			return &apiErr
		}
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
