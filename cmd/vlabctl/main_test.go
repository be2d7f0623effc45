package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// fakeServer 按路径返回固定响应并记录请求
func fakeServer(t *testing.T, requests *[]recordedRequest) *httptest.Server {
	t.Helper()
	node := `{"id":"node-1","status":"stopped","pid":null,"vncPort":null,"overlayPath":"/o/node-1.qcow2",` +
		`"baseImage":"/b/debian.qcow2","guacamoleConnectionId":null,"guacamoleUrl":null,` +
		`"createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}`
	running := `{"id":"node-1","status":"running","pid":42,"vncPort":5901,"overlayPath":"/o/node-1.qcow2",` +
		`"baseImage":"/b/debian.qcow2","guacamoleConnectionId":"3","guacamoleUrl":"http://g/#/client/Mw",` +
		`"createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*requests = append(*requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/nodes":
			_, _ = io.WriteString(w, "["+node+"]")
		case r.Method == http.MethodPost && r.URL.Path == "/api/nodes":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, node)
		case r.URL.Path == "/api/nodes/node-1" || r.URL.Path == "/api/nodes/node-1/stop" ||
			r.URL.Path == "/api/nodes/node-1/wipe":
			_, _ = io.WriteString(w, node)
		case r.URL.Path == "/api/nodes/node-1/run":
			_, _ = io.WriteString(w, running)
		case r.URL.Path == "/api/nodes/node-1/delete":
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/guac/connect/node-1":
			_, _ = io.WriteString(w, `{"url":"http://g/#/client/Mw?token=t&dataSource=postgresql"}`)
		case r.URL.Path == "/api/images":
			_, _ = io.WriteString(w, `[{"name":"debian.qcow2","path":"/b/debian.qcow2","sizeBytes":2048}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[{"code":"NotFound","message":"node not found"}],"requestID":"r"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	jsonOut = false
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// 命令共用包级 flag 变量，不并行执行
func TestCommands(t *testing.T) {
	testcases := []struct {
		name        string
		args        []string
		expectReq   recordedRequest
		expectInOut string
	}{
		{
			name:        "list",
			args:        []string{"list"},
			expectReq:   recordedRequest{Method: http.MethodGet, Path: "/api/nodes"},
			expectInOut: "node-1",
		},
		{
			name:        "get",
			args:        []string{"get", "node-1"},
			expectReq:   recordedRequest{Method: http.MethodGet, Path: "/api/nodes/node-1"},
			expectInOut: "stopped",
		},
		{
			name:        "create",
			args:        []string{"create", "debian.qcow2"},
			expectReq:   recordedRequest{Method: http.MethodPost, Path: "/api/nodes", Body: `{"baseImage":"debian.qcow2"}`},
			expectInOut: "/b/debian.qcow2",
		},
		{
			name:        "run",
			args:        []string{"run", "node-1"},
			expectReq:   recordedRequest{Method: http.MethodPost, Path: "/api/nodes/node-1/run"},
			expectInOut: "5901",
		},
		{
			name:        "stop",
			args:        []string{"stop", "node-1"},
			expectReq:   recordedRequest{Method: http.MethodPost, Path: "/api/nodes/node-1/stop"},
			expectInOut: "stopped",
		},
		{
			name:        "wipe",
			args:        []string{"wipe", "node-1"},
			expectReq:   recordedRequest{Method: http.MethodPost, Path: "/api/nodes/node-1/wipe"},
			expectInOut: "stopped",
		},
		{
			name:        "delete",
			args:        []string{"delete", "node-1"},
			expectReq:   recordedRequest{Method: http.MethodPost, Path: "/api/nodes/node-1/delete"},
			expectInOut: "deleted node-1",
		},
		{
			name:        "console",
			args:        []string{"console", "node-1"},
			expectReq:   recordedRequest{Method: http.MethodGet, Path: "/api/guac/connect/node-1"},
			expectInOut: "token=t",
		},
		{
			name:        "images",
			args:        []string{"images"},
			expectReq:   recordedRequest{Method: http.MethodGet, Path: "/api/images"},
			expectInOut: "2048",
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var requests []recordedRequest
			srv := fakeServer(t, &requests)

			out, err := execute(t, srv, tc.args...)
			require.NoError(t, err)
			require.Len(t, requests, 1)

			got := requests[0]
			assert.Equal(t, tc.expectReq.Method, got.Method)
			assert.Equal(t, tc.expectReq.Path, got.Path)
			if tc.expectReq.Body != "" {
				assert.JSONEq(t, tc.expectReq.Body, got.Body)
			}
			assert.Contains(t, out, tc.expectInOut)
		})
	}
}

func TestCommands_APIError(t *testing.T) {
	var requests []recordedRequest
	srv := fakeServer(t, &requests)

	_, err := execute(t, srv, "stop", "node-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node not found")
}

func TestCommands_JSONOutput(t *testing.T) {
	var requests []recordedRequest
	srv := fakeServer(t, &requests)

	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs([]string{"--server", srv.URL, "--json", "list"})
	require.NoError(t, cmd.Execute())
	t.Cleanup(func() { jsonOut = false })

	var nodes []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Nil(t, nodes[0]["pid"])
	assert.True(t, strings.HasPrefix(nodes[0]["id"].(string), "node-"))
}
