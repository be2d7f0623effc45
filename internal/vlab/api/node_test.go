package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jimyag/vlab/internal/vlab/entity"
	"github.com/jimyag/vlab/internal/vlab/metrics"
	"github.com/jimyag/vlab/pkg/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockNodeService 是 NodeServiceInterface 的 mock 实现
type MockNodeService struct {
	mock.Mock
}

func (m *MockNodeService) ListNodes(ctx context.Context) ([]entity.Node, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Node), args.Error(1)
}

func (m *MockNodeService) GetNode(ctx context.Context, id string) (*entity.Node, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Node), args.Error(1)
}

func (m *MockNodeService) CreateNode(ctx context.Context, baseImage string) (*entity.Node, error) {
	args := m.Called(ctx, baseImage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Node), args.Error(1)
}

func (m *MockNodeService) StartNode(ctx context.Context, id string) (*entity.Node, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Node), args.Error(1)
}

func (m *MockNodeService) StopNode(ctx context.Context, id string) (*entity.Node, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Node), args.Error(1)
}

func (m *MockNodeService) WipeNode(ctx context.Context, id string) (*entity.Node, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Node), args.Error(1)
}

func (m *MockNodeService) DeleteNode(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNodeService) ConsoleURL(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockNodeService) ListImages(ctx context.Context) ([]entity.BaseImage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.BaseImage), args.Error(1)
}

func stoppedNode(id string) *entity.Node {
	return &entity.Node{
		ID:          id,
		Status:      entity.NodeStatusStopped,
		OverlayPath: "/data/overlays/" + id + ".qcow2",
		BaseImage:   "/data/base/debian.qcow2",
	}
}

func runningNode(id string, port int) *entity.Node {
	n := stoppedNode(id)
	n.Status = entity.NodeStatusRunning
	n.PID = entity.Ptr(4242)
	n.VNCPort = entity.Ptr(port)
	n.GuacamoleConnectionID = entity.Ptr("7")
	n.GuacamoleURL = entity.Ptr("http://guac.local/guacamole/#/client/Nw")
	return n
}

func serve(api *API, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	api.Handler().ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp apierror.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Errors)
	return resp.Errors[0].Code
}

func TestNode_CreateNode(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name         string
		body         string
		mockSetup    func(*MockNodeService)
		expectStatus int
		expectCode   string
	}{
		{
			name: "successful create",
			body: `{"baseImage":"debian.qcow2"}`,
			mockSetup: func(m *MockNodeService) {
				m.On("CreateNode", mock.Anything, "debian.qcow2").Return(stoppedNode("node-1"), nil)
			},
			expectStatus: http.StatusCreated,
		},
		{
			name:         "missing base image",
			body:         `{}`,
			mockSetup:    func(m *MockNodeService) {},
			expectStatus: http.StatusBadRequest,
			expectCode:   apierror.ErrInvalidParameter.Code,
		},
		{
			name:         "blank base image",
			body:         `{"baseImage":"   "}`,
			mockSetup:    func(m *MockNodeService) {},
			expectStatus: http.StatusBadRequest,
			expectCode:   apierror.ErrInvalidParameter.Code,
		},
		{
			name:         "malformed json",
			body:         `{"baseImage":`,
			mockSetup:    func(m *MockNodeService) {},
			expectStatus: http.StatusBadRequest,
			expectCode:   apierror.ErrInvalidParameter.Code,
		},
		{
			name: "unknown base image",
			body: `{"baseImage":"nope.qcow2"}`,
			mockSetup: func(m *MockNodeService) {
				m.On("CreateNode", mock.Anything, "nope.qcow2").
					Return(nil, apierror.WrapError(apierror.ErrBaseImageNotFound, "base image nope.qcow2 not found", nil))
			},
			expectStatus: http.StatusBadRequest,
			expectCode:   apierror.ErrBaseImageNotFound.Code,
		},
		{
			name: "image tool failure",
			body: `{"baseImage":"debian.qcow2"}`,
			mockSetup: func(m *MockNodeService) {
				m.On("CreateNode", mock.Anything, "debian.qcow2").
					Return(nil, apierror.WrapError(apierror.ErrImageCreate, "qemu-img failed", nil))
			},
			expectStatus: http.StatusInternalServerError,
			expectCode:   apierror.ErrImageCreate.Code,
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := new(MockNodeService)
			tc.mockSetup(svc)
			api := New("127.0.0.1:0", svc, nil)

			w := serve(api, http.MethodPost, "/api/nodes", []byte(tc.body))
			assert.Equal(t, tc.expectStatus, w.Code)

			if tc.expectCode != "" {
				assert.Equal(t, tc.expectCode, errorCode(t, w))
			} else {
				var node entity.Node
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &node))
				assert.Equal(t, "node-1", node.ID)
				assert.Equal(t, entity.NodeStatusStopped, node.Status)
				assert.Nil(t, node.PID)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestNode_Lifecycle(t *testing.T) {
	t.Parallel()

	notFound := apierror.WrapError(apierror.ErrNodeNotFound, "node node-x not found", nil)

	testcases := []struct {
		name              string
		method            string
		path              string
		mockSetup         func(*MockNodeService)
		expectStatus      int
		expectCode        string
		expectStatusField entity.NodeStatus
	}{
		{
			name:   "get node",
			method: http.MethodGet,
			path:   "/api/nodes/node-1",
			mockSetup: func(m *MockNodeService) {
				m.On("GetNode", mock.Anything, "node-1").Return(stoppedNode("node-1"), nil)
			},
			expectStatus:      http.StatusOK,
			expectStatusField: entity.NodeStatusStopped,
		},
		{
			name:   "get unknown node",
			method: http.MethodGet,
			path:   "/api/nodes/node-x",
			mockSetup: func(m *MockNodeService) {
				m.On("GetNode", mock.Anything, "node-x").Return(nil, notFound)
			},
			expectStatus: http.StatusNotFound,
			expectCode:   apierror.ErrNodeNotFound.Code,
		},
		{
			name:   "run node",
			method: http.MethodPost,
			path:   "/api/nodes/node-1/run",
			mockSetup: func(m *MockNodeService) {
				m.On("StartNode", mock.Anything, "node-1").Return(runningNode("node-1", 5901), nil)
			},
			expectStatus:      http.StatusOK,
			expectStatusField: entity.NodeStatusRunning,
		},
		{
			name:   "run node with missing overlay",
			method: http.MethodPost,
			path:   "/api/nodes/node-1/run",
			mockSetup: func(m *MockNodeService) {
				m.On("StartNode", mock.Anything, "node-1").
					Return(nil, apierror.WrapError(apierror.ErrOverlayMissing, "overlay missing", nil))
			},
			expectStatus: http.StatusConflict,
			expectCode:   apierror.ErrOverlayMissing.Code,
		},
		{
			name:   "run node registration failure",
			method: http.MethodPost,
			path:   "/api/nodes/node-1/run",
			mockSetup: func(m *MockNodeService) {
				m.On("StartNode", mock.Anything, "node-1").
					Return(nil, apierror.WrapError(apierror.ErrRegistration, "gateway unavailable", nil))
			},
			expectStatus: http.StatusBadGateway,
			expectCode:   apierror.ErrRegistration.Code,
		},
		{
			name:   "stop node",
			method: http.MethodPost,
			path:   "/api/nodes/node-1/stop",
			mockSetup: func(m *MockNodeService) {
				m.On("StopNode", mock.Anything, "node-1").Return(stoppedNode("node-1"), nil)
			},
			expectStatus:      http.StatusOK,
			expectStatusField: entity.NodeStatusStopped,
		},
		{
			name:   "stop unknown node",
			method: http.MethodPost,
			path:   "/api/nodes/node-x/stop",
			mockSetup: func(m *MockNodeService) {
				m.On("StopNode", mock.Anything, "node-x").Return(nil, notFound)
			},
			expectStatus: http.StatusNotFound,
			expectCode:   apierror.ErrNodeNotFound.Code,
		},
		{
			name:   "wipe node",
			method: http.MethodPost,
			path:   "/api/nodes/node-1/wipe",
			mockSetup: func(m *MockNodeService) {
				m.On("WipeNode", mock.Anything, "node-1").Return(stoppedNode("node-1"), nil)
			},
			expectStatus:      http.StatusOK,
			expectStatusField: entity.NodeStatusStopped,
		},
		{
			name:   "delete node",
			method: http.MethodPost,
			path:   "/api/nodes/node-1/delete",
			mockSetup: func(m *MockNodeService) {
				m.On("DeleteNode", mock.Anything, "node-1").Return(nil)
			},
			expectStatus: http.StatusNoContent,
		},
		{
			name:   "delete unknown node",
			method: http.MethodPost,
			path:   "/api/nodes/node-x/delete",
			mockSetup: func(m *MockNodeService) {
				m.On("DeleteNode", mock.Anything, "node-x").Return(notFound)
			},
			expectStatus: http.StatusNotFound,
			expectCode:   apierror.ErrNodeNotFound.Code,
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := new(MockNodeService)
			tc.mockSetup(svc)
			api := New("127.0.0.1:0", svc, nil)

			w := serve(api, tc.method, tc.path, nil)
			assert.Equal(t, tc.expectStatus, w.Code)

			switch {
			case tc.expectCode != "":
				assert.Equal(t, tc.expectCode, errorCode(t, w))
			case tc.expectStatusField != "":
				var node entity.Node
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &node))
				assert.Equal(t, tc.expectStatusField, node.Status)
			default:
				assert.Empty(t, w.Body.String())
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestNode_ListNodes(t *testing.T) {
	t.Parallel()

	svc := new(MockNodeService)
	svc.On("ListNodes", mock.Anything).
		Return([]entity.Node{*stoppedNode("node-1"), *runningNode("node-2", 5902)}, nil)
	api := New("127.0.0.1:0", svc, nil)

	w := serve(api, http.MethodGet, "/api/nodes", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var nodes []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nodes))
	require.Len(t, nodes, 2)
	assert.Nil(t, nodes[0]["pid"])
	assert.Nil(t, nodes[0]["vncPort"])
	assert.Nil(t, nodes[0]["guacamoleConnectionId"])
	assert.Equal(t, "running", nodes[1]["status"])
	assert.EqualValues(t, 5902, nodes[1]["vncPort"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNode_ListNodes_Empty(t *testing.T) {
	t.Parallel()

	svc := new(MockNodeService)
	svc.On("ListNodes", mock.Anything).Return([]entity.Node{}, nil)
	api := New("127.0.0.1:0", svc, nil)

	w := serve(api, http.MethodGet, "/api/nodes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestNode_GuacConnect(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name         string
		mockSetup    func(*MockNodeService)
		expectStatus int
		expectURL    string
		expectCode   string
	}{
		{
			name: "registered node",
			mockSetup: func(m *MockNodeService) {
				m.On("ConsoleURL", mock.Anything, "node-1").
					Return("http://guac.local/guacamole/#/client/Nw?token=abc&dataSource=postgresql", nil)
			},
			expectStatus: http.StatusOK,
			expectURL:    "http://guac.local/guacamole/#/client/Nw?token=abc&dataSource=postgresql",
		},
		{
			name: "not registered",
			mockSetup: func(m *MockNodeService) {
				m.On("ConsoleURL", mock.Anything, "node-1").
					Return("", apierror.WrapError(apierror.ErrConsoleNotAvailable, "no connection", nil))
			},
			expectStatus: http.StatusConflict,
			expectCode:   apierror.ErrConsoleNotAvailable.Code,
		},
		{
			name: "unknown node",
			mockSetup: func(m *MockNodeService) {
				m.On("ConsoleURL", mock.Anything, "node-1").
					Return("", apierror.WrapError(apierror.ErrNodeNotFound, "not found", nil))
			},
			expectStatus: http.StatusNotFound,
			expectCode:   apierror.ErrNodeNotFound.Code,
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := new(MockNodeService)
			tc.mockSetup(svc)
			api := New("127.0.0.1:0", svc, nil)

			w := serve(api, http.MethodGet, "/api/guac/connect/node-1", nil)
			assert.Equal(t, tc.expectStatus, w.Code)
			if tc.expectCode != "" {
				assert.Equal(t, tc.expectCode, errorCode(t, w))
				return
			}
			var resp entity.ConsoleURLResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.expectURL, resp.URL)
		})
	}
}

func TestNode_ListImages(t *testing.T) {
	t.Parallel()

	svc := new(MockNodeService)
	svc.On("ListImages", mock.Anything).Return([]entity.BaseImage{
		{Name: "debian.qcow2", Path: "/data/base/debian.qcow2", SizeBytes: 1024},
	}, nil)
	api := New("127.0.0.1:0", svc, nil)

	w := serve(api, http.MethodGet, "/api/images", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"debian.qcow2","path":"/data/base/debian.qcow2","sizeBytes":1024}]`, w.Body.String())
}

func TestAPI_Metrics(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.SetNodeCounts(map[string]int{"running": 1, "stopped": 2})

	api := New("127.0.0.1:0", new(MockNodeService), m)
	w := serve(api, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `vlab_nodes{status="running"} 1`)

	noMetrics := New("127.0.0.1:0", new(MockNodeService), nil)
	w = serve(noMetrics, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
