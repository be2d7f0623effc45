package wsproxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEchoServer 启动一个把收到的数据原样写回的 TCP 服务
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func startProxyServer(t *testing.T, vncAddr string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		proxy := NewVNCProxy(r.Context(), vncAddr, wsConn)
		if err := proxy.Start(r.Context()); err != nil {
			_ = wsConn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "vnc unavailable"))
			_ = wsConn.Close()
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestVNCProxy_ForwardsBothWays(t *testing.T) {
	t.Parallel()

	wsURL := startProxyServer(t, startEchoServer(t))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("RFB 003.008\n")
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, payload))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got []byte
	for len(got) < len(payload) {
		messageType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, messageType)
		got = append(got, data...)
	}
	assert.Equal(t, payload, got)
}

func TestVNCProxy_DialFailure(t *testing.T) {
	t.Parallel()

	// 拿一个空闲端口后立即关闭，保证连接被拒绝
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	proxy := NewVNCProxy(context.Background(), addr, nil)
	err = proxy.Start(context.Background())
	assert.Error(t, err)
	proxy.Close()
}
