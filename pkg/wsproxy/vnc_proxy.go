package wsproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	bufferSize  = 32 * 1024
	dialTimeout = 5 * time.Second
)

// VNCProxy 在浏览器 WebSocket 和 QEMU 的 VNC TCP 端口之间转发 RFB 数据
type VNCProxy struct {
	addr    string
	wsConn  *websocket.Conn
	vncConn net.Conn
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewVNCProxy 创建 VNC 代理，addr 为 host:port
func NewVNCProxy(ctx context.Context, addr string, wsConn *websocket.Conn) *VNCProxy {
	return &VNCProxy{
		addr:   addr,
		wsConn: wsConn,
		logger: zerolog.Ctx(ctx).With().Str("vnc_addr", addr).Logger(),
	}
}

// Start 连接 VNC 端口并开始双向转发，任意一侧断开后返回
func (p *VNCProxy) Start(ctx context.Context) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial vnc %s: %w", p.addr, err)
	}
	p.vncConn = conn

	p.logger.Info().Msg("VNC proxy connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.forwardVNCToWS()
	}()
	go func() {
		defer wg.Done()
		p.forwardWSToVNC()
	}()

	// 请求取消时主动断开两端
	stop := context.AfterFunc(ctx, p.Close)
	defer stop()

	wg.Wait()
	return nil
}

func (p *VNCProxy) forwardVNCToWS() {
	defer p.Close()

	buffer := make([]byte, bufferSize)
	total := 0
	for {
		n, err := p.vncConn.Read(buffer)
		if n > 0 {
			total += n
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return
			}
			werr := p.wsConn.WriteMessage(websocket.BinaryMessage, buffer[:n])
			p.mu.Unlock()
			if werr != nil {
				p.logger.Debug().Err(werr).Msg("Error writing to WebSocket")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				p.logger.Debug().Err(err).Msg("Error reading from VNC")
			}
			p.logger.Info().Int("total_bytes_forwarded", total).Msg("VNC->WS forwarding stopped")
			return
		}
	}
}

func (p *VNCProxy) forwardWSToVNC() {
	defer p.Close()

	total := 0
	for {
		messageType, data, err := p.wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			p.logger.Info().Int("total_bytes_forwarded", total).Msg("WS->VNC forwarding stopped")
			return
		}

		// noVNC 只发二进制帧
		if messageType != websocket.BinaryMessage {
			continue
		}
		total += len(data)
		if _, err := p.vncConn.Write(data); err != nil {
			p.logger.Debug().Err(err).Msg("Error writing to VNC")
			return
		}
	}
}

// Close 关闭两端连接，可重复调用
func (p *VNCProxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.vncConn != nil {
		_ = p.vncConn.Close()
	}
	if p.wsConn != nil {
		_ = p.wsConn.Close()
	}

	p.logger.Info().Msg("VNC proxy closed")
}
