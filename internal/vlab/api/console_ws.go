package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jimyag/vlab/pkg/apierror"
	"github.com/jimyag/vlab/pkg/ginx"
	"github.com/jimyag/vlab/pkg/wsproxy"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32768,
	WriteBufferSize: 32768,
	// noVNC 使用 binary 子协议
	Subprotocols: []string{"binary"},
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ConsoleWS 把浏览器的 WebSocket 转发到节点的 VNC 端口
type ConsoleWS struct {
	nodeService NodeServiceInterface
	vncHost     string
}

func NewConsoleWS(nodeService NodeServiceInterface) *ConsoleWS {
	return &ConsoleWS{
		nodeService: nodeService,
		vncHost:     "127.0.0.1",
	}
}

func (c *ConsoleWS) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/console/vnc/:id", c.HandleVNCWebSocket)
}

func (c *ConsoleWS) HandleVNCWebSocket(ctx *gin.Context) {
	logger := zerolog.Ctx(ctx.Request.Context())
	nodeID := ctx.Param("id")

	node, err := c.nodeService.GetNode(ctx, nodeID)
	if err != nil {
		ginx.RenderError(ctx, err)
		return
	}
	// 升级之前校验，失败时还能返回普通 JSON 错误
	if !node.IsRunning() || node.VNCPort == nil {
		ginx.RenderError(ctx, apierror.WrapError(apierror.ErrConsoleNotAvailable,
			fmt.Sprintf("node %s is not running", nodeID), nil))
		return
	}

	wsConn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		logger.Error().Err(err).Str("node_id", nodeID).Msg("Failed to upgrade WebSocket")
		return
	}

	addr := net.JoinHostPort(c.vncHost, strconv.Itoa(*node.VNCPort))
	logger.Info().Str("node_id", nodeID).Str("vnc_addr", addr).Msg("VNC WebSocket connected")

	proxy := wsproxy.NewVNCProxy(ctx.Request.Context(), addr, wsConn)
	if err := proxy.Start(ctx.Request.Context()); err != nil {
		logger.Error().Err(err).Str("node_id", nodeID).Msg("VNC proxy failed")
		_ = wsConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "VNC not reachable"))
		proxy.Close()
	}
}
