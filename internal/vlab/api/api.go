// Package api 提供 vlab 的 HTTP 接口
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vlab/internal/vlab/metrics"
	"github.com/jimyag/vlab/pkg/ginx"
	"github.com/rs/zerolog"
)

type API struct {
	engine *gin.Engine
	server *http.Server

	node    *Node
	console *ConsoleWS
}

// New 创建 API 并注册路由，m 为 nil 时不暴露 /metrics
func New(addr string, nodeService NodeServiceInterface, m *metrics.Metrics) *API {
	engine := gin.New()
	// handler 直接把 *gin.Context 作为 context.Context 传给 service
	engine.ContextWithFallback = true
	engine.Use(gin.Recovery(), ginx.RequestID(), accessLog())

	api := &API{
		engine:  engine,
		node:    NewNode(nodeService),
		console: NewConsoleWS(nodeService),
	}

	group := engine.Group("/api")
	api.node.RegisterRoutes(group)
	api.console.RegisterRoutes(group)
	if m != nil {
		engine.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api.server = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return api
}

// Handler 返回路由
func (a *API) Handler() http.Handler {
	return a.engine
}

// Run 实现 grace.Grace 接口
func (a *API) Run(ctx context.Context) error {
	zerolog.Ctx(ctx).Info().Str("address", a.server.Addr).Msg("HTTP API listening")
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 实现 grace.Grace 接口
func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Name 实现 grace.Grace 接口
func (a *API) Name() string {
	return "vlab API"
}

func accessLog() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		logger := zerolog.Ctx(ctx.Request.Context())
		event := logger.Info()
		if ctx.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Int("status", ctx.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
