package ginx

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader 请求 ID 使用的 HTTP 头
const RequestIDHeader = "X-Request-ID"

type contextKey struct{}

var requestIDKey = contextKey{}

// RequestID 返回一个中间件：
// 为每个请求分配请求 ID（优先使用客户端传入的 X-Request-ID），
// 并把带有 request_id 字段的 zerolog logger 放进 request context
func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx.Set(requestIDKey, id)
		ctx.Header(RequestIDHeader, id)

		logger := zerolog.Ctx(ctx.Request.Context()).With().Str("request_id", id).Logger()
		ctx.Request = ctx.Request.WithContext(logger.WithContext(ctx.Request.Context()))

		ctx.Next()
	}
}

// GetRequestID 获取当前请求的请求 ID，未设置时返回空字符串
func GetRequestID(ctx *gin.Context) string {
	id, exists := ctx.Get(requestIDKey)
	if !exists {
		return ""
	}
	if str, ok := id.(string); ok {
		return str
	}
	return ""
}
