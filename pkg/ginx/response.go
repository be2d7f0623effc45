package ginx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vlab/pkg/apierror"
)

// renderResponse 渲染成功响应
// 响应实现了 StatusCode() int 时使用其返回的状态码
func renderResponse(ctx *gin.Context, response any) {
	if response == nil {
		ctx.Status(http.StatusNoContent)
		return
	}

	status := http.StatusOK
	if sc, ok := response.(interface{ StatusCode() int }); ok {
		status = sc.StatusCode()
	}

	if s, ok := response.(string); ok {
		ctx.String(status, s)
		return
	}
	ctx.JSON(status, response)
}

// renderError 渲染错误响应
// *apierror.Error 使用自身的状态码；其他错误按 500 处理并隐藏细节
func renderError(ctx *gin.Context, err error) {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierror.WrapError(apierror.ErrInternalError, apierror.ErrInternalError.Message, err)
	}

	status := apiErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	ctx.JSON(status, apierror.NewErrorResponse(GetRequestID(ctx), apiErr))
}

// RenderError 供非 Adapt 包装的 handler（如 WebSocket 升级前的校验）输出错误
func RenderError(ctx *gin.Context, err error) {
	renderError(ctx, err)
}
