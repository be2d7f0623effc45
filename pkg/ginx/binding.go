package ginx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// hasBody 判断请求是否携带了请求体
func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

// bindArgs 先绑定 JSON 请求体（如果有），再绑定路径参数
// 路径参数最后绑定，避免被请求体里的同名字段覆盖
func bindArgs(ctx *gin.Context, args any) error {
	if hasBody(ctx.Request) {
		if err := ctx.ShouldBindJSON(args); err != nil {
			return err
		}
	}

	if len(ctx.Params) > 0 {
		if err := ctx.ShouldBindUri(args); err != nil {
			return err
		}
	}
	return nil
}
