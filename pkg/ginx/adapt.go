package ginx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vlab/pkg/apierror"
)

// Adapt3 适配无参数、有返回值和 error 的 handler
func Adapt3[T any](fn func(*gin.Context) (T, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		result, err := fn(ctx)
		if err != nil {
			renderError(ctx, err)
			return
		}
		renderResponse(ctx, result)
	}
}

// Adapt4 适配有参数、只返回 error 的 handler，成功时返回 204
func Adapt4[T any](fn func(*gin.Context, *T) error) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		args := new(T)
		if !bindAndValidate(ctx, args) {
			return
		}

		if err := fn(ctx, args); err != nil {
			renderError(ctx, err)
			return
		}

		ctx.Status(http.StatusNoContent)
	}
}

// Adapt5 适配有参数、有返回值和 error 的 handler
func Adapt5[TArgs any, TResp any](fn func(*gin.Context, *TArgs) (TResp, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		args := new(TArgs)
		if !bindAndValidate(ctx, args) {
			return
		}

		result, err := fn(ctx, args)
		if err != nil {
			renderError(ctx, err)
			return
		}

		renderResponse(ctx, result)
	}
}

// bindAndValidate 绑定参数并执行 IsValid 校验，失败时直接写出 400
func bindAndValidate(ctx *gin.Context, args any) bool {
	if err := bindArgs(ctx, args); err != nil {
		renderError(ctx, apierror.WrapError(apierror.ErrInvalidParameter, err.Error(), err))
		return false
	}

	if validator, ok := args.(interface{ IsValid() error }); ok {
		if err := validator.IsValid(); err != nil {
			renderError(ctx, err)
			return false
		}
	}
	return true
}
