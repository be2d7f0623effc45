// Package ginx 提供 gin 框架的 handler 适配器，支持自动参数绑定和响应处理
//
// 请求体和响应体统一使用 JSON。错误如果是 *apierror.Error，
// 使用其中的 HTTP 状态码，并渲染为 apierror.ErrorResponse。
//
// 支持的 handler 函数签名：
//
//	// 有参数，有返回值，有 error
//	func(c *gin.Context, args *Args) (resp, error)
//
//	// 有参数，只有 error（成功时返回 204）
//	func(c *gin.Context, args *Args) error
//
//	// 无参数，有返回值，有 error
//	func(c *gin.Context) (resp, error)
//
// 参数结构体可以实现 IsValid() error 做额外校验，校验失败返回 400。
// 响应结构体可以实现 StatusCode() int 覆盖默认的 200。
//
// 使用示例：
//
//	router := gin.New()
//	router.Use(ginx.RequestID())
//
//	router.POST("/nodes", ginx.Adapt5(func(c *gin.Context, args *CreateNodeArgs) (*Node, error) {
//	    return &Node{...}, nil
//	}))
//
//	router.POST("/nodes/:id/delete", ginx.Adapt4(func(c *gin.Context, args *NodeIDArgs) error {
//	    return nil
//	}))
package ginx
