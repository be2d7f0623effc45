// Package apierror 提供 vlab 所有 HTTP 接口统一使用的错误类型
//
// 错误响应格式：
//
//	{
//	    "errors": [
//	        {
//	            "code": "NodeNotFound",
//	            "message": "node node-1234 does not exist"
//	        }
//	    ],
//	    "requestID": "ea966190-f9aa-478e-9ede-0123456789ab"
//	}
//
// 使用示例：
//
//	// 包装预定义错误，保留错误码和 HTTP 状态码
//	err := apierror.WrapError(apierror.ErrNodeNotFound, "node node-1 does not exist", nil)
//
//	// 判断错误类型（按错误码比较）
//	if errors.Is(err, apierror.ErrNodeNotFound) {
//	    // ...
//	}
package apierror
