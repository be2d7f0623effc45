package apierror

import "net/http"

// 节点生命周期相关的预定义错误
var (
	// ErrNodeNotFound 节点不存在
	ErrNodeNotFound = &Error{
		Code:       "NodeNotFound",
		Message:    "The specified node does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrInvalidParameter 请求参数缺失或非法
	ErrInvalidParameter = &Error{
		Code:       "InvalidParameter",
		Message:    "A required parameter is missing or invalid.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrBaseImageNotFound 基础镜像不存在
	ErrBaseImageNotFound = &Error{
		Code:       "BaseImageNotFound",
		Message:    "The specified base image does not exist.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrOverlayMissing 节点的 overlay 磁盘丢失（例如 wipe 过程中崩溃）
	ErrOverlayMissing = &Error{
		Code:       "OverlayMissing",
		Message:    "The overlay disk of the node is missing. Wipe the node to recreate it.",
		HTTPStatus: http.StatusConflict,
	}

	// ErrImageCreate qemu-img 创建 overlay 失败
	ErrImageCreate = &Error{
		Code:       "ImageCreateFailed",
		Message:    "Failed to create the overlay disk.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrSpawn 启动虚拟机进程失败
	ErrSpawn = &Error{
		Code:       "SpawnFailed",
		Message:    "Failed to start the hypervisor process.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrPortExhausted 控制台端口已耗尽
	ErrPortExhausted = &Error{
		Code:       "ConsolePortExhausted",
		Message:    "No free console port is available.",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	// ErrRegistration 远程控制台网关注册失败
	ErrRegistration = &Error{
		Code:       "GatewayRegistrationFailed",
		Message:    "Failed to register the node with the remote console gateway.",
		HTTPStatus: http.StatusBadGateway,
	}

	// ErrConsoleNotAvailable 节点没有可用的控制台连接
	ErrConsoleNotAvailable = &Error{
		Code:       "ConsoleNotAvailable",
		Message:    "No console connection is registered for this node.",
		HTTPStatus: http.StatusConflict,
	}

	// ErrStoreIO 状态存储读写失败
	ErrStoreIO = &Error{
		Code:       "StoreIOError",
		Message:    "Failed to read or write node state.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrInternalError 发生了内部错误
	ErrInternalError = &Error{
		Code:       "InternalError",
		Message:    "An internal error has occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
