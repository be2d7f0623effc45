package entity

// BaseImage 基础镜像目录下的一个 qcow2 文件
type BaseImage struct {
	Name      string `json:"name"`      // 文件名，创建节点时使用
	Path      string `json:"path"`      // 绝对路径
	SizeBytes int64  `json:"sizeBytes"` // 文件大小
}
