// Package qemuimg 封装 qemu-img 命令行工具的操作
//
// 节点的 overlay 磁盘都是以只读基础镜像为 backing file 的 qcow2 增量镜像，
// 该包提供：
//   - 从 backing file 创建增量镜像（CreateFromBackingFile）
//   - 从 qemu-img info 解析镜像格式（GetFormat）和 backing file（BackingFile）
//
// 所有操作都支持 context 超时控制。
//
// 示例：
//
//	client := qemuimg.New("")
//
//	// 等价于 qemu-img create -f qcow2 -F qcow2 -b base.qcow2 node-1.qcow2
//	err := client.CreateFromBackingFile(ctx, "qcow2", "qcow2",
//		"/var/lib/vlab/base_images/base.qcow2", "/var/lib/vlab/overlays/node-1.qcow2")
//
//	backing, err := client.BackingFile(ctx, "/var/lib/vlab/overlays/node-1.qcow2")
package qemuimg
