// Package idgen 提供递增 ID 生成器
//
// 使用 Sonyflake 算法生成全局唯一且递增的 ID，特性：
//   - 全局唯一
//   - 时间有序（递增）
//   - 64 位整数
//
// 生成的节点 ID 格式为 node-{递增数字}，同时也用作 overlay 文件名、
// 远程控制台连接的标识和对外 API 的 key，因此只包含 [a-z0-9-]。
//
// 使用方式：
//
//	gen := idgen.New()
//	nodeID, err := gen.GenerateNodeID()
//	// nodeID: "node-1234567890"
package idgen
