// Package guacamole 是 Apache Guacamole REST API 的最小客户端
//
// 只覆盖节点生命周期需要的部分：
//   - POST   /api/tokens                                   表单登录换取 token
//   - GET    /api/session/data/{dataSource}/connections    列出连接
//   - POST   /api/session/data/{dataSource}/connections    创建 VNC 连接
//   - DELETE /api/session/data/{dataSource}/connections/{id}
//
// token 的有效期由网关控制，客户端不缓存 token，每个逻辑操作重新登录一次。
//
// 连接列表接口在不同版本里可能返回数组，也可能返回以 identifier 为 key 的对象，
// 两种格式都能解析。
package guacamole
