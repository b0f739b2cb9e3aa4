// Package interfaces 定义 go-comms 的外部协作方接口
//
// 连接管理器只在这些接口边界上依赖外部组件：
//   - transport.go    - 可插拔传输层（TCP、QUIC、WebSocket）
//   - peermanager.go  - 节点目录与封禁列表
//   - eventbus.go     - 连接生命周期事件的发布订阅
package interfaces
