// Package types 定义 go-comms 的基础类型
//
// 本包不依赖任何内部包，供所有层共享：
//   - ids.go     - PublicKey、NodeID、PeerIdentity
//   - enums.go   - Direction、ConnState 连接状态机
//   - peer.go    - PeerRecord、BanEntry（Peer Manager 边界类型）
//   - events.go  - 连接生命周期事件
//   - errors.go  - 公共错误
package types
