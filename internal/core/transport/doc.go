// Package transport 实现传输层注册表
//
// Registry 聚合多个具体传输（tcp、quic、websocket），按地址选择合适的
// 传输完成拨号和监听。Registry 本身实现 interfaces.Transport，
// 连接管理器只依赖这个接口。
//
// 子包：
//   - addrutil: multiaddr 解析辅助
//   - tcp: TCP 传输
//   - quic: QUIC 传输（单流）
//   - websocket: WebSocket 传输
package transport
