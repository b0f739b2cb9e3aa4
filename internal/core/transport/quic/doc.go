// Package quic 提供基于 QUIC 的传输层实现
//
// 地址格式：/ip4/<ip>/udp/<port>/quic-v1。
//
// 每个 QUIC 连接只承载一条双向流，对上层表现为普通的 net.Conn。
// TLS 仅用于满足 QUIC 的要求，证书为自签名且不做校验；
// 节点认证由上层 Noise 握手完成。
package quic
