// Package upgrader 实现连接升级流水线
//
// 原始字节流依次经过：
//
//	Handshake (Noise) → Validate (PeerValidator) → Multiplex (yamux) → Negotiate (身份交换)
//
// 每个阶段有独立超时，从调用方 ctx 派生。任一阶段失败都会释放已获取的资源
// （套接字、握手状态、多路复用会话），并返回 *PhaseError，其中 Err 是该层的原始错误值。
//
// QUIC 流与 TCP、WebSocket 连接一样经过完整流水线，身份始终由 Noise 静态公钥认证。
package upgrader
