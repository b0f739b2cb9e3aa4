// Package websocket 提供基于 WebSocket 的传输层实现
//
// 地址格式：/ip4/<ip>/tcp/<port>/ws。
//
// 每个 WebSocket 连接以二进制消息承载字节流，通过 websocket.NetConn
// 适配为 net.Conn。仅支持明文 ws，加密由上层 Noise 握手提供。
package websocket
