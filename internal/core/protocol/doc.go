// Package protocol 实现协议协商与子流分发
//
// # 核心功能
//
// 1. 身份交换 (Negotiator)
//   - 多路复用建立后立即在专用子流 /comms/identity/1.0 上交换 IdentityInfo
//   - 校验声明的身份与握手认证的身份一致
//
// 2. 子流协议选择
//   - 出站：SelectProtocol 使用 multistream-select 选择协议
//   - 入站：Registry.Handle 协商协议并调用注册的处理器
//
// 3. 系统协议
//   - Ping (/comms/ping/1.0) - 连通性检测和 RTT 测量
//   - Identity (/comms/identity/1.0) - 仅在连接建立时使用，不可注册
//
// # 错误分类
//
//   - KindProtocol: 子流 I/O 或协议选择失败
//   - KindIdentity: 身份交换消息错误
//   - KindTimeout: 协商超时
//
// # 快速开始
//
//	registry := protocol.NewRegistry()
//	registry.Register("/chat/1.0", func(s *protocol.Substream) {
//	    defer s.Close()
//	    // ...
//	})
package protocol
