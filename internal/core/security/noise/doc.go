// Package noise 实现 Noise 协议安全传输
//
// # 协议
//
// 使用 Noise_XX_25519_ChaChaPoly_BLAKE2b 模式：
//   - XX: 三轮握手，双方相互认证
//   - 25519: Curve25519 用于 DH 密钥交换
//   - ChaChaPoly: ChaCha20-Poly1305 用于对称加密
//   - BLAKE2b: 用于 HKDF 密钥派生
//
// # 握手流程
//
//	-> e                              (发起者发送临时公钥)
//	<- e, ee, s, es                   (响应者发送临时公钥、静态公钥)
//	-> s, se                          (发起者发送静态公钥)
//
// Noise 静态公钥即节点身份，不需要额外的签名 payload。
// 每条握手消息和加密消息都以 2 字节大端长度前缀分帧。
//
// # 错误分类
//
//   - KindSnow: 底层 I/O、密码学原语失败、超时或取消
//   - KindHandshake: 握手消息序列或分帧错误
//   - ErrInvalidStaticKey: 对端未提供可用的静态公钥
//   - *PublicKeyMismatchError: 对端公钥与期望不符
//
// # 使用示例
//
//	tr := noise.New(id)
//
//	// 作为客户端连接（expected 可为 nil）
//	sc, err := tr.SecureOutbound(ctx, conn, &expectedKey)
//
//	// 作为服务器接受连接
//	sc, err := tr.SecureInbound(ctx, conn)
package noise
