// Package identity 实现节点静态身份管理
//
// 节点身份是一对 Curve25519 静态密钥：
//   - 私钥用于 Noise XX 握手中的静态 DH
//   - 公钥即节点公开身份，NodeID 由公钥派生（BLAKE3 截断，Base58 编码）
//
// # 快速开始
//
//	id, _ := identity.Generate(rand.Reader)
//	fmt.Println(id.NodeID())
//
//	// 持久化
//	_ = identity.Save(id, "node.key")
//	id, _ = identity.Load("node.key")
package identity
