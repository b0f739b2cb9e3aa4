// Package peermanager 提供内存中的节点目录与封禁表
//
// 实现 interfaces.PeerManager，不做持久化。连接管理器只读取封禁状态和目录记录，
// 写入由上层（CLI、应用）完成。
package peermanager
