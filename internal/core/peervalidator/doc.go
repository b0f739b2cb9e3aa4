// Package peervalidator 在认证之后、连接可用之前检查对端
//
// 检查顺序：
//  1. 节点 ID 由公钥派生
//  2. 不是本节点
//  3. 不在封禁表中（PeerBanned，致命）
//  4. 与目录记录一致（已知节点的公钥不能改变）
//
// Peer Manager 的错误以 *types.PeerManagerError 原样透传。
package peervalidator
