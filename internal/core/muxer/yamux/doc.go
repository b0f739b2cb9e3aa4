// Package yamux 提供基于 hashicorp/yamux 的多路复用实现
//
// 升级流程：
//  1. 在加密连接上用 multistream-select 协商 /yamux/1.0.0
//  2. 发起方创建 yamux.Client，响应方创建 yamux.Server
//
// 错误分为三类：
//   - KindUpgrade: multistream 协商失败
//   - KindConnection: 会话创建失败
//   - KindControl: 会话建立后的控制面失败（如在关闭中的会话上打开流）
//
// Close 幂等，关闭后所有挂起和后续的流操作都失败。
package yamux
