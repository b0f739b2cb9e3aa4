// Package lib 包含基础设施工具库
//
// 本目录包含与架构组件无关的通用工具库：
//
//   - log: 日志封装
//
// # 与 pkg/ 其他目录的关系
//
//   - interfaces/: 外部协作方接口（Transport、PeerManager）
//   - types/: 公共类型定义
//   - protocolids/: 协议 ID 常量
//   - lib/: 基础设施工具库（本目录）
package lib
