// Package protocolids 定义 go-comms 使用的协议 ID。
//
// 所有模块在需要协议 ID 时引用本包中的常量，不在其他位置定义字面量。
//
// # 协议命名规范
//
//   - 系统协议: /comms/{name}/{version}
//     由连接管理器自身使用（身份交换等），应用不可注册。
//   - 应用协议: 任意以 "/" 开头、不使用系统前缀的字符串。
package protocolids
