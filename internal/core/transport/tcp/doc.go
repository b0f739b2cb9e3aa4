// Package tcp 提供基于 TCP 的传输层实现
//
// 地址格式：/ip4/<ip>/tcp/<port> 或 /ip6/<ip>/tcp/<port>。
// TCP 传输只提供原始字节流，加密与多路复用由上层升级管道完成。
package tcp
