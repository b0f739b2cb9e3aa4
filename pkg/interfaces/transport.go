package interfaces

import (
	"context"
	"net"
)

// Transport 定义传输层接口
//
// Transport 只负责打开原始字节流，不做加密和分帧。
// 地址为 multiaddr 字符串，如 /ip4/127.0.0.1/tcp/7000。
type Transport interface {
	// Dial 拨号连接到指定地址
	//
	// ctx 的取消或截止时间必须中止拨号并释放已打开的资源。
	Dial(ctx context.Context, addr string) (net.Conn, error)

	// CanDial 检查是否支持拨号到指定地址
	CanDial(addr string) bool

	// Listen 在指定地址监听
	Listen(addr string) (Listener, error)

	// Name 返回传输名称（tcp、quic、ws）
	Name() string

	// Close 关闭传输
	Close() error
}

// Listener 定义监听器接口
type Listener interface {
	// Accept 接受新连接，监听器关闭后返回错误
	Accept() (net.Conn, error)

	// Close 关闭监听器
	Close() error

	// Addr 返回实际绑定的 multiaddr（端口 0 时为分配后的端口）
	Addr() string
}
