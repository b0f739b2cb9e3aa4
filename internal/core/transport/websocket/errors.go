package websocket

import "errors"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("websocket transport closed")

	// ErrListenerClosed 监听器已关闭
	ErrListenerClosed = errors.New("websocket listener closed")

	// ErrNotWSAddress 不是 WebSocket 地址
	ErrNotWSAddress = errors.New("not a ws address")
)
