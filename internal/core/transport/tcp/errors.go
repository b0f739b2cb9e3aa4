package tcp

import "errors"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("tcp transport closed")

	// ErrNotTCPAddress 不是 TCP 地址
	ErrNotTCPAddress = errors.New("not a tcp address")
)
