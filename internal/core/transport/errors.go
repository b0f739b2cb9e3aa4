package transport

import "errors"

var (
	// ErrNoTransport 没有可用的传输
	ErrNoTransport = errors.New("no suitable transport for address")

	// ErrRegistryClosed 注册表已关闭
	ErrRegistryClosed = errors.New("transport registry closed")
)
