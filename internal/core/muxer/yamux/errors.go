package yamux

import (
	"errors"
	"fmt"

	"github.com/hashicorp/yamux"
)

// ErrorKind 多路复用错误分类
type ErrorKind int

const (
	// KindConnection 会话建立失败
	KindConnection ErrorKind = iota + 1
	// KindUpgrade 多路复用协议协商失败
	KindUpgrade
	// KindControl 控制面失败
	KindControl
)

// String 返回分类名称
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindUpgrade:
		return "upgrade"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Error 多路复用错误，只携带字符串原因
type Error struct {
	Kind  ErrorKind
	Cause string
}

func (e *Error) Error() string {
	return fmt.Sprintf("yamux %s error: %s", e.Kind, e.Cause)
}

// ErrMuxerClosed 会话已关闭
var ErrMuxerClosed = errors.New("muxer closed")

func controlError(op string, err error) *Error {
	return &Error{Kind: KindControl, Cause: fmt.Sprintf("%s: %v", op, parseError(err))}
}

// parseError 把 yamux 的会话关闭错误统一为 ErrMuxerClosed
func parseError(err error) error {
	if errors.Is(err, yamux.ErrSessionShutdown) {
		return ErrMuxerClosed
	}
	return err
}
