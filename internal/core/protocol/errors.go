package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/multiformats/go-multistream"

	"github.com/dep2p/go-comms/pkg/types"
)

// ErrorKind 协商错误分类
type ErrorKind int

const (
	// KindProtocol 子流 I/O 或协议选择失败
	KindProtocol ErrorKind = iota + 1
	// KindIdentity 身份交换失败
	KindIdentity
	// KindTimeout 协商超时
	KindTimeout
)

// String 返回分类名称
func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindIdentity:
		return "identity"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error 协商错误，只携带字符串原因
type Error struct {
	Kind  ErrorKind
	Cause string
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol %s error: %s", e.Kind, e.Cause)
}

// 注册表错误
var (
	// ErrProtocolNotRegistered 协议未注册
	ErrProtocolNotRegistered = errors.New("protocol: protocol not registered")

	// ErrDuplicateProtocol 协议已注册
	ErrDuplicateProtocol = errors.New("protocol: protocol already registered")

	// ErrNilHandler 处理器为空
	ErrNilHandler = errors.New("protocol: nil handler")
)

// classify 把子流错误映射为协商错误
//
// ctx 超时或底层读写超时归为 KindTimeout，ctx 取消归为 KindProtocol。
func classify(ctx context.Context, op string, err error) *Error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Kind: KindProtocol, Cause: fmt.Sprintf("%s: cancelled", op)}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return &Error{Kind: KindTimeout, Cause: fmt.Sprintf("%s: timed out", op)}
	}

	var notSupported multistream.ErrNotSupported[types.ProtocolID]
	if errors.As(err, &notSupported) {
		return &Error{Kind: KindProtocol, Cause: fmt.Sprintf("%s: protocol not supported by peer", op)}
	}
	return &Error{Kind: KindProtocol, Cause: fmt.Sprintf("%s: %v", op, err)}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
