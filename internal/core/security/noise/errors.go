package noise

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-comms/pkg/types"
)

// ErrorKind Noise 错误分类
type ErrorKind int

const (
	// KindSnow 底层库、I/O 或密码学原语失败
	KindSnow ErrorKind = iota + 1
	// KindHandshake 握手协议序列失败
	KindHandshake
)

// String 返回分类名称
func (k ErrorKind) String() string {
	switch k {
	case KindSnow:
		return "snow"
	case KindHandshake:
		return "handshake"
	default:
		return "unknown"
	}
}

// Error Noise 握手错误
//
// 只携带字符串原因，不持有底层库的错误值。
type Error struct {
	Kind  ErrorKind
	Cause string
}

func (e *Error) Error() string {
	return fmt.Sprintf("noise %s error: %s", e.Kind, e.Cause)
}

var (
	// ErrInvalidStaticKey 对端静态公钥缺失或不可用
	ErrInvalidStaticKey = errors.New("noise: invalid remote static public key")

	// errEmptyFrame 握手阶段收到空帧
	errEmptyFrame = errors.New("empty handshake frame")
)

// PublicKeyMismatchError 对端公钥与期望不符
type PublicKeyMismatchError struct {
	Authenticated types.PublicKey
	Expected      types.PublicKey
}

func (e *PublicKeyMismatchError) Error() string {
	return fmt.Sprintf("noise: dialed public key mismatch: authenticated %s, expected %s",
		e.Authenticated, e.Expected)
}

func snowError(stage string, err error) *Error {
	return &Error{Kind: KindSnow, Cause: fmt.Sprintf("%s: %v", stage, err)}
}

func handshakeError(stage string, err error) *Error {
	return &Error{Kind: KindHandshake, Cause: fmt.Sprintf("%s: %v", stage, err)}
}
